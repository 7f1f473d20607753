// Package socks5addr implements the SOCKS5 address encoding (RFC 1928
// section 5) shared by the SOCKS5 inbound/outbound, Trojan and VLESS, all
// of which embed a SOCKS5-shaped address in their request framing (spec
// section 4.3, 6).
package socks5addr

import (
	"bufio"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"strconv"
)

const (
	ATypIPv4   = 0x01
	ATypDomain = 0x03
	ATypIPv6   = 0x04
)

// Addr is a decoded SOCKS5 address: either Domain or IP is set.
type Addr struct {
	Domain string
	IP     netip.Addr
	Port   uint16
}

// Encode renders addr as the wire bytes [atyp|addr|port].
func Encode(addr Addr) ([]byte, error) {
	var buf []byte
	switch {
	case addr.Domain != "":
		if len(addr.Domain) > 255 {
			return nil, errors.New("socks5 domain too long")
		}
		buf = append(buf, ATypDomain, byte(len(addr.Domain)))
		buf = append(buf, addr.Domain...)
	case addr.IP.Is4():
		b := addr.IP.As4()
		buf = append(buf, ATypIPv4)
		buf = append(buf, b[:]...)
	case addr.IP.Is6():
		b := addr.IP.As16()
		buf = append(buf, ATypIPv6)
		buf = append(buf, b[:]...)
	default:
		return nil, errors.New("socks5 address has neither domain nor ip")
	}
	var port [2]byte
	binary.BigEndian.PutUint16(port[:], addr.Port)
	return append(buf, port[:]...), nil
}

// EncodeHostPort is the convenience form used by outbound dialers: it picks
// Domain vs IP automatically from the strings/metadata on hand.
func EncodeHostPort(host string, hasIP bool, ip netip.Addr, port uint16) ([]byte, error) {
	if hasIP {
		return Encode(Addr{IP: ip, Port: port})
	}
	return Encode(Addr{Domain: host, Port: port})
}

// Decode reads a SOCKS5 address from r, given the already-read atyp byte.
func Decode(r *bufio.Reader, atyp byte) (Addr, error) {
	switch atyp {
	case ATypIPv4:
		var b [4]byte
		if _, err := readFull(r, b[:]); err != nil {
			return Addr{}, err
		}
		port, err := readPort(r)
		if err != nil {
			return Addr{}, err
		}
		return Addr{IP: netip.AddrFrom4(b), Port: port}, nil
	case ATypIPv6:
		var b [16]byte
		if _, err := readFull(r, b[:]); err != nil {
			return Addr{}, err
		}
		port, err := readPort(r)
		if err != nil {
			return Addr{}, err
		}
		return Addr{IP: netip.AddrFrom16(b), Port: port}, nil
	case ATypDomain:
		l, err := r.ReadByte()
		if err != nil {
			return Addr{}, err
		}
		domain := make([]byte, l)
		if _, err := readFull(r, domain); err != nil {
			return Addr{}, err
		}
		port, err := readPort(r)
		if err != nil {
			return Addr{}, err
		}
		return Addr{Domain: string(domain), Port: port}, nil
	default:
		return Addr{}, errors.New("unknown socks5 address type")
	}
}

// DecodeFull reads atyp then the address, the symmetric counterpart of
// Encode — used by the round-trip invariant in spec section 8.
func DecodeFull(r *bufio.Reader) (Addr, error) {
	atyp, err := r.ReadByte()
	if err != nil {
		return Addr{}, err
	}
	return Decode(r, atyp)
}

func readPort(r *bufio.Reader) (uint16, error) {
	var b [2]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// HostPort renders the decoded address as "host:port" for net.Dial.
func (a Addr) HostPort() string {
	host := a.Domain
	if host == "" {
		host = a.IP.String()
	}
	return net.JoinHostPort(host, portString(a.Port))
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}
