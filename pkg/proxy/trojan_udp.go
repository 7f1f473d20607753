package proxy

import (
	"bufio"
	"encoding/binary"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/relaycore/relayd/pkg/socks5addr"
)

// trojanPacketConn frames each datagram as [SOCKS5-addr|2-byte length|CRLF|
// payload] over the single Trojan TLS stream, per the protocol's UDP
// associate convention.
type trojanPacketConn struct {
	net.Conn
	r *bufio.Reader
}

func newTrojanPacketConn(conn net.Conn) *trojanPacketConn {
	return &trojanPacketConn{Conn: conn, r: bufio.NewReader(conn)}
}

func (p *trojanPacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	host, port := hostPortOf(addr)
	ip, ipErr := netip.ParseAddr(host)
	encAddr, err := socks5addr.EncodeHostPort(host, ipErr == nil, ip, port)
	if err != nil {
		return 0, err
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	frame := append(append(append([]byte{}, encAddr...), lenBuf[:]...), '\r', '\n')
	frame = append(frame, b...)
	if _, err := p.Conn.Write(frame); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *trojanPacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	addr, err := socks5addr.DecodeFull(p.r)
	if err != nil {
		return 0, nil, err
	}
	var lenBuf [2]byte
	if _, err := readFullReader(p.r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	// CRLF
	if _, err := readFullReader(p.r, make([]byte, 2)); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, size)
	if _, err := readFullReader(p.r, buf); err != nil {
		return 0, nil, err
	}
	n := copy(b, buf)
	return n, &net.UDPAddr{IP: net.ParseIP(addr.IP.String()), Port: int(addr.Port)}, nil
}

func (p *trojanPacketConn) SetDeadline(t time.Time) error      { return p.Conn.SetDeadline(t) }
func (p *trojanPacketConn) SetReadDeadline(t time.Time) error  { return p.Conn.SetReadDeadline(t) }
func (p *trojanPacketConn) SetWriteDeadline(t time.Time) error { return p.Conn.SetWriteDeadline(t) }

func readFullReader(r *bufio.Reader, buf []byte) (int, error) {
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

func hostPortOf(addr net.Addr) (string, uint16) {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.IP.String(), uint16(u.Port)
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, uint16(p)
}

