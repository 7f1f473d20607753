package proxy

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"time"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/proxy/shadowsocks"
	"github.com/relaycore/relayd/pkg/socks5addr"
)

// Shadowsocks is the AEAD Shadowsocks outbound from spec section 4.3.
type Shadowsocks struct {
	base
	Addr      string
	Method    shadowsocks.Method
	masterKey []byte
	udpConn   func(ctx context.Context, addr string) (net.Conn, error)
}

func NewShadowsocks(name, addr, password string, method shadowsocks.Method) *Shadowsocks {
	s := &Shadowsocks{
		Addr:      addr,
		Method:    method,
		masterKey: shadowsocks.DeriveKey(method, password),
	}
	s.name, s.kind = name, KindShadowsocks
	s.SetAlive(true)
	return s
}

func (s *Shadowsocks) SupportsUDP() bool { return true }

func (s *Shadowsocks) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	addrBytes, err := socks5addr.EncodeHostPort(m.Host(), m.HasIP(), m.DestIP, m.DestPort)
	if err != nil {
		_ = conn.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonProtocol, err)
	}
	ssConn := shadowsocks.NewConn(conn, s.Method, s.masterKey)
	if _, err := ssConn.Write(addrBytes); err != nil {
		_ = conn.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	return ssConn, nil
}

func (s *Shadowsocks) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", s.Addr)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonDNS, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	addrBytes, err := socks5addr.EncodeHostPort(m.Host(), m.HasIP(), m.DestIP, m.DestPort)
	if err != nil {
		_ = conn.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonProtocol, err)
	}
	return &ssPacketConn{conn: conn, method: s.Method, key: s.masterKey, header: addrBytes}, nil
}

// ssPacketConn frames every outgoing datagram as [header|payload] before
// AEAD-sealing it with a fresh salt, and decrypts/strips the header on
// read, per spec section 4.3's UDP framing.
type ssPacketConn struct {
	conn   *net.UDPConn
	method shadowsocks.Method
	key    []byte
	header []byte
}

func (p *ssPacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	buf := make([]byte, 64*1024)
	n, addr, err := p.conn.ReadFrom(buf)
	if err != nil {
		return 0, addr, err
	}
	plain, err := shadowsocks.DecodePacket(p.method, p.key, buf[:n])
	if err != nil {
		return 0, addr, err
	}
	// strip the echoed SOCKS5 address header that the server prefixes per
	// the Shadowsocks UDP relay convention, returning only the payload.
	payload, err := stripSocks5Header(plain)
	if err != nil {
		return 0, addr, err
	}
	n = copy(b, payload)
	return n, addr, nil
}

// stripSocks5Header decodes and discards the leading SOCKS5-shaped address
// a Shadowsocks server prefixes to every relayed UDP datagram, returning
// only the payload that follows it.
func stripSocks5Header(plain []byte) ([]byte, error) {
	// Size the buffer to hold all of plain so the first Read fills it in
	// one shot; Buffered() then tells us exactly how much of plain the
	// address decode consumed.
	r := bufio.NewReaderSize(bytes.NewReader(plain), len(plain))
	if _, err := socks5addr.DecodeFull(r); err != nil {
		return nil, err
	}
	return plain[len(plain)-r.Buffered():], nil
}

func (p *ssPacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	payload := append(append([]byte{}, p.header...), b...)
	enc, err := shadowsocks.EncodePacket(p.method, p.key, payload)
	if err != nil {
		return 0, err
	}
	if _, err := p.conn.Write(enc); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *ssPacketConn) Close() error                       { return p.conn.Close() }
func (p *ssPacketConn) LocalAddr() net.Addr                { return p.conn.LocalAddr() }
func (p *ssPacketConn) SetDeadline(t time.Time) error       { return p.conn.SetDeadline(t) }
func (p *ssPacketConn) SetReadDeadline(t time.Time) error   { return p.conn.SetReadDeadline(t) }
func (p *ssPacketConn) SetWriteDeadline(t time.Time) error  { return p.conn.SetWriteDeadline(t) }
