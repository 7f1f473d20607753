package proxy

import (
	"bufio"
	"context"
	"io"
	"net"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/socks5addr"
)

// SOCKS5 is a standard RFC 1928/1929 client outbound.
type SOCKS5 struct {
	base
	Addr     string
	Username string
	Password string
}

func NewSOCKS5(name, addr, user, pass string) *SOCKS5 {
	s := &SOCKS5{Addr: addr, Username: user, Password: pass}
	s.name, s.kind = name, KindSOCKS5
	s.SetAlive(true)
	return s
}

func (s *SOCKS5) SupportsUDP() bool { return false }

func (s *SOCKS5) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	if err := socks5Handshake(conn, s.Username, s.Password, m); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *SOCKS5) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	return nil, errcat.DialErr.Newr(errcat.ReasonProtocol, "socks5 outbound UDP association not implemented")
}

// socks5Handshake performs method negotiation, optional user/pass auth and
// the CONNECT command, bit-exact with RFC 1928/1929.
func socks5Handshake(conn net.Conn, user, pass string, m *metadata.Metadata) error {
	methods := []byte{0x00}
	if user != "" {
		methods = []byte{0x02}
	}
	req := append([]byte{0x05, byte(len(methods))}, methods...)
	if _, err := conn.Write(req); err != nil {
		return errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	r := bufio.NewReader(conn)
	reply := make([]byte, 2)
	if _, err := io.ReadFull(r, reply); err != nil {
		return errcat.DialErr.Newr(errcat.ReasonProtocol, err)
	}
	if reply[0] != 0x05 {
		return errcat.DialErr.Newr(errcat.ReasonProtocol, "unexpected socks5 version")
	}
	switch reply[1] {
	case 0x00:
		// no auth
	case 0x02:
		if err := socks5UserPassAuth(conn, r, user, pass); err != nil {
			return err
		}
	default:
		return errcat.DialErr.Newr(errcat.ReasonAuth, "no acceptable socks5 auth method")
	}

	addr, err := socks5addr.EncodeHostPort(m.Host(), m.HasIP(), m.DestIP, m.DestPort)
	if err != nil {
		return errcat.DialErr.Newr(errcat.ReasonProtocol, err)
	}
	cmd := append([]byte{0x05, 0x01, 0x00}, addr...)
	if _, err := conn.Write(cmd); err != nil {
		return errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	return decodeSocks5Reply(r)
}

func socks5UserPassAuth(conn net.Conn, r *bufio.Reader, user, pass string) error {
	buf := []byte{0x01, byte(len(user))}
	buf = append(buf, user...)
	buf = append(buf, byte(len(pass)))
	buf = append(buf, pass...)
	if _, err := conn.Write(buf); err != nil {
		return errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	resp := make([]byte, 2)
	if _, err := io.ReadFull(r, resp); err != nil {
		return errcat.DialErr.Newr(errcat.ReasonProtocol, err)
	}
	if resp[1] != 0x00 {
		return errcat.DialErr.Newr(errcat.ReasonAuth, "socks5 user/pass auth rejected")
	}
	return nil
}

func decodeSocks5Reply(r *bufio.Reader) error {
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return errcat.DialErr.Newr(errcat.ReasonProtocol, err)
	}
	if head[1] != 0x00 {
		return errcat.DialErr.Newr(errcat.ReasonProtocol, "socks5 CONNECT rejected: "+socks5ReplyText(head[1]))
	}
	_, err := socks5addr.Decode(r, head[3])
	return err
}

func socks5ReplyText(code byte) string {
	switch code {
	case 0x01:
		return "general failure"
	case 0x02:
		return "connection not allowed"
	case 0x03:
		return "network unreachable"
	case 0x04:
		return "host unreachable"
	case 0x05:
		return "connection refused"
	case 0x06:
		return "ttl expired"
	case 0x07:
		return "command not supported"
	case 0x08:
		return "address type not supported"
	default:
		return "unknown"
	}
}
