package proxy

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"net"
	"strconv"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/socks5addr"
	"github.com/relaycore/relayd/pkg/tlspool"
)

// Trojan implements spec section 4.3's Trojan outbound: TLS (warm-pooled)
// to the server with SNI, then hex(sha224(password)) | CRLF | cmd |
// SOCKS5-addr | CRLF, then raw payload.
type Trojan struct {
	base
	Addr       string
	SNI        string
	passwordHex string
	tlsConfig  *tls.Config
	pool       *tlspool.Pool
}

func NewTrojan(name, addr, sni, password string, alpn []string, pool *tlspool.Pool) *Trojan {
	sum := sha256_224Hex(password)
	t := &Trojan{
		Addr:        addr,
		SNI:         sni,
		passwordHex: sum,
		tlsConfig:   &tls.Config{ServerName: sni, NextProtos: alpn, MinVersion: tls.VersionTLS12},
		pool:        pool,
	}
	t.name, t.kind = name, KindTrojan
	t.SetAlive(true)
	return t
}

// sha256_224Hex returns the hex-encoded SHA-224 digest of s, computed with
// crypto/sha256's Sum224.
func sha256_224Hex(s string) string {
	sum := sha256.Sum224([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (t *Trojan) SupportsUDP() bool { return true }

func (t *Trojan) poolKey() tlspool.Key {
	return tlspool.Key{ServerName: t.SNI, Port: portOf(t.Addr), ALPN: joinALPN(t.tlsConfig.NextProtos)}
}

func (t *Trojan) tlsDial(ctx context.Context) (*tls.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	tlsConn := tls.Client(conn, t.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonTLS, err)
	}
	return tlsConn, nil
}

func (t *Trojan) acquireConn(ctx context.Context) (*tls.Conn, error) {
	if t.pool != nil {
		if c := t.pool.Acquire(t.poolKey()); c != nil {
			return c, nil
		}
	}
	return t.tlsDial(ctx)
}

func (t *Trojan) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	conn, err := t.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.sendRequest(conn, 0x01, m); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &trojanConn{Conn: conn, pool: t.pool, key: t.poolKey()}, nil
}

func (t *Trojan) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	conn, err := t.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.sendRequest(conn, 0x03, m); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return newTrojanPacketConn(conn), nil
}

func (t *Trojan) sendRequest(conn net.Conn, cmd byte, m *metadata.Metadata) error {
	addr, err := socks5addr.EncodeHostPort(m.Host(), m.HasIP(), m.DestIP, m.DestPort)
	if err != nil {
		return errcat.DialErr.Newr(errcat.ReasonProtocol, err)
	}
	req := []byte(t.passwordHex)
	req = append(req, '\r', '\n')
	req = append(req, cmd)
	req = append(req, addr...)
	req = append(req, '\r', '\n')
	if _, err := conn.Write(req); err != nil {
		return errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	return nil
}

// trojanConn returns its underlying TLS stream to the warm pool on Close
// instead of tearing down the handshake, provided no read/write error was
// observed (spec section 4.4 health-on-release policy).
type trojanConn struct {
	net.Conn
	pool   *tlspool.Pool
	key    tlspool.Key
	sawErr bool
}

func (c *trojanConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.sawErr = true
	}
	return n, err
}

func (c *trojanConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if err != nil {
		c.sawErr = true
	}
	return n, err
}

func (c *trojanConn) Close() error {
	if tlsConn, ok := c.Conn.(*tls.Conn); ok && c.pool != nil {
		c.pool.Release(c.key, tlsConn, c.sawErr)
		return nil
	}
	return c.Conn.Close()
}

func joinALPN(protos []string) string {
	s := ""
	for i, p := range protos {
		if i > 0 {
			s += ","
		}
		s += p
	}
	return s
}

func portOf(addr string) uint16 {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return uint16(p)
}
