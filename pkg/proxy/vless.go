package proxy

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/gofrs/uuid"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/socks5addr"
	"github.com/relaycore/relayd/pkg/tlspool"
)

// VLESS implements spec section 4.3's VLESS outbound: TLS (warm-pooled) to
// the server with SNI, then
// [ver=0 | uuid(16) | addon_len=0 | cmd | port | addr_type | addr], then raw
// payload with no further per-packet framing.
type VLESS struct {
	base
	Addr      string
	SNI       string
	id        uuid.UUID
	tlsConfig *tls.Config
	pool      *tlspool.Pool
}

const (
	vlessCmdTCP byte = 0x01
	vlessCmdUDP byte = 0x02
)

func NewVLESS(name, addr, sni, id string, alpn []string, pool *tlspool.Pool) (*VLESS, error) {
	u, err := uuid.FromString(id)
	if err != nil {
		return nil, errcat.ConfigErr.New(err)
	}
	v := &VLESS{
		Addr:      addr,
		SNI:       sni,
		id:        u,
		tlsConfig: &tls.Config{ServerName: sni, NextProtos: alpn, MinVersion: tls.VersionTLS12},
		pool:      pool,
	}
	v.name, v.kind = name, KindVLESS
	v.SetAlive(true)
	return v, nil
}

func (v *VLESS) SupportsUDP() bool { return true }

func (v *VLESS) poolKey() tlspool.Key {
	return tlspool.Key{ServerName: v.SNI, Port: portOf(v.Addr), ALPN: joinALPN(v.tlsConfig.NextProtos)}
}

func (v *VLESS) tlsDial(ctx context.Context) (*tls.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", v.Addr)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	tlsConn := tls.Client(conn, v.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonTLS, err)
	}
	return tlsConn, nil
}

func (v *VLESS) acquireConn(ctx context.Context) (*tls.Conn, error) {
	if v.pool != nil {
		if c := v.pool.Acquire(v.poolKey()); c != nil {
			return c, nil
		}
	}
	return v.tlsDial(ctx)
}

func (v *VLESS) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	conn, err := v.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.sendRequest(conn, vlessCmdTCP, m); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &vlessConn{Conn: conn, pool: v.pool, key: v.poolKey(), respPending: true}, nil
}

func (v *VLESS) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	conn, err := v.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.sendRequest(conn, vlessCmdUDP, m); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return newVlessPacketConn(conn), nil
}

// sendRequest writes the VLESS request header: ver, uuid, addon length (we
// never send addons), cmd, port, address.
func (v *VLESS) sendRequest(conn net.Conn, cmd byte, m *metadata.Metadata) error {
	req := make([]byte, 0, 1+16+1+1+2+1+64)
	req = append(req, 0x00) // version
	req = append(req, v.id.Bytes()...)
	req = append(req, 0x00) // addon length
	req = append(req, cmd)
	req = append(req, byte(m.DestPort>>8), byte(m.DestPort))
	atyp, addrBody, err := vlessEncodeAddr(m)
	if err != nil {
		return errcat.DialErr.Newr(errcat.ReasonProtocol, err)
	}
	req = append(req, atyp)
	req = append(req, addrBody...)
	if _, err := conn.Write(req); err != nil {
		return errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	return nil
}

// vlessEncodeAddr reuses socks5addr's host/port encoder and strips its
// leading ATYP byte, since VLESS places ATYP before the address body rather
// than folding it into the same three-type enum SOCKS5 uses (VLESS has no
// "domain" vs "fqdn" distinction beyond SOCKS5's own).
func vlessEncodeAddr(m *metadata.Metadata) (byte, []byte, error) {
	full, err := socks5addr.EncodeHostPort(m.Host(), m.HasIP(), m.DestIP, m.DestPort)
	if err != nil {
		return 0, nil, err
	}
	// full is [atyp|addr...|port(2)]; strip atyp prefix and trailing port.
	return full[0], full[1 : len(full)-2], nil
}

// vlessConn discards the one-byte version + addon-length response header on
// the first read, then behaves as a plain stream, returning to the warm
// pool on Close like trojanConn.
type vlessConn struct {
	net.Conn
	pool        *tlspool.Pool
	key         tlspool.Key
	respPending bool
	sawErr      bool
}

func (c *vlessConn) Read(p []byte) (int, error) {
	if c.respPending {
		hdr := make([]byte, 2)
		if _, err := readFullConn(c.Conn, hdr); err != nil {
			c.sawErr = true
			return 0, err
		}
		addonLen := int(hdr[1])
		if addonLen > 0 {
			if _, err := readFullConn(c.Conn, make([]byte, addonLen)); err != nil {
				c.sawErr = true
				return 0, err
			}
		}
		c.respPending = false
	}
	n, err := c.Conn.Read(p)
	if err != nil {
		c.sawErr = true
	}
	return n, err
}

func (c *vlessConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if err != nil {
		c.sawErr = true
	}
	return n, err
}

func (c *vlessConn) Close() error {
	if tlsConn, ok := c.Conn.(*tls.Conn); ok && c.pool != nil && !c.respPending {
		c.pool.Release(c.key, tlsConn, c.sawErr)
		return nil
	}
	return c.Conn.Close()
}

func readFullConn(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
