package proxy

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/socks5addr"
)

// Hysteria2 implements spec section 4.3's Hysteria2 outbound: a single QUIC
// connection per proxy entry (opened lazily and kept alive), authenticated
// once with the configured password, with every subsequent TCP dial
// opening a new QUIC stream and every UDP packet carried as a QUIC
// datagram prefixed with its SOCKS5-encoded destination (no session ID).
type Hysteria2 struct {
	base
	Addr      string
	password  string
	tlsConfig *tls.Config

	mu   sync.Mutex
	conn quic.Connection
}

func NewHysteria2(name, addr, password, sni string, insecureSkipVerify bool) *Hysteria2 {
	h := &Hysteria2{
		Addr:     addr,
		password: password,
		tlsConfig: &tls.Config{
			ServerName:         sni,
			NextProtos:         []string{"h3"},
			InsecureSkipVerify: insecureSkipVerify,
			MinVersion:         tls.VersionTLS13,
		},
	}
	h.name, h.kind = name, KindHysteria2
	h.SetAlive(true)
	return h
}

func (h *Hysteria2) SupportsUDP() bool { return true }

func (h *Hysteria2) quicConn(ctx context.Context) (quic.Connection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		select {
		case <-h.conn.Context().Done():
			h.conn = nil
		default:
			return h.conn, nil
		}
	}
	qconf := &quic.Config{
		EnableDatagrams:      true,
		MaxIdleTimeout:       60 * time.Second,
		KeepAlivePeriod:      10 * time.Second,
		HandshakeIdleTimeout: 10 * time.Second,
	}
	conn, err := quic.DialAddr(ctx, h.Addr, h.tlsConfig, qconf)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonTLS, err)
	}
	if err := h.authenticate(ctx, conn); err != nil {
		_ = conn.CloseWithError(0, "auth failed")
		return nil, err
	}
	h.conn = conn
	return conn, nil
}

// authenticate opens the control stream and sends a length-prefixed
// password frame, per Hysteria2's salamander-free auth handshake; the
// server replies with a single status byte (0x00 == ok).
func (h *Hysteria2) authenticate(ctx context.Context, conn quic.Connection) error {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	defer stream.Close()

	frame := make([]byte, 0, 2+len(h.password))
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(h.password)))
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, h.password...)
	if _, err := stream.Write(frame); err != nil {
		return errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	var status [1]byte
	if _, err := readFullReader2(stream, status[:]); err != nil {
		return errcat.DialErr.Newr(errcat.ReasonAuth, err)
	}
	if status[0] != 0x00 {
		return errcat.DialErr.Newr(errcat.ReasonAuth, errAuthRejected)
	}
	return nil
}

var errAuthRejected = &authError{}

type authError struct{}

func (*authError) Error() string { return "hysteria2: server rejected authentication" }

func (h *Hysteria2) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	conn, err := h.quicConn(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	addr, err := socks5addr.EncodeHostPort(m.Host(), m.HasIP(), m.DestIP, m.DestPort)
	if err != nil {
		_ = stream.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonProtocol, err)
	}
	if _, err := stream.Write(addr); err != nil {
		_ = stream.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	return &quicStreamConn{Stream: stream, local: conn.LocalAddr(), remote: conn.RemoteAddr()}, nil
}

func (h *Hysteria2) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	conn, err := h.quicConn(ctx)
	if err != nil {
		return nil, err
	}
	addr, err := socks5addr.EncodeHostPort(m.Host(), m.HasIP(), m.DestIP, m.DestPort)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonProtocol, err)
	}
	return &hysteria2PacketConn{conn: conn, header: addr}, nil
}

// quicStreamConn adapts a quic.Stream to net.Conn for the TCP relay path.
type quicStreamConn struct {
	quic.Stream
	local, remote net.Addr
}

func (c *quicStreamConn) LocalAddr() net.Addr  { return c.local }
func (c *quicStreamConn) RemoteAddr() net.Addr { return c.remote }

// hysteria2PacketConn frames each datagram as [SOCKS5 addr|payload], with
// no length prefix, over the QUIC connection's unreliable datagram channel.
type hysteria2PacketConn struct {
	conn   quic.Connection
	header []byte
}

func (p *hysteria2PacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	frame := append(append([]byte{}, p.header...), b...)
	if err := p.conn.SendDatagram(frame); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *hysteria2PacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	msg, err := p.conn.ReceiveDatagram(context.Background())
	if err != nil {
		return 0, nil, err
	}
	if len(msg) < len(p.header) {
		return 0, nil, errShortDatagram
	}
	n := copy(b, msg[len(p.header):])
	return n, p.conn.RemoteAddr(), nil
}

var errShortDatagram = errors.New("hysteria2: datagram shorter than its address header")

func (p *hysteria2PacketConn) Close() error                       { return nil }
func (p *hysteria2PacketConn) LocalAddr() net.Addr                { return p.conn.LocalAddr() }
func (p *hysteria2PacketConn) SetDeadline(t time.Time) error      { return nil }
func (p *hysteria2PacketConn) SetReadDeadline(t time.Time) error  { return nil }
func (p *hysteria2PacketConn) SetWriteDeadline(t time.Time) error { return nil }

func readFullReader2(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
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
