package proxy

import (
	"context"
	"net"
	"time"

	"github.com/relaycore/relayd/pkg/metadata"
)

// Reject immediately closes TCP dials and blackholes UDP sends (spec 4.3).
type Reject struct{ base }

func NewReject(name string) *Reject {
	r := &Reject{}
	r.name, r.kind = name, KindReject
	r.SetAlive(true)
	return r
}

func (r *Reject) SupportsUDP() bool { return true }

func (r *Reject) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	c1, c2 := net.Pipe()
	_ = c2.Close()
	_ = c1.Close()
	return c1, nil
}

func (r *Reject) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	return &blackholePacketConn{closed: make(chan struct{})}, nil
}

// blackholePacketConn discards every WriteTo and blocks reads until Close.
type blackholePacketConn struct {
	closed chan struct{}
}

func (b *blackholePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	if b.closed == nil {
		b.closed = make(chan struct{})
	}
	<-b.closed
	return 0, nil, net.ErrClosed
}

func (b *blackholePacketConn) WriteTo(p []byte, addr net.Addr) (int, error) { return len(p), nil }

func (b *blackholePacketConn) Close() error {
	if b.closed != nil {
		select {
		case <-b.closed:
		default:
			close(b.closed)
		}
	}
	return nil
}

func (b *blackholePacketConn) LocalAddr() net.Addr                     { return &net.UDPAddr{} }
func (b *blackholePacketConn) SetDeadline(t time.Time) error           { return nil }
func (b *blackholePacketConn) SetReadDeadline(t time.Time) error       { return nil }
func (b *blackholePacketConn) SetWriteDeadline(t time.Time) error      { return nil }
