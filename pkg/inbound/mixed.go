package inbound

import (
	"bufio"
	"context"
	"net"

	"github.com/relaycore/relayd/pkg/metadata"
)

// MixedListener serves SOCKS5 and plain HTTP/CONNECT on the same port,
// sniffing the first byte of each accepted connection (spec section 4.2,
// 6: "sniff first byte — 0x05 -> SOCKS5, else HTTP").
type MixedListener struct {
	listener *listener
	socks    *SOCKS5Listener
	http     *HTTPListener
}

func NewMixedListener(handler Handler, username, password string) *MixedListener {
	m := &MixedListener{
		socks: NewSOCKS5Listener(handler),
		http:  NewHTTPListener(handler),
	}
	m.socks.Username = username
	m.socks.Password = password
	m.http.Username = username
	m.http.Password = password
	m.listener = newListener(metadata.InboundMixed, m.serve)
	return m
}

func (m *MixedListener) Start(ctx context.Context, addr string) error {
	return m.listener.Start(ctx, "tcp", addr)
}

func (m *MixedListener) Close() error { return m.listener.Close() }

// serve peeks the first byte without consuming it from the underlying
// socket, then hands a conn that replays the peeked buffer to whichever
// sub-listener's serve loop matches (socks5.go / http.go keep running
// their usual bufio.Reader on top of it).
func (m *MixedListener) serve(ctx context.Context, conn net.Conn) {
	br := bufio.NewReader(conn)
	first, err := br.Peek(1)
	if err != nil {
		conn.Close()
		return
	}
	bc := &bufferedConn{Conn: conn, r: br}
	if first[0] == 0x05 {
		m.socks.serve(ctx, bc)
		return
	}
	m.http.serve(ctx, bc)
}

// bufferedConn is a net.Conn whose Read is satisfied from a bufio.Reader
// that has already buffered (but not consumed past) the sniffed byte.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }
