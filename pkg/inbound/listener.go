// Package inbound implements the HTTP, HTTP-CONNECT, SOCKS5 and Mixed
// listeners from spec section 4.2, each decoding its protocol into a
// metadata.Metadata and handing the accepted stream to a Handler.
package inbound

import (
	"context"
	"net"

	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/registry"
	"github.com/relaycore/relayd/pkg/relog"
)

// Dialed is the outcome of matching + resolving + dialing an outbound,
// handed back to a listener before it writes its own protocol response
// (HTTP CONNECT's "200"/"502", SOCKS5's reply code).
type Dialed struct {
	Conn      net.Conn
	RuleKind  string
	ProxyName string
	Chain     []string
}

// DialedUDP is Dialed's counterpart for a UDP association.
type DialedUDP struct {
	PacketConn net.PacketConn
	RuleKind   string
	ProxyName  string
	Chain      []string
}

// Handler is satisfied by *tunnel.Tunnel; kept as an interface here so
// inbound never imports tunnel and the two packages stay acyclic.
type Handler interface {
	Dial(ctx context.Context, meta *metadata.Metadata) (*Dialed, error)
	Serve(ctx context.Context, conn net.Conn, meta *metadata.Metadata, d *Dialed) error

	DialUDP(ctx context.Context, meta *metadata.Metadata) (*DialedUDP, error)
	EnrollUDP(meta *metadata.Metadata, ruleKind string, chain []string, closeHandle func()) *registry.Connection
	RemoveConn(id string)
}

// listener is the accept-loop scaffold every protocol-specific listener in
// this package embeds, mirroring the teacher's listener/acceptLoop split.
// serveConn owns the whole per-protocol lifecycle (decode, reply, dial,
// relay) since each protocol writes a different handshake response
// depending on the dial outcome.
type listener struct {
	kind      metadata.InboundKind
	listener  net.Listener
	serveConn func(ctx context.Context, conn net.Conn)
}

func newListener(kind metadata.InboundKind, serveConn func(context.Context, net.Conn)) *listener {
	return &listener{kind: kind, serveConn: serveConn}
}

// Start binds addr and begins accepting. It returns once the listener is
// bound; the accept loop runs in the background until ctx is canceled.
func (l *listener) Start(ctx context.Context, network, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return err
	}
	l.listener = ln
	go l.acceptLoop(ctx)
	relog.Infof(ctx, "inbound: %s listening on %s", l.kind, ln.Addr())
	return nil
}

func (l *listener) Close() error {
	if l.listener == nil {
		return nil
	}
	return l.listener.Close()
}

func (l *listener) acceptLoop(ctx context.Context) {
	defer l.Close()
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			relog.Warnf(ctx, "inbound: %s accept failed: %v", l.kind, err)
			return
		}
		go l.serveConn(ctx, conn)
	}
}
