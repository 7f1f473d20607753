package proxy

import (
	"context"
	"net"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
)

// GoFallback dials a sidecar process's local HTTP CONNECT port (spec
// section 4.3). The proxy value itself only holds the endpoint; the
// process's lifecycle belongs to a sibling *sidecar.Manager (spawn,
// health-probe, restart-with-backoff), never to this struct.
type GoFallback struct {
	base
	httpClient *HTTPProxy
}

// NewGoFallback wraps the sidecar's loopback CONNECT endpoint as a regular
// HTTP-CONNECT outbound; everything about dialing through it is identical
// to a normal HTTP proxy outbound once the sidecar is up.
func NewGoFallback(name string, localEndpoint string) *GoFallback {
	g := &GoFallback{httpClient: NewHTTPProxy(name, localEndpoint, "", "", nil)}
	g.name, g.kind = name, KindGoFallback
	return g
}

func (g *GoFallback) SupportsUDP() bool { return false }

func (g *GoFallback) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	if !g.Alive() {
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, "gofallback sidecar not ready")
	}
	return g.httpClient.DialTCP(ctx, m)
}

func (g *GoFallback) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	return nil, errcat.DialErr.Newr(errcat.ReasonProtocol, "gofallback does not support UDP")
}
