// Package tunnel implements the routing pipeline from spec section 4
// (steps 1–7): rule match, group resolution, dial, full-duplex relay with
// accounting, and registry enrolment/removal.
package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/group"
	"github.com/relaycore/relayd/pkg/inbound"
	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/proxy"
	"github.com/relaycore/relayd/pkg/registry"
	"github.com/relaycore/relayd/pkg/relog"
	"github.com/relaycore/relayd/pkg/rule"
)

const (
	defaultRelayBuffer = 32 * 1024
	dialDeadline       = 10 * time.Second
	closeGrace         = 2 * time.Second
	tcpIdleTimeout     = 30 * time.Minute
	udpIdleTimeout     = 60 * time.Second
)

// Outbounds is the snapshot the tunnel dials against: concrete proxies and
// groups, both addressed by name (spec section 4, step 3). It is a
// copy-on-write pointer a config reload replaces wholesale.
type Outbounds struct {
	Proxies map[string]proxy.Proxy
	Groups  map[string]group.Group
}

// lookup resolves name to a dialable group.Member, concrete proxies taking
// priority over groups of the same name.
func (o *Outbounds) lookup(name string) (group.Member, bool) {
	if p, ok := o.Proxies[name]; ok {
		return p, true
	}
	if g, ok := o.Groups[name]; ok {
		return g, true
	}
	return nil, false
}

// Tunnel wires one compiled rule engine and one outbound snapshot to the
// connection registry, and drives every inbound stream/packet through the
// pipeline described in spec section 4.
type Tunnel struct {
	Engine    *rule.Engine
	Outbounds *Outbounds
	Registry  *registry.Registry

	RelayBufferSize int
}

func New(engine *rule.Engine, outbounds *Outbounds, reg *registry.Registry) *Tunnel {
	return &Tunnel{Engine: engine, Outbounds: outbounds, Registry: reg, RelayBufferSize: defaultRelayBuffer}
}

// ErrNoOutbound is returned (and the connection closed) when a rule names
// neither a concrete proxy nor a group (spec section 4, step 3).
var ErrNoOutbound = errors.New("no_outbound_for_rule")

// Dial runs steps 1–5 of the pipeline (match, resolve, dial) without
// touching the inbound connection, so a listener can decide what to write
// back to the client before any bytes are relayed.
func (t *Tunnel) Dial(ctx context.Context, meta *metadata.Metadata) (*inbound.Dialed, error) {
	cfg, target := t.Engine.Match(meta)

	member, ok := t.Outbounds.lookup(target)
	if !ok {
		return nil, errcat.RuleErr.New(ErrNoOutbound)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialDeadline)
	defer cancel()
	concrete, err := group.Resolve(dialCtx, member, meta)
	if err != nil {
		return nil, errcat.RuleErr.New(err)
	}

	chain := []string{target}
	if concrete.Name() != target {
		chain = append(chain, concrete.Name())
	}

	outbound, err := concrete.DialTCP(dialCtx, meta)
	if err != nil {
		relog.Warnf(ctx, "tunnel: dial %s via %s failed: %v", meta.RemoteAddress(), concrete.Name(), err)
		return nil, err
	}
	return &inbound.Dialed{Conn: outbound, RuleKind: string(cfg.Kind), ProxyName: concrete.Name(), Chain: chain}, nil
}

// Serve enrolls the connection and runs the full-duplex relay until either
// side closes, then removes it from the registry. The caller owns writing
// any protocol handshake response before calling Serve.
func (t *Tunnel) Serve(ctx context.Context, conn net.Conn, meta *metadata.Metadata, d *inbound.Dialed) error {
	defer conn.Close()
	defer d.Conn.Close()

	var closeOnce sync.Once
	reg := t.Registry.Enroll(meta, meta.InboundKind, d.RuleKind, d.Chain, func() {
		closeOnce.Do(func() {
			_ = conn.Close()
			_ = d.Conn.Close()
		})
	})
	defer t.Registry.Remove(reg.ID)

	return t.relay(ctx, reg, conn, d.Conn)
}

// HandleStream is the convenience path for listeners that have no protocol
// response of their own to write (e.g. transparent/TUN inbounds): dial
// then relay in one call.
func (t *Tunnel) HandleStream(ctx context.Context, conn net.Conn, meta *metadata.Metadata) error {
	d, err := t.Dial(ctx, meta)
	if err != nil {
		conn.Close()
		return err
	}
	return t.Serve(ctx, conn, meta, d)
}

// DialUDP runs the same match/resolve/dial pipeline as Dial but for a UDP
// association (spec section 4.2's SOCKS5 UDP ASSOCIATE, section 4.7's
// per-destination outbound binding).
func (t *Tunnel) DialUDP(ctx context.Context, meta *metadata.Metadata) (*inbound.DialedUDP, error) {
	cfg, target := t.Engine.Match(meta)

	member, ok := t.Outbounds.lookup(target)
	if !ok {
		return nil, errcat.RuleErr.New(ErrNoOutbound)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialDeadline)
	defer cancel()
	concrete, err := group.Resolve(dialCtx, member, meta)
	if err != nil {
		return nil, errcat.RuleErr.New(err)
	}

	chain := []string{target}
	if concrete.Name() != target {
		chain = append(chain, concrete.Name())
	}

	pc, err := concrete.DialUDP(dialCtx, meta)
	if err != nil {
		relog.Warnf(ctx, "tunnel: udp dial %s via %s failed: %v", meta.RemoteAddress(), concrete.Name(), err)
		return nil, err
	}
	return &inbound.DialedUDP{PacketConn: pc, RuleKind: string(cfg.Kind), ProxyName: concrete.Name(), Chain: chain}, nil
}

// EnrollUDP registers one UDP association with the registry so it shows up
// in the control plane's /connections view and can be killed the same way
// a TCP connection can.
func (t *Tunnel) EnrollUDP(meta *metadata.Metadata, ruleKind string, chain []string, closeHandle func()) *registry.Connection {
	return t.Registry.Enroll(meta, meta.InboundKind, ruleKind, chain, closeHandle)
}

// RemoveConn unregisters a Connection previously returned by EnrollUDP.
func (t *Tunnel) RemoveConn(id string) {
	t.Registry.Remove(id)
}

// relay performs the full-duplex copy (spec section 4, step 6–7): a small
// ring buffer per direction, byte counts published on the Connection
// record, half-close propagation, and a bounded grace drain before the
// caller removes the registry entry.
func (t *Tunnel) relay(ctx context.Context, conn *registry.Connection, a, b net.Conn) error {
	bufSize := t.RelayBufferSize
	if bufSize <= 0 {
		bufSize = defaultRelayBuffer
	}

	done := make(chan error, 2)
	go t.copyDirection(a, b, bufSize, conn.AddDownloaded, done)
	go t.copyDirection(b, a, bufSize, conn.AddUploaded, done)

	var firstErr error
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if i == 0 {
				firstErr = err
				// half-close the opposite write side, then bound the
				// drain of whatever the other direction still has in
				// flight (spec section 4, step 7).
				if cw, ok := a.(interface{ CloseWrite() error }); ok {
					_ = cw.CloseWrite()
				}
				if cw, ok := b.(interface{ CloseWrite() error }); ok {
					_ = cw.CloseWrite()
				}
				select {
				case <-done:
				case <-time.After(closeGrace):
				case <-ctx.Done():
				}
				return firstErr
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return firstErr
}

func (t *Tunnel) copyDirection(dst, src net.Conn, bufSize int, account func(int64), done chan<- error) {
	buf := make([]byte, bufSize)
	for {
		_ = src.SetReadDeadline(time.Now().Add(tcpIdleTimeout))
		n, err := src.Read(buf)
		if n > 0 {
			account(int64(n))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				done <- werr
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				done <- nil
			} else {
				done <- err
			}
			return
		}
	}
}
