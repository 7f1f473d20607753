package group

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/proxy"
	"github.com/relaycore/relayd/pkg/relog"
)

// DefaultHealthCheckInterval matches URLTest's default cadence; Fallback
// reassesses aliveness "on each scheduled health-check and on dial error"
// (spec section 4.5).
const DefaultHealthCheckInterval = 300 * time.Second

// Fallback picks the first alive member in declaration order; aliveness
// is reassessed on schedule and whenever a dial through the current
// member fails.
type Fallback struct {
	base
	Interval time.Duration

	stop chan struct{}
	once sync.Once
}

func NewFallback(name string, members []Member, interval time.Duration) *Fallback {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	f := &Fallback{
		base:     base{name: name, kind: proxy.Kind("fallback"), members: members},
		Interval: interval,
		stop:     make(chan struct{}),
	}
	// Seed current to the first member the same way URLTest does, rather
	// than blocking the constructor on a real health probe; Run's first
	// scheduled tick (or the first dial error) settles it for real.
	if len(members) > 0 {
		f.setCurrent(members[0])
	}
	return f
}

func (f *Fallback) Touch() {}

func (f *Fallback) Run(ctx context.Context) {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-ticker.C:
			f.reassess(ctx)
		}
	}
}

func (f *Fallback) Stop() {
	f.once.Do(func() { close(f.stop) })
}

// reassess sets current to the first member, in declaration order, whose
// measureDelay probe succeeds or whose Alive() flag is already true; a
// member that fails the probe still qualifies while its flag says alive.
func (f *Fallback) reassess(ctx context.Context) {
	for _, m := range f.members {
		if _, err := measureDelay(ctx, m, "http://"+probeHost); err == nil || m.Alive() {
			f.setCurrent(m)
			return
		}
	}
	f.setCurrent(nil)
	relog.Warnf(ctx, "fallback %s: no alive member", f.name)
}

// probeHost is the fixed target reassess probes every member against;
// Fallback has no per-group test URL. Declaration-order aliveness here
// relies primarily on each member's own health-check flag.
const probeHost = "www.gstatic.com/generate_204"

func (f *Fallback) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	target, err := Resolve(ctx, f, m)
	if err != nil {
		return nil, errcat.RuleErr.New(err)
	}
	conn, err := target.DialTCP(ctx, m)
	if err != nil {
		f.reassess(ctx)
	}
	return conn, err
}

func (f *Fallback) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	target, err := Resolve(ctx, f, m)
	if err != nil {
		return nil, errcat.RuleErr.New(err)
	}
	pc, err := target.DialUDP(ctx, m)
	if err != nil {
		f.reassess(ctx)
	}
	return pc, err
}
