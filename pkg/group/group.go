// Package group implements the proxy group selector (spec section 4.5):
// Selector, URLTest, Fallback and LoadBalance, each exposing the same
// capability set as a concrete proxy.Proxy plus now()/members()/touch(),
// so the tunnel's dial path never needs to know whether a rule target
// named a concrete outbound or a group.
package group

import (
	"context"
	"errors"
	"sync"

	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/proxy"
)

// MaxResolveDepth bounds group-of-group recursion (spec section 4, "depth
// bound 8").
const MaxResolveDepth = 8

// ErrCycle is returned when resolving a group would revisit itself.
var ErrCycle = errors.New("group resolution cycle detected")

// ErrDepthExceeded is returned when group-of-group nesting exceeds MaxResolveDepth.
var ErrDepthExceeded = errors.New("group resolution depth exceeded")

// Member is anything a group can select: a concrete proxy.Proxy or another
// Group (groups may nest, subject to the cycle/depth guard above).
type Member interface {
	proxy.Proxy
}

// Group is the capability set every group variant implements, layered on
// top of proxy.Proxy so a Group is itself usable as a rule target.
type Group interface {
	Member
	// Now returns the member this group currently dials through.
	Now() Member
	// Members returns the group's ordered member list.
	Members() []Member
	// Touch records that this group was just used. Every variant in this
	// package implements it as a no-op; URLTest expedites its next delay
	// test after a failed dial instead.
	Touch()
}

// Resolve walks name through the registries until it reaches a concrete
// proxy.Proxy, recursing through nested groups up to MaxResolveDepth and
// rejecting any member that reappears in the visited set (spec section 4,
// step 4 and section 4.5's "all groups reject recursion into themselves").
func Resolve(ctx context.Context, m Member, meta *metadata.Metadata) (proxy.Proxy, error) {
	visited := make(map[string]bool, MaxResolveDepth)
	return resolve(ctx, m, meta, visited, 0)
}

func resolve(ctx context.Context, m Member, meta *metadata.Metadata, visited map[string]bool, depth int) (proxy.Proxy, error) {
	if depth > MaxResolveDepth {
		return nil, ErrDepthExceeded
	}
	if visited[m.Name()] {
		return nil, ErrCycle
	}
	visited[m.Name()] = true

	g, ok := m.(Group)
	if !ok {
		return m, nil
	}
	g.Touch()
	next := g.Now()
	if next == nil {
		return nil, errors.New("group has no alive member: " + m.Name())
	}
	return resolve(ctx, next, meta, visited, depth+1)
}

// base holds the fields and dial-delegation every group variant shares.
type base struct {
	name    string
	kind    proxy.Kind
	members []Member

	mu      sync.RWMutex
	current Member
}

func (b *base) Name() string         { return b.name }
func (b *base) Kind() proxy.Kind     { return b.kind }
func (b *base) Members() []Member    { return append([]Member{}, b.members...) }
func (b *base) SupportsUDP() bool    { return true }
func (b *base) Alive() bool {
	b.mu.RLock()
	cur := b.current
	b.mu.RUnlock()
	return cur != nil && cur.Alive()
}
func (b *base) LastDelayMs() int64 {
	b.mu.RLock()
	cur := b.current
	b.mu.RUnlock()
	if cur == nil {
		return -1
	}
	return cur.LastDelayMs()
}

func (b *base) Now() Member {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

func (b *base) setCurrent(m Member) {
	b.mu.Lock()
	b.current = m
	b.mu.Unlock()
}
