// Package dnsresolver implements spec section 4.7's resolve() pipeline
// (hosts map, FakeIP reverse map, per-host TTL cache, upstream fanout) and
// the FakeIP allocation pool.
package dnsresolver

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/relog"
)

// Family selects which record type(s) resolve() queries for.
type Family uint8

const (
	FamilyV4 Family = iota
	FamilyV6
	FamilyBoth
)

// Resolver implements the layered resolve(host, family) capability from
// spec section 4.7.
type Resolver struct {
	Upstreams []Upstream

	mu    sync.RWMutex
	hosts map[string][]netip.Addr

	cache  *ttlCache
	fakeIP *FakeIPPool
}

func New(upstreams []Upstream, fakeIPCIDR netip.Prefix) *Resolver {
	return &Resolver{
		Upstreams: upstreams,
		hosts:     make(map[string][]netip.Addr),
		cache:     newTTLCache(),
		fakeIP:    NewFakeIPPool(fakeIPCIDR),
	}
}

// SetHosts replaces the static hosts map (spec section 4.7, layer 1).
func (r *Resolver) SetHosts(hosts map[string][]netip.Addr) {
	r.mu.Lock()
	r.hosts = hosts
	r.mu.Unlock()
}

// ReverseFakeIP recovers the original hostname for a FakeIP the inbound
// side supplied as a destination (spec section 4.7, layer 2).
func (r *Resolver) ReverseFakeIP(ip netip.Addr) (string, bool) {
	return r.fakeIP.Reverse(ip)
}

// AllocateFakeIP mints (or reuses) a FakeIP for host.
func (r *Resolver) AllocateFakeIP(host string) (netip.Addr, bool) {
	return r.fakeIP.Allocate(host)
}

// Resolve runs the full layered pipeline: hosts map, then cache, then
// upstream fanout with first-response-wins, caching the result with a
// clamped TTL.
func (r *Resolver) Resolve(ctx context.Context, host string, family Family) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, nil
	}

	r.mu.RLock()
	if ips, ok := r.hosts[host]; ok {
		r.mu.RUnlock()
		return filterFamily(ips, family), nil
	}
	r.mu.RUnlock()

	if ips, ok := r.cache.get(host); ok {
		return filterFamily(ips, family), nil
	}

	ips, ttl, err := r.fanout(ctx, host, family)
	if err != nil {
		return nil, errcat.DNSErr.New(err)
	}
	if len(ips) == 0 {
		return nil, errcat.DNSErr.Newr(errcat.ReasonNoRecord, "no records for "+host)
	}
	r.cache.set(host, ips, ttl)
	return filterFamily(ips, family), nil
}

// fanout queries every configured upstream concurrently and returns the
// first successful, non-empty answer (spec section 4.7, layer 4).
func (r *Resolver) fanout(ctx context.Context, host string, family Family) ([]netip.Addr, time.Duration, error) {
	if len(r.Upstreams) == 0 {
		return nil, 0, errors.New("dnsresolver: no upstream servers configured")
	}
	qtypes := queryTypes(family)

	type result struct {
		ans answer
		err error
	}
	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, len(r.Upstreams)*len(qtypes))
	for _, up := range r.Upstreams {
		for _, qt := range qtypes {
			up, qt := up, qt
			go func() {
				a, err := up.query(fanCtx, host, qt)
				select {
				case results <- result{ans: a, err: err}:
				case <-fanCtx.Done():
				}
			}()
		}
	}

	var lastErr error
	for i := 0; i < len(r.Upstreams)*len(qtypes); i++ {
		select {
		case res := <-results:
			if res.err != nil {
				lastErr = res.err
				continue
			}
			if len(res.ans.ips) > 0 {
				return res.ans.ips, res.ans.ttl, nil
			}
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if lastErr != nil {
		relog.Warnf(ctx, "dnsresolver: all upstreams failed for %s: %v", host, lastErr)
		return nil, 0, lastErr
	}
	return nil, 0, nil
}

// ClearCache flushes the positive cache and the FakeIP pool but leaves the
// hosts map untouched (spec section 4.7's clear_cache()).
func (r *Resolver) ClearCache() {
	r.cache.clear()
	r.fakeIP.Clear()
}

func filterFamily(ips []netip.Addr, family Family) []netip.Addr {
	if family == FamilyBoth {
		return ips
	}
	out := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		if (family == FamilyV4) == ip.Is4() {
			out = append(out, ip)
		}
	}
	return out
}

func queryTypes(f Family) []uint16 {
	switch f {
	case FamilyV4:
		return []uint16{dns.TypeA}
	case FamilyV6:
		return []uint16{dns.TypeAAAA}
	default:
		return []uint16{dns.TypeA, dns.TypeAAAA}
	}
}
