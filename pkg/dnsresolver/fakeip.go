package dnsresolver

import (
	"container/list"
	"net/netip"
	"sync"
)

// FakeIPPool allocates addresses from a fixed CIDR (default 198.18.0.0/16,
// spec section 4.7) on an LRU basis, tracking the ip<->host mapping so a
// collision (reusing an IP whose hostname is still in flight) evicts only
// the oldest mapping not currently in use.
type FakeIPPool struct {
	prefix netip.Prefix

	mu      sync.Mutex
	byHost  map[string]*list.Element
	lru     *list.List // front = most recently used
	next    netip.Addr
	inFlight map[string]int // host -> outstanding reference count
}

type fakeIPEntry struct {
	host string
	ip   netip.Addr
}

func NewFakeIPPool(cidr netip.Prefix) *FakeIPPool {
	return &FakeIPPool{
		prefix:   cidr,
		byHost:   make(map[string]*list.Element),
		lru:      list.New(),
		next:     cidr.Masked().Addr().Next(), // skip the network address
		inFlight: make(map[string]int),
	}
}

// Allocate returns the FakeIP bound to host, reusing an existing mapping
// if one is live, otherwise minting a fresh address or evicting the
// least-recently-used mapping that has no outstanding reference.
func (p *FakeIPPool) Allocate(host string) (netip.Addr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.byHost[host]; ok {
		p.lru.MoveToFront(el)
		p.inFlight[host]++
		return el.Value.(*fakeIPEntry).ip, true
	}

	var ip netip.Addr
	// the prefix's last (broadcast) address is never handed out
	if p.prefix.Contains(p.next) && p.prefix.Contains(p.next.Next()) {
		ip = p.next
		p.next = p.next.Next()
	} else if ev := p.evictOldest(); ev.IsValid() {
		ip = ev
	} else {
		return netip.Addr{}, false
	}

	entry := &fakeIPEntry{host: host, ip: ip}
	el := p.lru.PushFront(entry)
	p.byHost[host] = el
	p.inFlight[host] = 1
	return ip, true
}

// Release drops one outstanding reference for host, making its mapping
// eligible for eviction once the count reaches zero.
func (p *FakeIPPool) Release(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[host] > 0 {
		p.inFlight[host]--
	}
}

// Reverse looks up the hostname a FakeIP was minted for (spec section
// 4.7 step 2: "FakeIP reverse map").
func (p *FakeIPPool) Reverse(ip netip.Addr) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reverse(ip)
}

func (p *FakeIPPool) reverse(ip netip.Addr) (string, bool) {
	for el := p.lru.Front(); el != nil; el = el.Next() {
		if e := el.Value.(*fakeIPEntry); e.ip == ip {
			return e.host, true
		}
	}
	return "", false
}

// evictOldest removes the least-recently-used mapping with no outstanding
// reference and returns the freed IP (the zero netip.Addr if none
// qualify, meaning the pool is exhausted).
func (p *FakeIPPool) evictOldest() netip.Addr {
	for el := p.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*fakeIPEntry)
		if p.inFlight[e.host] == 0 {
			p.lru.Remove(el)
			delete(p.byHost, e.host)
			delete(p.inFlight, e.host)
			return e.ip
		}
	}
	return netip.Addr{}
}

// Clear flushes the whole pool (spec section 4.7's clear_cache()).
func (p *FakeIPPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byHost = make(map[string]*list.Element)
	p.lru = list.New()
	p.inFlight = make(map[string]int)
	p.next = p.prefix.Masked().Addr().Next()
}
