package dnsresolver

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateReusesExistingMapping(t *testing.T) {
	p := NewFakeIPPool(netip.MustParsePrefix("198.18.0.0/30"))
	ip1, ok := p.Allocate("a.example")
	require.True(t, ok)
	ip2, ok := p.Allocate("a.example")
	require.True(t, ok)
	assert.Equal(t, ip1, ip2)
}

func TestReverseRecoversHostname(t *testing.T) {
	p := NewFakeIPPool(netip.MustParsePrefix("198.18.0.0/30"))
	ip, ok := p.Allocate("b.example")
	require.True(t, ok)

	host, ok := p.Reverse(ip)
	require.True(t, ok)
	assert.Equal(t, "b.example", host)
}

func TestReverseUnknownIPNotFound(t *testing.T) {
	p := NewFakeIPPool(netip.MustParsePrefix("198.18.0.0/30"))
	_, ok := p.Reverse(netip.MustParseAddr("198.18.0.1"))
	assert.False(t, ok)
}

func TestAllocateEvictsLeastRecentlyUsedWhenExhausted(t *testing.T) {
	// /30 gives two usable host addresses after skipping the network address.
	p := NewFakeIPPool(netip.MustParsePrefix("198.18.0.0/30"))
	ip1, ok := p.Allocate("first")
	require.True(t, ok)
	_, ok = p.Allocate("second")
	require.True(t, ok)

	p.Release("first")
	ip3, ok := p.Allocate("third")
	require.True(t, ok)
	assert.Equal(t, ip1, ip3, "expected the released, least-recently-used mapping to be reclaimed")

	_, stillThere := p.Reverse(ip1)
	assert.True(t, stillThere, "the reclaimed IP should now resolve to the new host")
	host, _ := p.Reverse(ip3)
	assert.Equal(t, "third", host)
}

func TestAllocateFailsWhenPoolFullAndAllInFlight(t *testing.T) {
	p := NewFakeIPPool(netip.MustParsePrefix("198.18.0.0/30"))
	_, ok := p.Allocate("first")
	require.True(t, ok)
	_, ok = p.Allocate("second")
	require.True(t, ok)

	_, ok = p.Allocate("third")
	assert.False(t, ok, "pool is exhausted and both mappings are still in flight")
}

func TestClearResetsPool(t *testing.T) {
	p := NewFakeIPPool(netip.MustParsePrefix("198.18.0.0/30"))
	ip1, _ := p.Allocate("first")
	p.Clear()

	ip2, ok := p.Allocate("first")
	require.True(t, ok)
	assert.Equal(t, ip1, ip2, "after Clear the allocation sequence restarts from the same base address")
}
