package dnsresolver

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheSetAndGet(t *testing.T) {
	c := newTTLCache()
	ips := []netip.Addr{netip.MustParseAddr("1.2.3.4")}
	c.set("example.com", ips, 5*time.Minute)

	got, ok := c.get("example.com")
	assert.True(t, ok)
	assert.Equal(t, ips, got)
}

func TestTTLCacheMissOnUnknownHost(t *testing.T) {
	c := newTTLCache()
	_, ok := c.get("never-set.example")
	assert.False(t, ok)
}

func TestTTLCacheClampsLowTTL(t *testing.T) {
	c := newTTLCache()
	ips := []netip.Addr{netip.MustParseAddr("1.2.3.4")}
	c.set("example.com", ips, time.Millisecond)

	// minTTL clamps this to 60s, so it should still be present immediately after.
	_, ok := c.get("example.com")
	assert.True(t, ok)
}

func TestTTLCacheExpiresEntries(t *testing.T) {
	c := newTTLCache()
	c.entries["example.com"] = cacheEntry{
		ips:     []netip.Addr{netip.MustParseAddr("1.2.3.4")},
		expires: time.Now().Add(-time.Second),
	}
	_, ok := c.get("example.com")
	assert.False(t, ok)
}

func TestTTLCacheClear(t *testing.T) {
	c := newTTLCache()
	c.set("example.com", []netip.Addr{netip.MustParseAddr("1.2.3.4")}, time.Minute)
	c.clear()
	_, ok := c.get("example.com")
	assert.False(t, ok)
}
