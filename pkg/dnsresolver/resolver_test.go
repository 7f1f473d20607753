package dnsresolver

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLiteralIPShortCircuits(t *testing.T) {
	r := New(nil, netip.MustParsePrefix("198.18.0.0/16"))
	ips, err := r.Resolve(context.Background(), "10.0.0.5", FamilyBoth)
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, "10.0.0.5", ips[0].String())
}

func TestResolveUsesHostsMapBeforeUpstream(t *testing.T) {
	r := New(nil, netip.MustParsePrefix("198.18.0.0/16"))
	want := netip.MustParseAddr("192.168.1.1")
	r.SetHosts(map[string][]netip.Addr{"router.lan": {want}})

	ips, err := r.Resolve(context.Background(), "router.lan", FamilyBoth)
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, want, ips[0])
}

func TestResolveFailsWithoutUpstreamsOrHostsEntry(t *testing.T) {
	r := New(nil, netip.MustParsePrefix("198.18.0.0/16"))
	_, err := r.Resolve(context.Background(), "unknown.example", FamilyBoth)
	assert.Error(t, err)
}

func TestFilterFamilySplitsV4AndV6(t *testing.T) {
	v4 := netip.MustParseAddr("1.2.3.4")
	v6 := netip.MustParseAddr("2001:db8::1")
	ips := []netip.Addr{v4, v6}

	assert.Equal(t, []netip.Addr{v4}, filterFamily(ips, FamilyV4))
	assert.Equal(t, []netip.Addr{v6}, filterFamily(ips, FamilyV6))
	assert.ElementsMatch(t, ips, filterFamily(ips, FamilyBoth))
}

func TestAllocateAndReverseFakeIPViaResolver(t *testing.T) {
	r := New(nil, netip.MustParsePrefix("198.18.0.0/24"))
	ip, ok := r.AllocateFakeIP("fake.example")
	require.True(t, ok)

	host, ok := r.ReverseFakeIP(ip)
	require.True(t, ok)
	assert.Equal(t, "fake.example", host)
}

func TestClearCacheFlushesHostsUntouched(t *testing.T) {
	r := New(nil, netip.MustParsePrefix("198.18.0.0/16"))
	r.SetHosts(map[string][]netip.Addr{"router.lan": {netip.MustParseAddr("192.168.1.1")}})
	r.cache.set("cached.example", []netip.Addr{netip.MustParseAddr("1.1.1.1")}, minTTL)

	r.ClearCache()

	_, ok := r.cache.get("cached.example")
	assert.False(t, ok, "ClearCache must flush the positive cache")

	ips, err := r.Resolve(context.Background(), "router.lan", FamilyBoth)
	require.NoError(t, err)
	assert.Len(t, ips, 1, "ClearCache must not touch the static hosts map")
}
