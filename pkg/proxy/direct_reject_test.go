package proxy

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relayd/pkg/metadata"
)

func TestDirectDialTCPRequiresDestination(t *testing.T) {
	d := NewDirect("DIRECT", nil)
	_, err := d.DialTCP(context.Background(), &metadata.Metadata{})
	assert.Error(t, err, "dial with neither host nor ip must fail")
}

func TestDirectUsesResolverWhenNoIP(t *testing.T) {
	called := false
	resolver := func(host string) (netip.Addr, error) {
		called = true
		assert.Equal(t, "example.com", host)
		return netip.MustParseAddr("127.0.0.1"), nil
	}
	d := NewDirect("DIRECT", resolver)
	addr, err := d.destination(&metadata.Metadata{DestHost: "example.com", DestPort: 80})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "127.0.0.1:80", addr)
}

func TestDirectSkipsResolverWhenIPPresent(t *testing.T) {
	d := NewDirect("DIRECT", func(string) (netip.Addr, error) {
		t.Fatal("resolver must not be called when DestIP is already set")
		return netip.Addr{}, nil
	})
	addr, err := d.destination(&metadata.Metadata{DestIP: netip.MustParseAddr("10.0.0.1"), DestPort: 443})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:443", addr)
}

func TestDirectAliveByDefault(t *testing.T) {
	d := NewDirect("DIRECT", nil)
	assert.True(t, d.Alive())
	assert.True(t, d.SupportsUDP())
	assert.Equal(t, KindDirect, d.Kind())
}

func TestRejectDialTCPReturnsClosedConn(t *testing.T) {
	r := NewReject("REJECT")
	conn, err := r.DialTCP(context.Background(), &metadata.Metadata{})
	require.NoError(t, err)
	n, writeErr := conn.Write([]byte("x"))
	assert.Error(t, writeErr)
	assert.Equal(t, 0, n)
}

func TestRejectDialUDPBlackholes(t *testing.T) {
	r := NewReject("REJECT")
	pc, err := r.DialUDP(context.Background(), &metadata.Metadata{})
	require.NoError(t, err)
	n, writeErr := pc.WriteTo([]byte("hello"), nil)
	assert.NoError(t, writeErr)
	assert.Equal(t, 5, n)
	require.NoError(t, pc.Close())
}

func TestBaseAliveAndDelayBookkeeping(t *testing.T) {
	b := &base{}
	assert.False(t, b.Alive())
	b.SetAlive(true)
	assert.True(t, b.Alive())
	b.SetDelayMs(42)
	assert.Equal(t, int64(42), b.LastDelayMs())
}
