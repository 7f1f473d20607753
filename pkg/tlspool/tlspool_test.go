package tlspool

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeTLSConn returns a *tls.Conn wrapping one end of an in-memory pipe.
// No handshake is performed; the pool never reads/writes through a pooled
// conn itself, only Acquire/Release/Close it, so an unhandshaked wrapper is
// sufficient to exercise the pool's bookkeeping.
func newFakeTLSConn() (*tls.Conn, net.Conn) {
	client, server := net.Pipe()
	return tls.Client(client, &tls.Config{InsecureSkipVerify: true}), server
}

func noopDialer(ctx context.Context, key Key) (*tls.Conn, error) {
	c, _ := newFakeTLSConn()
	return c, nil
}

func TestAcquireOnEmptyPoolReturnsNil(t *testing.T) {
	p := New(noopDialer)
	key := Key{ServerName: "example.com", Port: 443}
	assert.Nil(t, p.Acquire(key))
}

func TestReleaseThenAcquireRoundTrips(t *testing.T) {
	p := New(noopDialer)
	key := Key{ServerName: "example.com", Port: 443}
	conn, peer := newFakeTLSConn()
	defer peer.Close()

	p.Release(key, conn, false)
	got := p.Acquire(key)
	require.NotNil(t, got)
	assert.Same(t, conn, got)
}

func TestReleaseWithSawErrClosesInsteadOfPooling(t *testing.T) {
	p := New(noopDialer)
	key := Key{ServerName: "example.com", Port: 443}
	conn, peer := newFakeTLSConn()
	defer peer.Close()

	p.Release(key, conn, true)
	assert.Nil(t, p.Acquire(key))
}

func TestReleaseRespectsMaxPerKey(t *testing.T) {
	p := New(noopDialer, WithMaxPerKey(1))
	key := Key{ServerName: "example.com", Port: 443}

	c1, peer1 := newFakeTLSConn()
	defer peer1.Close()
	c2, peer2 := newFakeTLSConn()
	defer peer2.Close()

	p.Release(key, c1, false)
	p.Release(key, c2, false) // over cap, should be closed rather than queued

	got := p.Acquire(key)
	require.NotNil(t, got)
	assert.Same(t, c1, got)
	assert.Nil(t, p.Acquire(key), "only one entry should have been queued")
}

func TestAcquireEvictsExpiredEntries(t *testing.T) {
	p := New(noopDialer, WithMaxIdleAge(time.Millisecond))
	key := Key{ServerName: "example.com", Port: 443}
	conn, peer := newFakeTLSConn()
	defer peer.Close()

	p.Release(key, conn, false)
	time.Sleep(5 * time.Millisecond)
	assert.Nil(t, p.Acquire(key), "entry older than maxIdleAge must not be returned")
}

func TestDifferentKeysDoNotShareEntries(t *testing.T) {
	p := New(noopDialer)
	keyA := Key{ServerName: "a.example", Port: 443}
	keyB := Key{ServerName: "b.example", Port: 443}

	conn, peer := newFakeTLSConn()
	defer peer.Close()
	p.Release(keyA, conn, false)

	assert.Nil(t, p.Acquire(keyB))
	assert.NotNil(t, p.Acquire(keyA))
}

func TestKeyStringIncludesAllFields(t *testing.T) {
	k := Key{ServerName: "example.com", Port: 443, ALPN: "h2", CABundleFP: "abc"}
	assert.Contains(t, k.String(), "example.com")
	assert.Contains(t, k.String(), "443")
	assert.Contains(t, k.String(), "h2")
	assert.Contains(t, k.String(), "abc")
}
