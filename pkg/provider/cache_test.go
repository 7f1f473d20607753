package provider

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.cache")
	c, err := OpenCache(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheSaveAndLoadRoundTrips(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Save("my-proxy-set", []byte("payload")))

	got, err := c.Load("my-proxy-set")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestCacheLoadMissReturnsNilNoError(t *testing.T) {
	c := openTestCache(t)
	got, err := c.Load("never-saved")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheSaveOverwritesPriorValue(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Save("name", []byte("v1")))
	require.NoError(t, c.Save("name", []byte("v2")))

	got, err := c.Load("name")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.cache")
	c1, err := OpenCache(path)
	require.NoError(t, err)
	require.NoError(t, c1.Save("name", []byte("persisted")))
	require.NoError(t, c1.Close())

	c2, err := OpenCache(path)
	require.NoError(t, err)
	defer c2.Close()

	got, err := c2.Load("name")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}
