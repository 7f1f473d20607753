package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relayd/pkg/metadata"
)

func TestEnrollAndSnapshot(t *testing.T) {
	r := New()
	meta := &metadata.Metadata{DestHost: "example.com", DestPort: 443}
	conn := r.Enroll(meta, metadata.InboundHTTP, "DOMAIN-SUFFIX,example.com", []string{"DIRECT"}, nil)
	require.NotEmpty(t, conn.ID)

	snaps := r.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, conn.ID, snaps[0].ID)
	assert.Equal(t, "example.com:443", snaps[0].Destination)
	assert.Equal(t, []string{"DIRECT"}, snaps[0].ProxyChain)
}

func TestByteCountersAccumulate(t *testing.T) {
	r := New()
	meta := &metadata.Metadata{DestPort: 80}
	conn := r.Enroll(meta, metadata.InboundSOCKS5, "MATCH", nil, nil)
	conn.AddUploaded(100)
	conn.AddDownloaded(200)

	snaps := r.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(100), snaps[0].Uploaded)
	assert.Equal(t, int64(200), snaps[0].Downloaded)
}

func TestRemoveFoldsIntoTotals(t *testing.T) {
	r := New()
	meta := &metadata.Metadata{DestPort: 80}
	conn := r.Enroll(meta, metadata.InboundSOCKS5, "MATCH", nil, nil)
	conn.AddUploaded(50)
	conn.AddDownloaded(75)
	r.Remove(conn.ID)

	up, down := r.TotalCounters()
	assert.Equal(t, int64(50), up)
	assert.Equal(t, int64(75), down)

	_, ok := r.Get(conn.ID)
	assert.False(t, ok)
}

func TestTotalCountersIncludesLiveConnections(t *testing.T) {
	r := New()
	meta := &metadata.Metadata{DestPort: 80}
	conn := r.Enroll(meta, metadata.InboundSOCKS5, "MATCH", nil, nil)
	conn.AddUploaded(10)

	up, _ := r.TotalCounters()
	assert.Equal(t, int64(10), up)
}

func TestKillInvokesCloseHandleAndFlagsCanceled(t *testing.T) {
	r := New()
	closed := false
	meta := &metadata.Metadata{DestPort: 80}
	conn := r.Enroll(meta, metadata.InboundSOCKS5, "MATCH", nil, func() { closed = true })

	assert.True(t, r.Kill(conn.ID))
	assert.True(t, closed)
	assert.True(t, conn.Canceled())
}

func TestKillUnknownIDReturnsFalse(t *testing.T) {
	r := New()
	assert.False(t, r.Kill("does-not-exist"))
}

func TestKillAllKillsEveryConnection(t *testing.T) {
	r := New()
	meta := &metadata.Metadata{DestPort: 80}
	c1 := r.Enroll(meta, metadata.InboundSOCKS5, "MATCH", nil, nil)
	c2 := r.Enroll(meta, metadata.InboundHTTP, "MATCH", nil, nil)

	r.KillAll()
	assert.True(t, c1.Canceled())
	assert.True(t, c2.Canceled())
}
