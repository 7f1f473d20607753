// Package registry implements the statistics and connection registry from
// spec sections 4.8 and 6: a map of live Connections guarded by a
// reader-writer lock, with per-connection byte accounting on atomic
// fields and global aggregate counters, backing both the relay loop's
// bookkeeping and the control plane's read model / kill operation.
package registry

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"

	"github.com/relaycore/relayd/pkg/metadata"
)

// Connection is the registry's record for one active tunnel job (spec
// section 3's Connection type). Enrolment/removal take the registry's
// lock; the Uploaded/Downloaded counters are mutated lock-free by the
// relay loop that owns this record, and the cancel flag by Kill.
type Connection struct {
	ID          string
	Metadata    *metadata.Metadata
	Inbound     metadata.InboundKind
	RuleMatched string
	ProxyChain  []string
	StartTime   time.Time

	uploaded   int64 // atomic
	downloaded int64 // atomic
	canceled   int32 // atomic bool

	closeHandle func()
}

// AddUploaded/AddDownloaded are called from the relay loop after each
// buffered copy, never while holding the registry's lock.
func (c *Connection) AddUploaded(n int64)   { atomic.AddInt64(&c.uploaded, n) }
func (c *Connection) AddDownloaded(n int64) { atomic.AddInt64(&c.downloaded, n) }
func (c *Connection) Uploaded() int64       { return atomic.LoadInt64(&c.uploaded) }
func (c *Connection) Downloaded() int64     { return atomic.LoadInt64(&c.downloaded) }

// Canceled reports whether Kill has flipped this connection's cancel
// flag. The tunnel's relay loop does not read it; a killed relay ends
// because Kill closes both stream halves.
func (c *Connection) Canceled() bool { return atomic.LoadInt32(&c.canceled) != 0 }

// Snapshot is the control-plane-facing read-only view of a Connection.
type Snapshot struct {
	ID          string
	Network     string
	Source      string
	Destination string
	RuleMatched string
	ProxyChain  []string
	StartTime   time.Time
	Uploaded    int64
	Downloaded  int64
}

// Registry owns the live-connection map plus the global byte counters
// aggregated from every Connection it has ever held (spec section 4.8).
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	totalUploaded   int64 // atomic
	totalDownloaded int64 // atomic
}

func New() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Enroll creates and registers a new Connection for one tunnel job;
// closeHandle is invoked by Kill to tear down both stream halves.
func (r *Registry) Enroll(meta *metadata.Metadata, inbound metadata.InboundKind, ruleMatched string, proxyChain []string, closeHandle func()) *Connection {
	id := uuid.Must(uuid.NewV4()).String()
	c := &Connection{
		ID:          id,
		Metadata:    meta,
		Inbound:     inbound,
		RuleMatched: ruleMatched,
		ProxyChain:  proxyChain,
		StartTime:   time.Now(),
		closeHandle: closeHandle,
	}
	r.mu.Lock()
	r.conns[id] = c
	r.mu.Unlock()
	return c
}

// Remove unregisters a Connection (either-side close, spec section 4,
// step 7) and folds its final counters into the running totals.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if ok {
		atomic.AddInt64(&r.totalUploaded, c.Uploaded())
		atomic.AddInt64(&r.totalDownloaded, c.Downloaded())
	}
}

// Get returns the live Connection for id, if any.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Kill flips the Connection's cancel flag and invokes its close handle;
// closing both stream halves is what makes the owning relay task unwind.
func (r *Registry) Kill(id string) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	atomic.StoreInt32(&c.canceled, 1)
	if c.closeHandle != nil {
		c.closeHandle()
	}
	return true
}

// KillAll force-closes every live connection, used by the shutdown
// cascade's "registry force-closes remaining connections" step.
func (r *Registry) KillAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Kill(id)
	}
}

// Snapshot returns a read-only view of every live connection for the
// control plane's /connections endpoint.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, Snapshot{
			ID:          c.ID,
			Network:     c.Metadata.Network.String(),
			Source:      sourceString(c.Metadata.SourceAddr),
			Destination: c.Metadata.RemoteAddress(),
			RuleMatched: c.RuleMatched,
			ProxyChain:  append([]string{}, c.ProxyChain...),
			StartTime:   c.StartTime,
			Uploaded:    c.Uploaded(),
			Downloaded:  c.Downloaded(),
		})
	}
	return out
}

// TotalCounters returns the global aggregate upload/download byte counts
// across every connection the registry has ever enrolled, live or closed.
func (r *Registry) TotalCounters() (uploaded, downloaded int64) {
	r.mu.RLock()
	live := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		live = append(live, c)
	}
	r.mu.RUnlock()
	uploaded = atomic.LoadInt64(&r.totalUploaded)
	downloaded = atomic.LoadInt64(&r.totalDownloaded)
	for _, c := range live {
		uploaded += c.Uploaded()
		downloaded += c.Downloaded()
	}
	return uploaded, downloaded
}

func sourceString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
