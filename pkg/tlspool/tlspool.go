// Package tlspool implements the warm TLS connection pool from spec
// section 4.4: pre-handshaked streams keyed by (server_name, port, alpn),
// amortising handshake latency for Trojan and VLESS under steady load.
//
// Grounded on the teacher's connpool.Pool (striped-map-with-lock pattern,
// see github.com/telepresenceio/telepresence/v2 pkg/connpool/pool.go) and
// on golang.org/x/time/rate for the predictive-warmup token bucket named
// in SPEC_FULL's domain stack.
package tlspool

import (
	"container/list"
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaycore/relayd/pkg/relog"
)

// Key identifies a warm-pool bucket. Mismatched keys never share entries.
type Key struct {
	ServerName string
	Port       uint16
	ALPN       string // joined, e.g. "h2,http/1.1"
	CABundleFP string // fingerprint of the trust anchor in use
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d|%s|%s", k.ServerName, k.Port, k.ALPN, k.CABundleFP)
}

type entry struct {
	conn      *tls.Conn
	bornAt    time.Time
	lastProbe time.Time
	elem      *list.Element
}

type bucket struct {
	mu      sync.Mutex
	entries *list.List // of *entry, front = most recently released
	limiter *rate.Limiter
	ewmaMs  float64 // EWMA of the inter-dial interval, milliseconds
	lastDial time.Time
}

// Pool is a single striped map with a per-key mutex (spec section 5).
type Pool struct {
	maxIdleAge     time.Duration
	maxPerKey      int
	globalCap      int
	warmupWindow   time.Duration
	dialer         func(ctx context.Context, key Key) (*tls.Conn, error)

	mu      sync.Mutex
	buckets map[string]*bucket
	total   int
}

// Option configures non-default policy knobs (spec 4.4, SPEC_FULL EWMA
// half-life / token-bucket constants).
type Option func(*Pool)

func WithMaxIdleAge(d time.Duration) Option  { return func(p *Pool) { p.maxIdleAge = d } }
func WithMaxPerKey(n int) Option             { return func(p *Pool) { p.maxPerKey = n } }
func WithGlobalCap(n int) Option             { return func(p *Pool) { p.globalCap = n } }
func WithWarmupWindow(d time.Duration) Option { return func(p *Pool) { p.warmupWindow = d } }

// New creates a Pool. dialer performs a fresh TLS handshake for key; it is
// called both by cold dials (falling through a miss) and by the background
// prewarm loop.
func New(dialer func(ctx context.Context, key Key) (*tls.Conn, error), opts ...Option) *Pool {
	p := &Pool{
		maxIdleAge:   45 * time.Second,
		maxPerKey:    8,
		globalCap:    256,
		warmupWindow: 10 * time.Second,
		dialer:       dialer,
		buckets:      make(map[string]*bucket),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pool) bucketFor(key Key) *bucket {
	k := key.String()
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[k]
	if !ok {
		b = &bucket{
			entries: list.New(),
			// 20 handshakes/sec, burst 5 — fixed per SPEC_FULL's resolved
			// Open Question on warm-pool tuning.
			limiter: rate.NewLimiter(rate.Limit(20), 5),
		}
		p.buckets[k] = b
	}
	return b
}

// Acquire returns an idle, already-handshaked conn for key, or nil if none
// is available (a cold handshake should follow). The returned conn is
// atomically removed from the pool; it is never handed to two callers.
func (p *Pool) Acquire(key Key) *tls.Conn {
	b := p.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if !b.lastDial.IsZero() {
		gap := float64(now.Sub(b.lastDial).Milliseconds())
		// EWMA with a ~30s half-life (SPEC_FULL).
		const halfLifeMs = 30_000.0
		alpha := 1 - math.Pow(2, -gap/halfLifeMs)
		b.ewmaMs = alpha*gap + (1-alpha)*b.ewmaMs
	}
	b.lastDial = now

	for e := b.entries.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		if now.Sub(ent.bornAt) > p.maxIdleAge {
			b.entries.Remove(e)
			_ = ent.conn.Close()
			p.decTotal()
			continue
		}
		b.entries.Remove(e)
		p.decTotal()
		return ent.conn
	}
	return nil
}

// Release returns conn to the pool after a successful relay, provided it's
// still healthy (sawErr is false) and the bucket/global caps allow it.
// Unhealthy or over-cap conns are closed, never shared (spec 4.4).
func (p *Pool) Release(key Key, conn *tls.Conn, sawErr bool) {
	if sawErr || conn == nil {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	b := p.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	p.mu.Lock()
	over := p.total >= p.globalCap || b.entries.Len() >= p.maxPerKey
	if !over {
		p.total++
	}
	p.mu.Unlock()
	if over {
		_ = conn.Close()
		return
	}
	b.entries.PushFront(&entry{conn: conn, bornAt: time.Now()})
}

func (p *Pool) decTotal() {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// Prewarm establishes up to n connections for key in the background,
// bounded by the bucket's token bucket, driven toward
// ceil(EWMA(dial rate) * warmupWindow) as described in spec 4.4.
func (p *Pool) Prewarm(ctx context.Context, key Key, n int) {
	b := p.bucketFor(key)
	target := p.warmupTarget(b)
	if target < n {
		n = target
	}
	for i := 0; i < n; i++ {
		if !b.limiter.Allow() {
			break
		}
		conn, err := p.dialer(ctx, key)
		if err != nil {
			relog.Warnf(ctx, "tlspool: prewarm dial for %s failed: %v", key, err)
			return
		}
		p.Release(key, conn, false)
	}
}

func (p *Pool) warmupTarget(b *bucket) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ewmaMs <= 0 {
		return 1
	}
	dialsPerWindow := float64(p.warmupWindow.Milliseconds()) / b.ewmaMs
	target := int(math.Ceil(dialsPerWindow))
	if target < 1 {
		target = 1
	}
	if target > p.maxPerKey {
		target = p.maxPerKey
	}
	return target
}
