// Package provider implements the subscription/refresh/health-check
// subsystem from spec section 4.6: proxy-set providers (subscription
// fetch, parse, cache), rule providers (lazy-compiled rule-set matchers),
// and the shared refresh-loop/backoff machinery both ride on.
package provider

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/relaycore/relayd/pkg/relog"
)

const (
	defaultFetchTimeout = 30 * time.Second
	minBackoff          = 30 * time.Second
	maxBackoff          = 1 * time.Hour
	minUpdateInterval   = 60 * time.Second
	defaultUpdateInterval = 24 * time.Hour
)

// SubscriptionInfo is parsed from a subscription's Subscription-Userinfo
// response header (upload/download/total/expire, all in bytes/unix-seconds).
type SubscriptionInfo struct {
	Upload   int64
	Download int64
	Total    int64
	Expire   int64
}

// Vendor materializes the raw fetched bytes into whatever artifact type a
// concrete provider kind needs (a proxy list, a rule-set matcher) and
// persists/restores it from the on-disk cache.
type Vendor interface {
	// Parse turns raw subscription/rule-set bytes into the materialized
	// artifact, replacing whatever this Vendor currently holds.
	Parse(data []byte) error
	// Marshal serializes the current artifact for the cache.
	Marshal() ([]byte, error)
	// Restore loads a previously-marshaled artifact (cache hit on startup).
	Restore(data []byte) error
}

// Provider is the shared refresh/backoff state machine spec section 4.6
// describes; proxy sets and rule sets use it by plugging in ProxySetVendor
// or RuleSetVendor as its Vendor.
type Provider struct {
	Name           string
	URL            string
	UpdateInterval time.Duration
	FetchTimeout   time.Duration

	vendor Vendor
	cache  *Cache
	client *http.Client
	group  singleflight.Group

	mu         sync.RWMutex
	updatedAt  time.Time
	lastError  error
	subInfo    SubscriptionInfo
	backoff    time.Duration
	refreshing int32 // atomic bool, exposed for tests/metrics
}

// NewProvider builds a Provider bound to vendor's artifact and cache
// persistence. updateInterval is clamped to >= minUpdateInterval per spec.
func NewProvider(name, url string, updateInterval time.Duration, vendor Vendor, cache *Cache) *Provider {
	if updateInterval < minUpdateInterval {
		if updateInterval == 0 {
			updateInterval = defaultUpdateInterval
		} else {
			updateInterval = minUpdateInterval
		}
	}
	return &Provider{
		Name:           name,
		URL:            url,
		UpdateInterval: updateInterval,
		FetchTimeout:   defaultFetchTimeout,
		vendor:         vendor,
		cache:          cache,
		client:         &http.Client{},
		backoff:        minBackoff,
	}
}

// LoadCache materializes the on-disk cache immediately, per step 1 of the
// refresh loop, so the provider has content to serve before its first
// network fetch completes.
func (p *Provider) LoadCache(ctx context.Context) {
	if p.cache == nil {
		return
	}
	data, err := p.cache.Load(p.Name)
	if err != nil || data == nil {
		return
	}
	if err := p.vendor.Restore(data); err != nil {
		relog.Warnf(ctx, "provider %s: cache restore failed: %v", p.Name, err)
		return
	}
	relog.Debugf(ctx, "provider %s: materialized from cache", p.Name)
}

// Run drives the refresh loop until ctx is canceled, fetching immediately
// then sleeping UpdateInterval (or the current backoff, on failure).
func (p *Provider) Run(ctx context.Context) {
	p.LoadCache(ctx)
	for {
		if err := p.Refresh(ctx); err != nil {
			p.mu.Lock()
			wait := p.backoff
			p.backoff = nextBackoff(p.backoff)
			p.mu.Unlock()
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		p.mu.Lock()
		p.backoff = minBackoff
		p.mu.Unlock()
		if !sleepCtx(ctx, p.UpdateInterval) {
			return
		}
	}
}

// Refresh performs one fetch-parse-swap-persist cycle, collapsing
// concurrent callers into a single in-flight fetch via singleflight. Run
// is its only caller in this module; use of a provider does not trigger
// a refresh.
func (p *Provider) Refresh(ctx context.Context) error {
	_, err, _ := p.group.Do(p.Name, func() (interface{}, error) {
		atomic.StoreInt32(&p.refreshing, 1)
		defer atomic.StoreInt32(&p.refreshing, 0)
		return nil, p.doRefresh(ctx)
	})
	return err
}

func (p *Provider) doRefresh(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, p.URL, nil)
	if err != nil {
		p.recordError(err)
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.recordError(err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := &httpStatusError{status: resp.Status}
		p.recordError(err)
		return err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordError(err)
		return err
	}
	if err := p.vendor.Parse(body); err != nil {
		p.recordError(err)
		return err
	}

	p.mu.Lock()
	p.updatedAt = time.Now()
	p.lastError = nil
	p.subInfo = parseSubscriptionUserinfo(resp.Header.Get("Subscription-Userinfo"))
	p.mu.Unlock()

	if p.cache != nil {
		if data, err := p.vendor.Marshal(); err == nil {
			if err := p.cache.Save(p.Name, data); err != nil {
				relog.Warnf(ctx, "provider %s: cache persist failed: %v", p.Name, err)
			}
		}
	}
	relog.Infof(ctx, "provider %s: refreshed from %s", p.Name, p.URL)
	return nil
}

func (p *Provider) recordError(err error) {
	p.mu.Lock()
	p.lastError = err
	p.mu.Unlock()
}

// Snapshot returns the provider's current status fields for the control
// plane's /providers/proxies endpoint.
type Snapshot struct {
	Name      string
	UpdatedAt time.Time
	LastError error
	SubInfo   SubscriptionInfo
}

func (p *Provider) Status() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{Name: p.Name, UpdatedAt: p.updatedAt, LastError: p.lastError, SubInfo: p.subInfo}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type httpStatusError struct{ status string }

func (e *httpStatusError) Error() string { return "provider fetch: unexpected status " + e.status }
