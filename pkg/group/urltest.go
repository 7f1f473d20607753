package group

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/proxy"
	"github.com/relaycore/relayd/pkg/relog"
)

// DefaultURLTestInterval is the periodic delay-test cadence (spec section
// 4.5, "default every 300 s").
const DefaultURLTestInterval = 300 * time.Second

// URLTest periodically delay-tests every member against a small URL and
// keeps the lowest-delay alive member as current. A dial error on the
// current member expedites the next test instead of waiting out the full
// interval.
type URLTest struct {
	base
	TestURL  string
	Interval time.Duration

	expedite chan struct{}
	stop     chan struct{}
	once     sync.Once
}

func NewURLTest(name string, members []Member, testURL string, interval time.Duration) *URLTest {
	if interval <= 0 {
		interval = DefaultURLTestInterval
	}
	u := &URLTest{
		base:     base{name: name, kind: proxy.Kind("url-test"), members: members},
		TestURL:  testURL,
		Interval: interval,
		expedite: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	if len(members) > 0 {
		u.setCurrent(members[0])
	}
	return u
}

func (u *URLTest) Touch() {}

// Run launches the periodic delay-test loop; it returns once ctx is
// canceled or Stop is called.
func (u *URLTest) Run(ctx context.Context) {
	ticker := time.NewTicker(u.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.stop:
			return
		case <-ticker.C:
			u.runDelayTest(ctx)
		case <-u.expedite:
			u.runDelayTest(ctx)
		}
	}
}

func (u *URLTest) Stop() {
	u.once.Do(func() { close(u.stop) })
}

func (u *URLTest) expediteNext() {
	select {
	case u.expedite <- struct{}{}:
	default:
	}
}

func (u *URLTest) runDelayTest(ctx context.Context) {
	var best Member
	var bestDelay int64 = -1
	type healthRecorder interface {
		SetAlive(bool)
		SetDelayMs(int64)
	}
	for _, m := range u.members {
		delay, err := measureDelay(ctx, m, u.TestURL)
		hr, _ := m.(healthRecorder)
		if err != nil {
			if hr != nil {
				hr.SetAlive(false)
			}
			continue
		}
		if hr != nil {
			hr.SetDelayMs(delay)
			hr.SetAlive(true)
		}
		if bestDelay < 0 || delay < bestDelay {
			best, bestDelay = m, delay
		}
	}
	if best != nil {
		u.setCurrent(best)
		relog.Debugf(ctx, "url-test %s: selected %s (%dms)", u.name, best.Name(), bestDelay)
		return
	}
	u.setCurrent(nil)
	relog.Warnf(ctx, "url-test %s: no alive member", u.name)
}

// measureDelay dials the member's TCP path and issues a GET against
// TestURL, returning the round-trip time in milliseconds.
func measureDelay(ctx context.Context, m Member, testURL string) (int64, error) {
	start := time.Now()
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				meta, err := metadata.FromAddress(network, addr)
				if err != nil {
					return nil, err
				}
				return m.DialTCP(ctx, meta)
			},
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, testURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return time.Since(start).Milliseconds(), nil
}

func (u *URLTest) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	target, err := Resolve(ctx, u, m)
	if err != nil {
		return nil, errcat.RuleErr.New(err)
	}
	conn, err := target.DialTCP(ctx, m)
	if err != nil {
		u.expediteNext()
	}
	return conn, err
}

func (u *URLTest) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	target, err := Resolve(ctx, u, m)
	if err != nil {
		return nil, errcat.RuleErr.New(err)
	}
	pc, err := target.DialUDP(ctx, m)
	if err != nil {
		u.expediteNext()
	}
	return pc, err
}
