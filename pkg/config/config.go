// Package config parses the abstract configuration document from spec
// section 6 (inbound, dns, proxies, proxy-groups, proxy-providers,
// rule-providers, rules, log-level, mode, allow-lan, bind-address, ipv6)
// and builds the runtime snapshot the tunnel dials against, following the
// teacher's pkg/client/config.go convention of a plain YAML-unmarshaled
// struct plus a separate build/validate step.
package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relaycore/relayd/pkg/dnsresolver"
	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/group"
	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/provider"
	"github.com/relaycore/relayd/pkg/proxy"
	"github.com/relaycore/relayd/pkg/relog"
	"github.com/relaycore/relayd/pkg/rule"
	"github.com/relaycore/relayd/pkg/sidecar"
	"github.com/relaycore/relayd/pkg/tlspool"
	"github.com/relaycore/relayd/pkg/tunnel"
)

// Mode selects the top-level routing behavior (spec section 6).
type Mode string

const (
	ModeRule   Mode = "rule"
	ModeGlobal Mode = "global"
	ModeDirect Mode = "direct"
)

// InboundConfig configures the four listeners from spec section 4.2/6.
type InboundConfig struct {
	HTTPPort  int    `yaml:"http-port"`
	SocksPort int    `yaml:"socks-port"`
	MixedPort int    `yaml:"mixed-port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// DNSUpstreamConfig is one configured resolver server (spec section 4.7).
type DNSUpstreamConfig struct {
	Proto string `yaml:"proto"` // udp | doh | dot
	Addr  string `yaml:"addr"`
}

// DNSConfig configures the resolver and FakeIP pool (spec section 4.7).
type DNSConfig struct {
	Enable      bool                `yaml:"enable"`
	Upstreams   []DNSUpstreamConfig `yaml:"nameserver"`
	FakeIPRange string              `yaml:"fake-ip-range"`
	Hosts       map[string]string   `yaml:"hosts"`
}

// ProxyGroupConfig configures one proxy group (spec section 4.5).
type ProxyGroupConfig struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"` // select | url-test | fallback | load-balance
	Proxies  []string `yaml:"proxies"`
	URL      string   `yaml:"url"`
	Interval int      `yaml:"interval"` // seconds
	Strategy string   `yaml:"strategy"` // load-balance: round-robin | consistent-hash
}

// HealthCheckConfig configures a proxy-set provider's health-check loop
// (spec section 4.6).
type HealthCheckConfig struct {
	Enable   bool   `yaml:"enable"`
	URL      string `yaml:"url"`
	Interval int    `yaml:"interval"` // seconds
	Lazy     bool   `yaml:"lazy"`
}

// ProviderConfig configures one proxy-provider or rule-provider (spec
// section 3's Provider type and section 4.6).
type ProviderConfig struct {
	Type        string            `yaml:"type"` // http | file | inline
	URL         string            `yaml:"url"`
	Path        string            `yaml:"path"`
	Interval    int               `yaml:"interval"` // seconds
	Behavior    string            `yaml:"behavior"` // rule providers: domain | ipcidr | classical
	HealthCheck HealthCheckConfig `yaml:"health-check"`
}

// Document is the top-level parsed configuration shape from spec section
// 6, as Load decodes it from YAML.
type Document struct {
	LogLevel       string                    `yaml:"log-level"`
	Mode           Mode                      `yaml:"mode"`
	AllowLan       bool                      `yaml:"allow-lan"`
	BindAddress    string                    `yaml:"bind-address"`
	IPv6           bool                      `yaml:"ipv6"`
	DataDir        string                    `yaml:"data-dir"`
	GeoIPPath      string                    `yaml:"geoip-path"`
	ExternalController string               `yaml:"external-controller"`
	Inbound        InboundConfig             `yaml:"inbound"`
	DNS            DNSConfig                 `yaml:"dns"`
	Proxies        []provider.ProxyEntry     `yaml:"proxies"`
	ProxyGroups    []ProxyGroupConfig        `yaml:"proxy-groups"`
	ProxyProviders map[string]ProviderConfig `yaml:"proxy-providers"`
	RuleProviders  map[string]ProviderConfig `yaml:"rule-providers"`
	Rules          []string                  `yaml:"rules"`
}

// Load parses a YAML document from path into a Document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errcat.ConfigErr.New(err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errcat.ConfigErr.New(err)
	}
	return &doc, nil
}

// Snapshot is the immutable, atomically-installable runtime view a
// reload produces (spec section 9, "Dynamic reconfiguration": "each
// reload builds a fresh snapshot ... and flips a single atomic pointer").
type Snapshot struct {
	Engine         *rule.Engine
	Outbounds      *tunnel.Outbounds
	Resolver       *dnsresolver.Resolver
	Pool           *tlspool.Pool
	ProxyProviders map[string]*provider.Provider
	RuleProviders  map[string]*provider.Provider
	Cache          *provider.Cache
	Sidecars       []*sidecar.Manager

	Document *Document
}

// Build validates and compiles doc into a Snapshot: proxies, then groups
// (in declaration order — a group may reference a proxy or an
// already-built earlier group, not a forward-declared later one),
// providers, the resolver, and finally the rule engine.
func Build(doc *Document) (*Snapshot, error) {
	dataDir := doc.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir+"/providers", 0o755); err != nil {
		return nil, errcat.ConfigErr.New(err)
	}
	cache, err := provider.OpenCache(dataDir + "/providers/providers.cache")
	if err != nil {
		return nil, errcat.ConfigErr.New(err)
	}

	pool := tlspool.New(tlsDialer)

	proxies := make(map[string]proxy.Proxy, len(doc.Proxies))
	var sidecars []*sidecar.Manager
	for _, e := range doc.Proxies {
		p, err := provider.BuildProxy(e, pool)
		if err != nil {
			return nil, errcat.ConfigErr.Newf("proxy %q: %w", e.Name, err)
		}
		proxies[e.Name] = p
		if gf, ok := p.(*proxy.GoFallback); ok && e.Command != "" {
			sidecars = append(sidecars, &sidecar.Manager{
				Command:  e.Command,
				Args:     e.CommandArgs,
				Endpoint: fmt.Sprintf("%s:%d", e.Server, e.Port),
				Sink:     gf,
			})
		}
	}
	proxies["DIRECT"] = proxy.NewDirect("DIRECT", nil)
	proxies["REJECT"] = proxy.NewReject("REJECT")

	groups := make(map[string]group.Group, len(doc.ProxyGroups))
	for _, gc := range doc.ProxyGroups {
		g, err := buildGroup(gc, proxies, groups)
		if err != nil {
			return nil, errcat.ConfigErr.Newf("proxy-group %q: %w", gc.Name, err)
		}
		groups[gc.Name] = g
	}

	outbounds := &tunnel.Outbounds{Proxies: proxies, Groups: groups}

	proxyProviders := make(map[string]*provider.Provider, len(doc.ProxyProviders))
	for name, pc := range doc.ProxyProviders {
		vendor := provider.NewProxySetVendor(pool)
		p := provider.NewProvider(name, pc.URL, time.Duration(pc.Interval)*time.Second, vendor, cache)
		proxyProviders[name] = p
	}

	ruleProviders := make(map[string]*provider.Provider, len(doc.RuleProviders))
	ruleMatchers := make(map[string]rule.SetMatcher, len(doc.RuleProviders))
	for name, rc := range doc.RuleProviders {
		vendor := provider.NewRuleSetVendor(provider.Behavior(rc.Behavior))
		p := provider.NewProvider(name, rc.URL, time.Duration(rc.Interval)*time.Second, vendor, cache)
		ruleProviders[name] = p
		ruleMatchers[name] = vendorMatcher{vendor}
	}

	fakeIPPrefix, err := parseFakeIPRange(doc.DNS.FakeIPRange)
	if err != nil {
		return nil, errcat.ConfigErr.New(err)
	}
	upstreams := make([]dnsresolver.Upstream, 0, len(doc.DNS.Upstreams))
	for _, u := range doc.DNS.Upstreams {
		upstreams = append(upstreams, dnsresolver.Upstream{Proto: dnsresolver.UpstreamProto(u.Proto), Addr: u.Addr, Timeout: 5 * time.Second})
	}
	resolver := dnsresolver.New(upstreams, fakeIPPrefix)
	if len(doc.DNS.Hosts) > 0 {
		hosts := make(map[string][]netip.Addr, len(doc.DNS.Hosts))
		for h, ipStr := range doc.DNS.Hosts {
			if ip, err := netip.ParseAddr(ipStr); err == nil {
				hosts[h] = []netip.Addr{ip}
			}
		}
		resolver.SetHosts(hosts)
	}

	var geo *rule.GeoReader
	if doc.GeoIPPath != "" {
		geo, err = rule.NewGeoReader(doc.GeoIPPath, func(msg string) { relog.Warnf(context.Background(), "%s", msg) })
		if err != nil {
			relog.Warnf(context.Background(), "config: geoip database unavailable, GEOIP rules disabled: %v", err)
		}
	}

	ruleCfgs := make([]rule.Config, 0, len(doc.Rules))
	for _, line := range doc.Rules {
		cfg, err := parseRuleLine(line)
		if err != nil {
			return nil, errcat.ConfigErr.New(err)
		}
		ruleCfgs = append(ruleCfgs, cfg)
	}
	if !hasMatchRule(ruleCfgs) {
		ruleCfgs = append(ruleCfgs, rule.Config{Kind: rule.KindMatch, Target: "DIRECT"})
	}

	engine := rule.Compile(ruleCfgs, geo, ruleMatchers, resolverAdapter{resolver}, nil)

	return &Snapshot{
		Engine:         engine,
		Outbounds:      outbounds,
		Resolver:       resolver,
		Pool:           pool,
		ProxyProviders: proxyProviders,
		RuleProviders:  ruleProviders,
		Cache:          cache,
		Sidecars:       sidecars,
	}, nil
}

// vendorMatcher adapts a RuleSetVendor to rule.SetMatcher, reading its
// compiled matcher lazily on every call so a RULE-SET rule always sees the
// provider's latest successfully-parsed artifact (spec section 4.6). Before
// the first successful fetch or cache restore, Matcher() is nil and the
// rule deterministically does not match.
type vendorMatcher struct{ v *provider.RuleSetVendor }

func (m vendorMatcher) Match(meta *metadata.Metadata) bool {
	sm := m.v.Matcher()
	if sm == nil {
		return false
	}
	return sm.Match(meta)
}

// resolverAdapter satisfies rule.Resolver with dnsresolver.Resolver's
// richer, context-and-family-aware Resolve.
type resolverAdapter struct{ r *dnsresolver.Resolver }

func (a resolverAdapter) ResolveFirst(host string) (netip.Addr, error) {
	ips, err := a.r.Resolve(context.Background(), host, dnsresolver.FamilyBoth)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(ips) == 0 {
		return netip.Addr{}, fmt.Errorf("config: no records for %s", host)
	}
	return ips[0], nil
}

func buildGroup(gc ProxyGroupConfig, proxies map[string]proxy.Proxy, groups map[string]group.Group) (group.Group, error) {
	members := make([]group.Member, 0, len(gc.Proxies))
	for _, name := range gc.Proxies {
		if p, ok := proxies[name]; ok {
			members = append(members, p)
			continue
		}
		if g, ok := groups[name]; ok {
			members = append(members, g)
			continue
		}
		return nil, fmt.Errorf("config: unknown member %q", name)
	}
	interval := time.Duration(gc.Interval) * time.Second
	switch gc.Type {
	case "select", "selector":
		return group.NewSelector(gc.Name, members), nil
	case "url-test":
		return group.NewURLTest(gc.Name, members, gc.URL, interval), nil
	case "fallback":
		return group.NewFallback(gc.Name, members, interval), nil
	case "load-balance":
		return group.NewLoadBalance(gc.Name, members, group.Policy(gc.Strategy)), nil
	default:
		return nil, fmt.Errorf("config: unknown group type %q", gc.Type)
	}
}

// tlsDialer is the warm pool's generic background dialer, used for
// Prewarm() calls the pool itself issues rather than a protocol's own
// acquire-on-miss path (Trojan and VLESS dial their own fresh handshake on
// a pool miss; this is only reached from the prewarm loop). It assumes the
// key's ServerName is also reachable as a host:port address, true for
// every caller that prewarms by SNI.
func tlsDialer(ctx context.Context, key tlspool.Key) (*tls.Conn, error) {
	addr := net.JoinHostPort(key.ServerName, strconv.Itoa(int(key.Port)))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	cfg := &tls.Config{ServerName: key.ServerName, MinVersion: tls.VersionTLS12}
	if key.ALPN != "" {
		cfg.NextProtos = strings.Split(key.ALPN, ",")
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonTLS, err)
	}
	return tlsConn, nil
}

func parseFakeIPRange(cidr string) (netip.Prefix, error) {
	if cidr == "" {
		cidr = "198.18.0.0/16"
	}
	return netip.ParsePrefix(cidr)
}

func parseRuleLine(line string) (rule.Config, error) {
	line = strings.TrimSpace(line)
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return rule.Config{}, fmt.Errorf("config: malformed rule line %q", line)
	}
	kind := rule.Kind(strings.TrimSpace(parts[0]))
	if kind == rule.KindMatch {
		return rule.Config{Kind: kind, Target: strings.TrimSpace(parts[1])}, nil
	}
	if len(parts) < 3 {
		return rule.Config{}, fmt.Errorf("config: rule line missing target: %q", line)
	}
	cfg := rule.Config{Kind: kind, Payload: strings.TrimSpace(parts[1]), Target: strings.TrimSpace(parts[2])}
	for _, p := range parts[3:] {
		switch strings.TrimSpace(p) {
		case "no-resolve":
			cfg.Params.NoResolve = true
		case "src":
			cfg.Params.Src = true
		}
	}
	return cfg, nil
}

func hasMatchRule(cfgs []rule.Config) bool {
	for _, c := range cfgs {
		if c.Kind == rule.KindMatch {
			return true
		}
	}
	return false
}
