package rule

import (
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/relaycore/relayd/pkg/metadata"
)

// Resolver is the minimal hostname resolution capability the engine needs
// to perform the on-demand resolve described in spec section 4.1/4.2.
type Resolver interface {
	ResolveFirst(host string) (netip.Addr, error)
}

// ProcessLookup is the best-effort process-name capability used by
// PROCESS-NAME / PROCESS-PATH rules.
type ProcessLookup interface {
	Lookup(network metadata.Network, srcAddr string) (name, path string, ok bool)
}

type compiled struct {
	cfg      Config
	regex    *regexp.Regexp
	prefix   netip.Prefix
	hasCIDR  bool
	setName  string // for RULE-SET
}

// Engine evaluates an ordered, immutable rule snapshot against Metadata.
// A snapshot is produced once by Compile and is safe for concurrent,
// read-only use by many goroutines (spec section 4.2 purity invariant).
type Engine struct {
	rules       []compiled
	matchTarget string // implicit MATCH target, defaults to "DIRECT"
	geo         *GeoReader
	sets        map[string]SetMatcher
	resolver    Resolver
	procLookup  ProcessLookup
}

// Compile builds an immutable Engine from declared rule configs. sets maps
// a RULE-SET rule's provider name to its compiled SetMatcher; a name absent
// from sets means "provider unavailable", and the rule deterministically
// does not match (spec section 4.2).
func Compile(cfgs []Config, geo *GeoReader, sets map[string]SetMatcher, resolver Resolver, procLookup ProcessLookup) *Engine {
	e := &Engine{
		matchTarget: "DIRECT",
		geo:         geo,
		sets:        sets,
		resolver:    resolver,
		procLookup:  procLookup,
	}
	for _, c := range cfgs {
		cc := compiled{cfg: c}
		switch c.Kind {
		case KindDomainRegex:
			cc.regex = regexp.MustCompile(c.Payload)
		case KindIPCIDR, KindIPCIDR6, KindSrcIPCIDR:
			if p, err := netip.ParsePrefix(c.Payload); err == nil {
				cc.prefix = p
				cc.hasCIDR = true
			}
		case KindRuleSet:
			cc.setName = c.Payload
		case KindMatch:
			e.matchTarget = c.Target
			continue // MATCH is handled as the implicit terminal rule below
		}
		e.rules = append(e.rules, cc)
	}
	return e
}

// Match evaluates metadata against the snapshot in declaration order and
// returns the matched rule's declared Config and target. If nothing
// matches, it returns the implicit MATCH rule (DIRECT unless overridden).
//
// Match may mutate metadata.DestIP via on-demand resolve, and
// metadata.ProcessName/ProcessPath via a best-effort process lookup — both
// performed at most once per evaluation, mirroring the pack's
// `resolved`/`processFound` one-shot flags (see SPEC_FULL).
func (e *Engine) Match(m *metadata.Metadata) (cfg Config, target string) {
	var resolved, processLooked bool
	for _, c := range e.rules {
		if !resolved && e.resolver != nil && c.cfg.needsResolve() && !m.HasIP() && m.HasHost() {
			if ip, err := e.resolver.ResolveFirst(m.Host()); err == nil {
				m.DestIP = ip
			}
			resolved = true
		}
		if !processLooked && e.procLookup != nil && needsProcess(c.cfg.Kind) {
			processLooked = true
			if name, path, ok := e.procLookup.Lookup(m.Network, m.SourceAddr.String()); ok {
				m.ProcessName = name
				m.ProcessPath = path
			}
		}
		if e.matchOne(c, m) {
			return c.cfg, c.cfg.Target
		}
	}
	return Config{Kind: KindMatch, Target: e.matchTarget}, e.matchTarget
}

func needsProcess(k Kind) bool {
	return k == KindProcessName || k == KindProcessPath
}

func (e *Engine) matchOne(c compiled, m *metadata.Metadata) bool {
	switch c.cfg.Kind {
	case KindDomain:
		return m.HasHost() && strings.EqualFold(m.Host(), c.cfg.Payload)
	case KindDomainSuffix:
		return m.HasHost() && domainHasSuffix(m.Host(), c.cfg.Payload)
	case KindDomainKeyword:
		return m.HasHost() && strings.Contains(strings.ToLower(m.Host()), strings.ToLower(c.cfg.Payload))
	case KindDomainRegex:
		return m.HasHost() && c.regex.MatchString(m.Host())
	case KindIPCIDR, KindIPCIDR6:
		return m.HasIP() && c.hasCIDR && c.prefix.Contains(m.DestIP)
	case KindSrcIPCIDR:
		ip := hostAddr(m.SourceAddr)
		return ip.IsValid() && c.hasCIDR && c.prefix.Contains(ip)
	case KindGEOIP:
		return m.HasIP() && e.geo.Country(m.DestIP, c.cfg.Payload)
	case KindDstPort:
		return portInRange(m.DestPort, c.cfg.Payload)
	case KindSrcPort:
		_, p := hostAddrPort(m.SourceAddr)
		return portInRange(p, c.cfg.Payload)
	case KindProcessName:
		return m.ProcessName != "" && strings.EqualFold(m.ProcessName, c.cfg.Payload)
	case KindProcessPath:
		return m.ProcessPath != "" && strings.EqualFold(m.ProcessPath, c.cfg.Payload)
	case KindNetwork:
		return strings.EqualFold(m.Network.String(), c.cfg.Payload)
	case KindRuleSet:
		sm, ok := e.sets[c.setName]
		if !ok {
			return false // provider unavailable: deterministic non-match
		}
		return sm.Match(m)
	default:
		return false
	}
}

func hostAddr(a interface{ String() string }) netip.Addr {
	if a == nil {
		return netip.Addr{}
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return netip.Addr{}
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return ip
}

func hostAddrPort(a interface{ String() string }) (netip.Addr, uint16) {
	if a == nil {
		return netip.Addr{}, 0
	}
	host, portStr, err := net.SplitHostPort(a.String())
	if err != nil {
		return netip.Addr{}, 0
	}
	ip, _ := netip.ParseAddr(host)
	p, _ := strconv.ParseUint(portStr, 10, 16)
	return ip, uint16(p)
}

func portInRange(p uint16, spec string) bool {
	spec = strings.TrimSpace(spec)
	if idx := strings.Index(spec, "-"); idx >= 0 {
		lo, err1 := strconv.ParseUint(spec[:idx], 10, 16)
		hi, err2 := strconv.ParseUint(spec[idx+1:], 10, 16)
		if err1 != nil || err2 != nil {
			return false
		}
		return uint16(lo) <= p && p <= uint16(hi)
	}
	v, err := strconv.ParseUint(spec, 10, 16)
	return err == nil && uint16(v) == p
}
