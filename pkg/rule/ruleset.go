package rule

import (
	"net/netip"
	"regexp"
	"strings"

	"github.com/relaycore/relayd/pkg/metadata"
)

// SetMatcher is what a compiled rule-provider artifact exposes to the
// engine for a RULE-SET rule (spec section 4.2 and 4.6). One SetMatcher
// corresponds to one provider's `behavior`.
type SetMatcher interface {
	Match(m *metadata.Metadata) bool
}

// DomainSetMatcher backs behavior=rule-domain: many domains, one target,
// matched through the reversed-label trie for O(len(domain)) lookups.
type DomainSetMatcher struct {
	exact  *domainTrie
	suffix *domainTrie
}

// NewDomainSetMatcher compiles a flat list of "[+.]domain" lines the way
// rule-set files commonly encode suffix vs. exact entries: a leading "+."
// or a bare "." marks a suffix entry, anything else is exact.
func NewDomainSetMatcher(lines []string) *DomainSetMatcher {
	d := &DomainSetMatcher{exact: newDomainTrie(), suffix: newDomainTrie()}
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(l, "+."):
			d.suffix.insert(l[2:])
		case strings.HasPrefix(l, "."):
			d.suffix.insert(l[1:])
		default:
			d.exact.insert(l)
		}
	}
	return d
}

func (d *DomainSetMatcher) Match(m *metadata.Metadata) bool {
	if !m.HasHost() {
		return false
	}
	host := m.Host()
	return d.exact.matchExact(host) || d.suffix.matchSuffix(host)
}

// IPCIDRSetMatcher backs behavior=rule-ipcidr.
type IPCIDRSetMatcher struct {
	trie *cidrTrie
}

func NewIPCIDRSetMatcher(prefixes []netip.Prefix) *IPCIDRSetMatcher {
	t := newCIDRTrie()
	for _, p := range prefixes {
		t.insert(p)
	}
	return &IPCIDRSetMatcher{trie: t}
}

func (s *IPCIDRSetMatcher) Match(m *metadata.Metadata) bool {
	return m.HasIP() && s.trie.contains(m.DestIP)
}

// ClassicalSetMatcher backs behavior=rule-classical: an ordered list of
// normal rule lines sharing the set's single target, first match wins.
type ClassicalSetMatcher struct {
	rules []compiledLine
}

type compiledLine struct {
	kind    Kind
	payload string
	regex   *regexp.Regexp
	params  Params
}

func NewClassicalSetMatcher(lines []Config) *ClassicalSetMatcher {
	c := &ClassicalSetMatcher{}
	for _, l := range lines {
		cl := compiledLine{kind: l.Kind, payload: l.Payload, params: l.Params}
		if l.Kind == KindDomainRegex {
			cl.regex = regexp.MustCompile(l.Payload)
		}
		c.rules = append(c.rules, cl)
	}
	return c
}

func (c *ClassicalSetMatcher) Match(m *metadata.Metadata) bool {
	for _, l := range c.rules {
		if matchLine(l, m) {
			return true
		}
	}
	return false
}

func matchLine(l compiledLine, m *metadata.Metadata) bool {
	switch l.kind {
	case KindDomain:
		return m.HasHost() && strings.EqualFold(m.Host(), l.payload)
	case KindDomainSuffix:
		return m.HasHost() && domainHasSuffix(m.Host(), l.payload)
	case KindDomainKeyword:
		return m.HasHost() && strings.Contains(strings.ToLower(m.Host()), strings.ToLower(l.payload))
	case KindDomainRegex:
		return m.HasHost() && l.regex.MatchString(m.Host())
	case KindIPCIDR, KindIPCIDR6:
		if !m.HasIP() {
			return false
		}
		p, err := netip.ParsePrefix(l.payload)
		return err == nil && p.Contains(m.DestIP)
	default:
		return false
	}
}

func domainHasSuffix(host, suffix string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	suffix = strings.ToLower(strings.TrimSuffix(suffix, "."))
	if host == suffix {
		return true
	}
	return strings.HasSuffix(host, "."+suffix)
}
