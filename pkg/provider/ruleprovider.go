package provider

import (
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/relaycore/relayd/pkg/rule"
)

// Behavior selects which SetMatcher shape a rule provider's payload lines
// compile into (spec section 4.6's RULE-SET behavior attribute).
type Behavior string

const (
	BehaviorDomain     Behavior = "domain"
	BehaviorIPCIDR     Behavior = "ipcidr"
	BehaviorClassical  Behavior = "classical"
)

type rulePayloadDoc struct {
	Payload []string `yaml:"payload"`
}

// RuleSetVendor materializes a rule provider's payload into a compiled
// rule.SetMatcher, swapped atomically so the engine never observes a
// partially-compiled rule set mid-refresh.
type RuleSetVendor struct {
	Behavior Behavior

	mu      sync.RWMutex
	matcher rule.SetMatcher
	raw     []byte
	ready   int32
}

func NewRuleSetVendor(behavior Behavior) *RuleSetVendor {
	return &RuleSetVendor{Behavior: behavior}
}

func (v *RuleSetVendor) Parse(data []byte) error {
	var doc rulePayloadDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	m, err := v.compile(doc.Payload)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.matcher = m
	v.raw = append([]byte{}, data...)
	v.mu.Unlock()
	atomic.StoreInt32(&v.ready, 1)
	return nil
}

func (v *RuleSetVendor) compile(lines []string) (rule.SetMatcher, error) {
	switch v.Behavior {
	case BehaviorDomain:
		return rule.NewDomainSetMatcher(lines), nil
	case BehaviorIPCIDR:
		prefixes := make([]netip.Prefix, 0, len(lines))
		for _, l := range lines {
			l = strings.TrimSpace(l)
			if l == "" || strings.HasPrefix(l, "#") {
				continue
			}
			p, err := netip.ParsePrefix(l)
			if err != nil {
				continue
			}
			prefixes = append(prefixes, p)
		}
		return rule.NewIPCIDRSetMatcher(prefixes), nil
	default:
		cfgs := make([]rule.Config, 0, len(lines))
		for _, l := range lines {
			cfg, err := rule.ParseClassicalLine(l)
			if err != nil {
				continue
			}
			cfgs = append(cfgs, cfg)
		}
		return rule.NewClassicalSetMatcher(cfgs), nil
	}
}

func (v *RuleSetVendor) Marshal() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]byte{}, v.raw...), nil
}

func (v *RuleSetVendor) Restore(data []byte) error {
	return v.Parse(data)
}

// Matcher returns the currently-compiled matcher, implementing lazy
// retrieval: the engine calls this on every RULE-SET evaluation rather
// than holding a stale pointer, per spec section 4.6's "lazy-compiled"
// rule-provider supplement.
func (v *RuleSetVendor) Matcher() rule.SetMatcher {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.matcher
}

func (v *RuleSetVendor) Ready() bool { return atomic.LoadInt32(&v.ready) != 0 }
