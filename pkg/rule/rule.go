package rule

import (
	"errors"
	"strings"
)

// Kind enumerates the rule types from spec section 3.
type Kind string

const (
	KindDomain        Kind = "DOMAIN"
	KindDomainSuffix  Kind = "DOMAIN-SUFFIX"
	KindDomainKeyword Kind = "DOMAIN-KEYWORD"
	KindDomainRegex   Kind = "DOMAIN-REGEX"
	KindIPCIDR        Kind = "IP-CIDR"
	KindIPCIDR6       Kind = "IP-CIDR6"
	KindGEOIP         Kind = "GEOIP"
	KindSrcIPCIDR     Kind = "SRC-IP-CIDR"
	KindDstPort       Kind = "DST-PORT"
	KindSrcPort       Kind = "SRC-PORT"
	KindProcessName   Kind = "PROCESS-NAME"
	KindProcessPath   Kind = "PROCESS-PATH"
	KindNetwork       Kind = "NETWORK"
	KindRuleSet       Kind = "RULE-SET"
	KindMatch         Kind = "MATCH"
)

// Params carries the optional rule parameters from spec section 3.
type Params struct {
	NoResolve bool
	Src       bool
}

// Config is the declared, not-yet-compiled shape of one rule line, e.g.
// parsed from the `rules:` section of the configuration document.
type Config struct {
	Kind    Kind
	Payload string
	Target  string
	Params  Params
}

// ParseClassicalLine parses one "KIND,payload[,no-resolve]" rule-set line,
// the same comma-separated shape a classical behavior rule-set file uses
// for each of its entries (no target column: the whole rule-set shares
// one target, carried by the provider, not the line).
func ParseClassicalLine(line string) (Config, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Config{}, errors.New("rule: blank or comment line")
	}
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return Config{}, errors.New("rule: malformed classical line: " + line)
	}
	cfg := Config{Kind: Kind(strings.TrimSpace(parts[0])), Payload: strings.TrimSpace(parts[1])}
	for _, p := range parts[2:] {
		if strings.TrimSpace(p) == "no-resolve" {
			cfg.Params.NoResolve = true
		}
	}
	return cfg, nil
}

// needsResolve reports whether this rule, as declared, requires dest_ip to
// be known before it can be evaluated (spec section 3 invariant).
func (c Config) needsResolve() bool {
	if c.Params.NoResolve {
		return false
	}
	switch c.Kind {
	case KindIPCIDR, KindIPCIDR6, KindGEOIP:
		return true
	default:
		return false
	}
}
