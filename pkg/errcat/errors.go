// Package errcat categorizes the core's errors the way spec section 7 lays
// them out, so callers can decide propagation (recovered locally, surfaced
// to the connection, surfaced to the control plane, or fatal) by category
// alone instead of string-matching messages.
package errcat

import (
	"errors"
	"fmt"
)

// Category is the top-level error family from spec section 7.
type Category int

const (
	OK Category = iota
	ConfigErr
	DNSErr
	DialErr
	RelayErr
	ProviderErr
	RuleErr
	ControlErr
)

func (c Category) String() string {
	switch c {
	case ConfigErr:
		return "ConfigError"
	case DNSErr:
		return "DnsError"
	case DialErr:
		return "DialError"
	case RelayErr:
		return "RelayError"
	case ProviderErr:
		return "ProviderError"
	case RuleErr:
		return "RuleError"
	case ControlErr:
		return "ControlError"
	default:
		return "OK"
	}
}

// Reason is the category-specific sub-kind, e.g. DialError{Tcp,Tls,Auth,...}.
type Reason string

const (
	// DNSError reasons
	ReasonTimeout  Reason = "timeout"
	ReasonNoRecord Reason = "no_records"
	ReasonRefused  Reason = "refused"

	// DialError reasons
	ReasonDNS      Reason = "dns"
	ReasonTCP      Reason = "tcp"
	ReasonTLS      Reason = "tls"
	ReasonAuth     Reason = "auth"
	ReasonProtocol Reason = "protocol"

	// RelayError reasons
	ReasonEOF   Reason = "eof"
	ReasonReset Reason = "reset"
	ReasonIdle  Reason = "idle"

	// RuleError reasons
	ReasonCycle   Reason = "group_cycle"
	ReasonUnknown Reason = "unknown_target"

	// ControlError reasons
	ReasonNotFound   Reason = "not_found"
	ReasonInvalidArg Reason = "invalid_arg"
)

type categorized struct {
	error
	category Category
	reason   Reason
}

// New creates a categorized error with no specific reason.
func (c Category) New(untypedErr interface{}) error {
	return c.Newr("", untypedErr)
}

// Newr creates a categorized error carrying a specific reason.
func (c Category) Newr(reason Reason, untypedErr interface{}) error {
	var err error
	switch v := untypedErr.(type) {
	case nil:
		return nil
	case error:
		err = v
	case string:
		err = errors.New(v)
	default:
		err = fmt.Errorf("%v", v)
	}
	return &categorized{error: err, category: c, reason: reason}
}

// Newf creates a categorized error from a format string, '%w' works as usual.
func (c Category) Newf(format string, a ...interface{}) error {
	return &categorized{error: fmt.Errorf(format, a...), category: c}
}

func (ce *categorized) Unwrap() error { return ce.error }

// GetCategory returns OK for nil, the category of the first categorized
// error in err's chain, or RelayErr when the chain carries no category.
func GetCategory(err error) Category {
	if err == nil {
		return OK
	}
	for {
		var ce *categorized
		if errors.As(err, &ce) {
			return ce.category
		}
		u := errors.Unwrap(err)
		if u == nil {
			return RelayErr
		}
		err = u
	}
}

// GetReason returns the reason attached to a categorized error, or "" if none.
func GetReason(err error) Reason {
	var ce *categorized
	if errors.As(err, &ce) {
		return ce.reason
	}
	return ""
}
