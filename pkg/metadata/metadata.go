// Package metadata defines the per-connection routing record that flows
// from an inbound listener through the rule engine to an outbound dial,
// as described in spec section 3.
package metadata

import (
	"net"
	"net/netip"
	"strconv"
)

// Network is the transport the inbound accepted.
type Network uint8

const (
	TCP Network = iota
	UDP
)

func (n Network) String() string {
	if n == UDP {
		return "udp"
	}
	return "tcp"
}

// InboundKind identifies which listener produced this Metadata.
type InboundKind uint8

const (
	InboundHTTP InboundKind = iota
	InboundHTTPConnect
	InboundSOCKS5
	InboundMixed
	InboundTUN
)

func (k InboundKind) String() string {
	switch k {
	case InboundHTTP:
		return "http"
	case InboundHTTPConnect:
		return "http-connect"
	case InboundSOCKS5:
		return "socks5"
	case InboundMixed:
		return "mixed"
	case InboundTUN:
		return "tun"
	default:
		return "unknown"
	}
}

// Metadata is produced by an inbound decoder and consumed everywhere
// downstream: the rule engine, the outbound dialer, the statistics
// registry.
type Metadata struct {
	Network     Network
	InboundKind InboundKind
	SourceAddr  net.Addr

	DestHost string // optional hostname, set when the client gave a name
	DestIP   netip.Addr
	DestPort uint16

	ProcessName string
	ProcessPath string

	SniffedHost string // filled by TLS SNI / HTTP Host sniffing

	User string // inbound auth identity, if any
}

// HasHost reports whether DestHost (or a sniffed override) is usable for
// domain-family rule matching. Per SPEC_FULL, a sniffed host takes
// precedence over DestHost for domain-family rules only.
func (m *Metadata) HasHost() bool {
	return m.SniffedHost != "" || m.DestHost != ""
}

// Host returns the best-known hostname for domain-family rule evaluation.
func (m *Metadata) Host() string {
	if m.SniffedHost != "" {
		return m.SniffedHost
	}
	return m.DestHost
}

// HasIP reports whether DestIP is already resolved.
func (m *Metadata) HasIP() bool {
	return m.DestIP.IsValid()
}

// RemoteAddress renders "host-or-ip:port" for logging.
func (m *Metadata) RemoteAddress() string {
	host := m.DestHost
	if host == "" {
		host = m.DestIP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(m.DestPort)))
}

// FromAddress builds a minimal Metadata for dialing "host:port" directly,
// used by callers that need to drive a Proxy without coming from an
// inbound listener (the URLTest delay-test's own HTTP client, health
// checks).
func FromAddress(network, addr string) (*Metadata, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	m := &Metadata{DestPort: uint16(port)}
	if network == "udp" {
		m.Network = UDP
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		m.DestIP = ip
	} else {
		m.DestHost = host
	}
	return m, nil
}

// Clone returns a shallow copy, used when a rule needs to mutate Metadata
// (e.g. on-demand resolve) without affecting a concurrently-read original.
func (m *Metadata) Clone() *Metadata {
	c := *m
	return &c
}
