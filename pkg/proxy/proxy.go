// Package proxy defines the Proxy capability set from spec section 3 and
// its concrete protocol implementations. The set is closed and small, so a
// tagged interface with per-kind structs is used instead of a deep
// interface hierarchy (spec section 9 design note).
package proxy

import (
	"context"
	"net"

	"github.com/relaycore/relayd/pkg/metadata"
)

// Kind identifies a proxy's wire protocol.
type Kind string

const (
	KindDirect      Kind = "direct"
	KindReject      Kind = "reject"
	KindShadowsocks Kind = "ss"
	KindTrojan      Kind = "trojan"
	KindVLESS       Kind = "vless"
	KindVMess       Kind = "vmess"
	KindHysteria2   Kind = "hysteria2"
	KindHTTP        Kind = "http"
	KindSOCKS5      Kind = "socks5"
	KindGoFallback  Kind = "gofallback"
)

// DialError is a typed dial error carrying a reason string. The outbounds
// in this package report dial failures as errcat.DialErr errors and do not
// return this type.
type DialError struct {
	Reason string // dns|tcp|tls|auth|protocol|timeout
	Err    error
}

func (e *DialError) Error() string { return e.Reason + ": " + e.Err.Error() }
func (e *DialError) Unwrap() error { return e.Err }

// Proxy is the capability set every outbound variant implements.
type Proxy interface {
	Name() string
	Kind() Kind
	SupportsUDP() bool
	Alive() bool
	LastDelayMs() int64

	DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error)
	DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error)
}

// base provides the bookkeeping shared by every protocol implementation:
// name, a delay sample updated by health-checks, and an alive flag flipped
// by the group/provider health-check loop (spec section 4.5, 4.6).
type base struct {
	name     string
	kind     Kind
	alive    int32 // atomic bool
	delayMs  int64 // atomic
}

func (b *base) Name() string { return b.name }
func (b *base) Kind() Kind   { return b.kind }
