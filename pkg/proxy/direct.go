package proxy

import (
	"context"
	"net"
	"net/netip"
	"strconv"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
)

// Direct binds a local socket straight to the destination, resolving the
// hostname first if the inbound didn't already supply an IP (spec 4.3).
type Direct struct {
	base
	Resolver func(host string) (netip.Addr, error)
	Dialer   net.Dialer
}

func NewDirect(name string, resolver func(string) (netip.Addr, error)) *Direct {
	d := &Direct{Resolver: resolver}
	d.name, d.kind = name, KindDirect
	d.SetAlive(true)
	return d
}

func (d *Direct) SupportsUDP() bool { return true }

func (d *Direct) destination(m *metadata.Metadata) (string, error) {
	if m.HasIP() {
		return net.JoinHostPort(m.DestIP.String(), portStr(m.DestPort)), nil
	}
	if !m.HasHost() {
		return "", errcat.DialErr.Newr(errcat.ReasonDNS, "no destination host or ip")
	}
	if d.Resolver == nil {
		return net.JoinHostPort(m.Host(), portStr(m.DestPort)), nil
	}
	ip, err := d.Resolver(m.Host())
	if err != nil {
		return "", errcat.DialErr.Newr(errcat.ReasonDNS, err)
	}
	return net.JoinHostPort(ip.String(), portStr(m.DestPort)), nil
}

func (d *Direct) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	addr, err := d.destination(m)
	if err != nil {
		return nil, err
	}
	conn, err := d.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	return conn, nil
}

func (d *Direct) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	addr, err := d.destination(m)
	if err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonDNS, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	return conn, nil
}

func portStr(p uint16) string {
	return strconv.Itoa(int(p))
}
