package dnsresolver

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// UpstreamProto selects the wire transport for one configured upstream
// server (spec section 4.7's "plain UDP, DoH, or DoT").
type UpstreamProto string

const (
	ProtoUDP UpstreamProto = "udp"
	ProtoDoH UpstreamProto = "doh"
	ProtoDoT UpstreamProto = "dot"
)

// Upstream is one configured DNS server.
type Upstream struct {
	Proto   UpstreamProto
	Addr    string // host:port for udp/dot, full URL for doh
	Timeout time.Duration
}

// answer is what a single upstream query resolves to.
type answer struct {
	ips []netip.Addr
	ttl time.Duration
}

// query issues a single A/AAAA lookup against u and parses the answer.
func (u Upstream) query(ctx context.Context, host string, qtype uint16) (answer, error) {
	timeout := u.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	switch u.Proto {
	case ProtoDoH:
		return u.queryDoH(ctx, msg)
	case ProtoDoT:
		return u.queryDoT(ctx, msg)
	default:
		return u.queryUDP(ctx, msg)
	}
}

func (u Upstream) queryUDP(ctx context.Context, msg *dns.Msg) (answer, error) {
	c := new(dns.Client)
	c.Net = "udp"
	c.Timeout = 5 * time.Second
	if d, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(d)
	}
	resp, _, err := c.Exchange(msg, u.Addr)
	if err != nil {
		return answer{}, err
	}
	return parseAnswer(resp), nil
}

func (u Upstream) queryDoT(ctx context.Context, msg *dns.Msg) (answer, error) {
	host, _, err := net.SplitHostPort(u.Addr)
	if err != nil {
		host = u.Addr
	}
	dialer := &net.Dialer{}
	conn, err := tls.DialWithDialer(dialer, "tcp", u.Addr, &tls.Config{ServerName: host})
	if err != nil {
		return answer{}, err
	}
	defer conn.Close()
	dc := &dns.Conn{Conn: conn}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := dc.WriteMsg(msg); err != nil {
		return answer{}, err
	}
	resp, err := dc.ReadMsg()
	if err != nil {
		return answer{}, err
	}
	return parseAnswer(resp), nil
}

func (u Upstream) queryDoH(ctx context.Context, msg *dns.Msg) (answer, error) {
	packed, err := msg.Pack()
	if err != nil {
		return answer{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Addr, bytes.NewReader(packed))
	if err != nil {
		return answer{}, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.ContentLength = int64(len(packed))

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return answer{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return answer{}, err
	}
	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return answer{}, err
	}
	return parseAnswer(reply), nil
}

func parseAnswer(msg *dns.Msg) answer {
	var a answer
	a.ttl = maxTTL
	for _, rr := range msg.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			if ip, ok := netip.AddrFromSlice(rec.A.To4()); ok {
				a.ips = append(a.ips, ip)
			}
			a.ttl = minDuration(a.ttl, time.Duration(rec.Hdr.Ttl)*time.Second)
		case *dns.AAAA:
			if ip, ok := netip.AddrFromSlice(rec.AAAA.To16()); ok {
				a.ips = append(a.ips, ip)
			}
			a.ttl = minDuration(a.ttl, time.Duration(rec.Hdr.Ttl)*time.Second)
		}
	}
	return a
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
