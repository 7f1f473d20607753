package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"

	"github.com/relaycore/relayd/pkg/errcat"
	"github.com/relaycore/relayd/pkg/metadata"
)

// HTTPProxy is a standard CONNECT-based outbound, optionally over TLS.
type HTTPProxy struct {
	base
	Addr       string
	Username   string
	Password   string
	TLSConfig  *tls.Config // non-nil enables HTTPS to the proxy itself
}

func NewHTTPProxy(name, addr, user, pass string, tlsCfg *tls.Config) *HTTPProxy {
	h := &HTTPProxy{Addr: addr, Username: user, Password: pass, TLSConfig: tlsCfg}
	h.name, h.kind = name, KindHTTP
	h.SetAlive(true)
	return h
}

func (h *HTTPProxy) SupportsUDP() bool { return false }

func (h *HTTPProxy) DialUDP(ctx context.Context, m *metadata.Metadata) (net.PacketConn, error) {
	return nil, errcat.DialErr.Newr(errcat.ReasonProtocol, "http outbound does not support udp")
}

func (h *HTTPProxy) DialTCP(ctx context.Context, m *metadata.Metadata) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", h.Addr)
	if err != nil {
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	if h.TLSConfig != nil {
		tlsConn := tls.Client(conn, h.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, errcat.DialErr.Newr(errcat.ReasonTLS, err)
		}
		conn = tlsConn
	}
	target := m.RemoteAddress()
	req, _ := http.NewRequest(http.MethodConnect, "http://"+target, nil)
	req.Host = target
	if h.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(h.Username + ":" + h.Password))
		req.Header.Set("Proxy-Authorization", "Basic "+auth)
	}
	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonTCP, err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		_ = conn.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonProtocol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusProxyAuthRequired {
		_ = conn.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonAuth, fmt.Sprintf("http proxy auth required: %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, errcat.DialErr.Newr(errcat.ReasonProtocol, fmt.Sprintf("http CONNECT failed: %s", resp.Status))
	}
	return conn, nil
}
