package provider

import (
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/relaycore/relayd/pkg/proxy"
	"github.com/relaycore/relayd/pkg/proxy/shadowsocks"
	"github.com/relaycore/relayd/pkg/tlspool"
)

// ProxyEntry is one proxy definition as it appears in a subscription
// document's `proxies:` list or the static config's own `proxies:`
// section — the wire shape shared by both (spec section 6).
type ProxyEntry struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	UUID     string `yaml:"uuid"`
	Cipher   string `yaml:"cipher"`
	SNI      string `yaml:"sni"`
	ALPN     []string `yaml:"alpn"`
	UDP      bool   `yaml:"udp"`
	TLS      bool   `yaml:"tls"`
	SkipCertVerify bool `yaml:"skip-cert-verify"`
	Username string `yaml:"username"`
	Command     string   `yaml:"command"`      // gofallback: sidecar binary path
	CommandArgs []string `yaml:"command-args"` // gofallback: sidecar binary arguments
}

type proxySetDoc struct {
	Proxies []ProxyEntry `yaml:"proxies"`
}

// BuildProxy constructs the concrete proxy.Proxy for one entry, reusing
// the warm TLS pool for the TLS-carried protocols (Trojan, VLESS) exactly
// as the static config path does.
func BuildProxy(e ProxyEntry, pool *tlspool.Pool) (proxy.Proxy, error) {
	addr := joinHostPort(e.Server, e.Port)
	switch e.Type {
	case "direct":
		return proxy.NewDirect(e.Name, nil), nil
	case "reject":
		return proxy.NewReject(e.Name), nil
	case "http":
		return proxy.NewHTTPProxy(e.Name, addr, e.Username, e.Password, nil), nil
	case "socks5":
		return proxy.NewSOCKS5(e.Name, addr, e.Username, e.Password), nil
	case "ss":
		return proxy.NewShadowsocks(e.Name, addr, e.Password, shadowsocks.Method(e.Cipher)), nil
	case "trojan":
		return proxy.NewTrojan(e.Name, addr, e.SNI, e.Password, e.ALPN, pool), nil
	case "vless":
		return proxy.NewVLESS(e.Name, addr, e.SNI, e.UUID, e.ALPN, pool)
	case "vmess":
		return proxy.NewVMess(e.Name, addr, e.UUID, e.TLS, e.SNI, e.ALPN)
	case "hysteria2":
		return proxy.NewHysteria2(e.Name, addr, e.Password, e.SNI, e.SkipCertVerify), nil
	case "gofallback":
		return proxy.NewGoFallback(e.Name, addr), nil
	default:
		return nil, &unknownProxyTypeError{kind: e.Type}
	}
}

type unknownProxyTypeError struct{ kind string }

func (e *unknownProxyTypeError) Error() string { return "provider: unknown proxy type " + e.kind }

// ProxySetVendor is the Vendor for a proxy-set provider: it materializes a
// subscription document's `proxies:` list into concrete proxy.Proxy
// values, swapped atomically so readers never see a partial list (spec
// section 4.6's "complete, self-consistent snapshot" invariant).
type ProxySetVendor struct {
	pool *tlspool.Pool

	mu      sync.RWMutex
	proxies []proxy.Proxy
	raw     []byte
}

func NewProxySetVendor(pool *tlspool.Pool) *ProxySetVendor {
	return &ProxySetVendor{pool: pool}
}

func (v *ProxySetVendor) Parse(data []byte) error {
	var doc proxySetDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	built := make([]proxy.Proxy, 0, len(doc.Proxies))
	for _, e := range doc.Proxies {
		p, err := BuildProxy(e, v.pool)
		if err != nil {
			continue // one malformed entry doesn't invalidate the whole set
		}
		built = append(built, p)
	}
	v.mu.Lock()
	v.proxies = built
	v.raw = append([]byte{}, data...)
	v.mu.Unlock()
	return nil
}

func (v *ProxySetVendor) Marshal() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]byte{}, v.raw...), nil
}

func (v *ProxySetVendor) Restore(data []byte) error {
	return v.Parse(data)
}

// Proxies returns the current materialized proxy list.
func (v *ProxySetVendor) Proxies() []proxy.Proxy {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]proxy.Proxy{}, v.proxies...)
}

func joinHostPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
