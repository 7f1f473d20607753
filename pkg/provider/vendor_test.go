package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relayd/pkg/metadata"
)

const proxySetYAML = `
proxies:
  - name: node-a
    type: ss
    server: 203.0.113.1
    port: 8388
    password: secret
    cipher: aes-256-gcm
  - name: node-b
    type: direct
  - name: broken
    type: does-not-exist
`

func TestProxySetVendorParseSkipsUnknownType(t *testing.T) {
	v := NewProxySetVendor(nil)
	require.NoError(t, v.Parse([]byte(proxySetYAML)))

	names := make([]string, 0)
	for _, p := range v.Proxies() {
		names = append(names, p.Name())
	}
	assert.ElementsMatch(t, []string{"node-a", "node-b"}, names)
}

func TestProxySetVendorMarshalRoundTrip(t *testing.T) {
	v := NewProxySetVendor(nil)
	require.NoError(t, v.Parse([]byte(proxySetYAML)))

	data, err := v.Marshal()
	require.NoError(t, err)

	v2 := NewProxySetVendor(nil)
	require.NoError(t, v2.Restore(data))
	assert.Len(t, v2.Proxies(), 2)
}

func TestProxySetVendorReplacesAtomically(t *testing.T) {
	v := NewProxySetVendor(nil)
	require.NoError(t, v.Parse([]byte(proxySetYAML)))
	require.Len(t, v.Proxies(), 2)

	require.NoError(t, v.Parse([]byte("proxies: []")))
	assert.Len(t, v.Proxies(), 0)
}

const classicalRuleSetYAML = `
payload:
  - "DOMAIN-SUFFIX,example.com"
  - "IP-CIDR,10.0.0.0/8,no-resolve"
`

func TestRuleSetVendorClassicalCompile(t *testing.T) {
	v := NewRuleSetVendor(BehaviorClassical)
	assert.False(t, v.Ready())
	require.NoError(t, v.Parse([]byte(classicalRuleSetYAML)))
	assert.True(t, v.Ready())

	m := v.Matcher()
	require.NotNil(t, m)
	assert.True(t, m.Match(&metadata.Metadata{DestHost: "api.example.com"}))
}

const domainRuleSetYAML = `
payload:
  - "+.example.com"
`

func TestRuleSetVendorDomainCompile(t *testing.T) {
	v := NewRuleSetVendor(BehaviorDomain)
	require.NoError(t, v.Parse([]byte(domainRuleSetYAML)))
	assert.True(t, v.Matcher().Match(&metadata.Metadata{DestHost: "sub.example.com"}))
}

const ipcidrRuleSetYAML = `
payload:
  - "10.0.0.0/8"
`

func TestRuleSetVendorIPCIDRCompile(t *testing.T) {
	v := NewRuleSetVendor(BehaviorIPCIDR)
	require.NoError(t, v.Parse([]byte(ipcidrRuleSetYAML)))
	assert.True(t, v.Ready())
}

func TestRuleSetVendorMatcherNilBeforeFirstParse(t *testing.T) {
	v := NewRuleSetVendor(BehaviorClassical)
	assert.Nil(t, v.Matcher())
}
