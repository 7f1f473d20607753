package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/relayd/pkg/metadata"
	"github.com/relaycore/relayd/pkg/provider"
	"github.com/relaycore/relayd/pkg/rule"
)

func minimalDoc(t *testing.T) *Document {
	t.Helper()
	return &Document{
		LogLevel:    "info",
		Mode:        ModeRule,
		DataDir:     t.TempDir(),
		GeoIPPath:   "",
		DNS:         DNSConfig{FakeIPRange: "198.18.0.0/16"},
		Rules:       []string{"DOMAIN-SUFFIX,example.com,DIRECT"},
		ProxyGroups: nil,
	}
}

func TestBuildProducesSnapshotWithImplicitMatchRule(t *testing.T) {
	doc := minimalDoc(t)
	snap, err := Build(doc)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.NotNil(t, snap.Engine)
	assert.NotNil(t, snap.Outbounds)
	assert.NotNil(t, snap.Resolver)
	assert.NotNil(t, snap.Pool)

	_, ok := snap.Outbounds.Proxies["DIRECT"]
	assert.True(t, ok, "DIRECT must always be registered")
	_, ok = snap.Outbounds.Proxies["REJECT"]
	assert.True(t, ok, "REJECT must always be registered")

	_, target := snap.Engine.Match(&metadata.Metadata{DestHost: "other.org"})
	assert.Equal(t, "DIRECT", target, "an unmatched destination falls through to the implicit MATCH rule")
}

func TestBuildWiresProxyGroupsInDeclarationOrder(t *testing.T) {
	doc := minimalDoc(t)
	doc.ProxyGroups = []ProxyGroupConfig{
		{Name: "auto", Type: "url-test", Proxies: []string{"DIRECT"}, URL: "http://example.invalid/generate_204"},
		{Name: "main", Type: "select", Proxies: []string{"auto", "DIRECT"}},
	}
	snap, err := Build(doc)
	require.NoError(t, err)

	_, ok := snap.Outbounds.Groups["auto"]
	assert.True(t, ok)
	_, ok = snap.Outbounds.Groups["main"]
	assert.True(t, ok, "a later group must be able to reference an earlier one as a member")
}

func TestBuildRejectsGroupReferencingUnknownMember(t *testing.T) {
	doc := minimalDoc(t)
	doc.ProxyGroups = []ProxyGroupConfig{
		{Name: "main", Type: "select", Proxies: []string{"does-not-exist"}},
	}
	_, err := Build(doc)
	assert.Error(t, err)
}

func TestBuildRejectsUnknownGroupType(t *testing.T) {
	doc := minimalDoc(t)
	doc.ProxyGroups = []ProxyGroupConfig{
		{Name: "main", Type: "bogus", Proxies: []string{"DIRECT"}},
	}
	_, err := Build(doc)
	assert.Error(t, err)
}

func TestBuildRejectsMalformedFakeIPRange(t *testing.T) {
	doc := minimalDoc(t)
	doc.DNS.FakeIPRange = "not-a-cidr"
	_, err := Build(doc)
	assert.Error(t, err)
}

func TestParseRuleLineBasic(t *testing.T) {
	cfg, err := parseRuleLine("DOMAIN-SUFFIX,example.com,DIRECT")
	require.NoError(t, err)
	assert.Equal(t, rule.KindDomainSuffix, cfg.Kind)
	assert.Equal(t, "example.com", cfg.Payload)
	assert.Equal(t, "DIRECT", cfg.Target)
}

func TestParseRuleLineMatchNeedsNoPayload(t *testing.T) {
	cfg, err := parseRuleLine("MATCH,DIRECT")
	require.NoError(t, err)
	assert.Equal(t, rule.KindMatch, cfg.Kind)
	assert.Equal(t, "DIRECT", cfg.Target)
}

func TestParseRuleLineWithParams(t *testing.T) {
	cfg, err := parseRuleLine("IP-CIDR,10.0.0.0/8,DIRECT,no-resolve")
	require.NoError(t, err)
	assert.True(t, cfg.Params.NoResolve)
}

func TestParseRuleLineRejectsMissingTarget(t *testing.T) {
	_, err := parseRuleLine("DOMAIN-SUFFIX,example.com")
	assert.Error(t, err)
}

func TestParseRuleLineRejectsSingleField(t *testing.T) {
	_, err := parseRuleLine("MATCH")
	assert.Error(t, err)
}

func TestHasMatchRule(t *testing.T) {
	assert.False(t, hasMatchRule(nil))
	assert.True(t, hasMatchRule([]rule.Config{{Kind: rule.KindDomain}, {Kind: rule.KindMatch}}))
}

func TestParseFakeIPRangeDefaultsWhenEmpty(t *testing.T) {
	p, err := parseFakeIPRange("")
	require.NoError(t, err)
	assert.Equal(t, "198.18.0.0/16", p.String())
}

func TestLoadParsesYAMLDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("log-level: info\nmode: rule\ninbound:\n  mixed-port: 7890\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", doc.LogLevel)
	assert.Equal(t, ModeRule, doc.Mode)
	assert.Equal(t, 7890, doc.Inbound.MixedPort)
}

func TestLoadReturnsErrorOnMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestBuildWiresSidecarManagerForGoFallbackProxy(t *testing.T) {
	doc := minimalDoc(t)
	doc.Proxies = []provider.ProxyEntry{
		{Name: "fallback-1", Type: "gofallback", Server: "127.0.0.1", Port: 18080, Command: "/bin/true"},
	}
	snap, err := Build(doc)
	require.NoError(t, err)

	require.Len(t, snap.Sidecars, 1)
	assert.Equal(t, "/bin/true", snap.Sidecars[0].Command)
	assert.Equal(t, "127.0.0.1:18080", snap.Sidecars[0].Endpoint)

	_, ok := snap.Outbounds.Proxies["fallback-1"]
	assert.True(t, ok)
}

func TestBuildSkipsSidecarManagerWhenNoCommandConfigured(t *testing.T) {
	doc := minimalDoc(t)
	doc.Proxies = []provider.ProxyEntry{
		{Name: "fallback-1", Type: "gofallback", Server: "127.0.0.1", Port: 18080},
	}
	snap, err := Build(doc)
	require.NoError(t, err)
	assert.Empty(t, snap.Sidecars)
}
