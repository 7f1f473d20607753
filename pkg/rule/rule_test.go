package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassicalLineBasic(t *testing.T) {
	cfg, err := ParseClassicalLine("DOMAIN-SUFFIX,example.com")
	require.NoError(t, err)
	assert.Equal(t, KindDomainSuffix, cfg.Kind)
	assert.Equal(t, "example.com", cfg.Payload)
	assert.False(t, cfg.Params.NoResolve)
}

func TestParseClassicalLineNoResolve(t *testing.T) {
	cfg, err := ParseClassicalLine("IP-CIDR,10.0.0.0/8,no-resolve")
	require.NoError(t, err)
	assert.Equal(t, KindIPCIDR, cfg.Kind)
	assert.True(t, cfg.Params.NoResolve)
}

func TestParseClassicalLineRejectsBlankAndComments(t *testing.T) {
	_, err := ParseClassicalLine("")
	assert.Error(t, err)
	_, err = ParseClassicalLine("   ")
	assert.Error(t, err)
	_, err = ParseClassicalLine("# a comment")
	assert.Error(t, err)
}

func TestParseClassicalLineRejectsMalformed(t *testing.T) {
	_, err := ParseClassicalLine("DOMAIN")
	assert.Error(t, err)
}

func TestConfigNeedsResolve(t *testing.T) {
	assert.True(t, Config{Kind: KindIPCIDR}.needsResolve())
	assert.True(t, Config{Kind: KindGEOIP}.needsResolve())
	assert.False(t, Config{Kind: KindDomainSuffix}.needsResolve())
	assert.False(t, Config{Kind: KindIPCIDR, Params: Params{NoResolve: true}}.needsResolve())
}
