package rule

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaycore/relayd/pkg/metadata"
)

func TestDomainSetMatcherSuffixAndExact(t *testing.T) {
	m := NewDomainSetMatcher([]string{"+.example.com", "exact.example.org", "# comment", ""})

	assert.True(t, m.Match(&metadata.Metadata{DestHost: "api.example.com"}))
	assert.True(t, m.Match(&metadata.Metadata{DestHost: "example.com"}))
	assert.True(t, m.Match(&metadata.Metadata{DestHost: "exact.example.org"}))
	assert.False(t, m.Match(&metadata.Metadata{DestHost: "sub.exact.example.org"}))
	assert.False(t, m.Match(&metadata.Metadata{DestHost: "unrelated.net"}))
}

func TestDomainSetMatcherNoHostNeverMatches(t *testing.T) {
	m := NewDomainSetMatcher([]string{"+.example.com"})
	assert.False(t, m.Match(&metadata.Metadata{}))
}

func TestIPCIDRSetMatcher(t *testing.T) {
	m := NewIPCIDRSetMatcher([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")})
	assert.True(t, m.Match(&metadata.Metadata{DestIP: netip.MustParseAddr("10.1.2.3")}))
	assert.False(t, m.Match(&metadata.Metadata{DestIP: netip.MustParseAddr("192.168.1.1")}))
	assert.False(t, m.Match(&metadata.Metadata{}))
}

func TestClassicalSetMatcherMixedKinds(t *testing.T) {
	cfgs := []Config{
		{Kind: KindDomainSuffix, Payload: "example.com"},
		{Kind: KindIPCIDR, Payload: "10.0.0.0/8"},
	}
	m := NewClassicalSetMatcher(cfgs)

	assert.True(t, m.Match(&metadata.Metadata{DestHost: "api.example.com"}))
	assert.True(t, m.Match(&metadata.Metadata{DestIP: netip.MustParseAddr("10.2.2.2")}))
	assert.False(t, m.Match(&metadata.Metadata{DestHost: "other.net"}))
}

func TestClassicalSetMatcherDomainKeywordAndRegex(t *testing.T) {
	cfgs := []Config{
		{Kind: KindDomainKeyword, Payload: "ads"},
		{Kind: KindDomainRegex, Payload: "^api\\.\\w+\\.com$"},
	}
	m := NewClassicalSetMatcher(cfgs)

	assert.True(t, m.Match(&metadata.Metadata{DestHost: "trackads.example.com"}))
	assert.True(t, m.Match(&metadata.Metadata{DestHost: "api.foo.com"}))
	assert.False(t, m.Match(&metadata.Metadata{DestHost: "clean.example.com"}))
}

func TestClassicalSetMatcherEmptyMatchesNothing(t *testing.T) {
	m := NewClassicalSetMatcher(nil)
	assert.False(t, m.Match(&metadata.Metadata{DestHost: "anything.com"}))
}
