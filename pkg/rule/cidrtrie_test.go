package rule

import (
	"net/netip"
	"testing"
)

func TestCIDRTrieContainsBasic(t *testing.T) {
	tr := newCIDRTrie()
	tr.insert(netip.MustParsePrefix("192.168.1.0/24"))

	if !tr.contains(netip.MustParseAddr("192.168.1.42")) {
		t.Errorf("expected 192.168.1.42 to be contained in 192.168.1.0/24")
	}
	if tr.contains(netip.MustParseAddr("192.168.2.1")) {
		t.Errorf("192.168.2.1 must not be contained in 192.168.1.0/24")
	}
}

func TestCIDRTrieShorterPrefixSubsumesLonger(t *testing.T) {
	tr := newCIDRTrie()
	tr.insert(netip.MustParsePrefix("10.0.0.0/8"))
	tr.insert(netip.MustParsePrefix("10.1.2.0/24"))

	if !tr.contains(netip.MustParseAddr("10.1.2.5")) {
		t.Errorf("expected 10.1.2.5 to be contained via the broader /8")
	}
	if !tr.contains(netip.MustParseAddr("10.255.255.255")) {
		t.Errorf("expected any address under 10.0.0.0/8 to match")
	}
}

func TestCIDRTrieIPv6(t *testing.T) {
	tr := newCIDRTrie()
	tr.insert(netip.MustParsePrefix("2001:db8::/32"))

	if !tr.contains(netip.MustParseAddr("2001:db8::1")) {
		t.Errorf("expected address within the IPv6 prefix to match")
	}
	if tr.contains(netip.MustParseAddr("2001:db9::1")) {
		t.Errorf("address outside the IPv6 prefix must not match")
	}
}

func TestCIDRTrieZeroPrefixMatchesEverything(t *testing.T) {
	tr := newCIDRTrie()
	tr.insert(netip.MustParsePrefix("0.0.0.0/0"))

	if !tr.contains(netip.MustParseAddr("1.2.3.4")) {
		t.Errorf("a /0 prefix must match any address")
	}
}

func TestCIDRTrieEmptyContainsNothing(t *testing.T) {
	tr := newCIDRTrie()
	if tr.contains(netip.MustParseAddr("8.8.8.8")) {
		t.Errorf("empty trie must not contain anything")
	}
}
