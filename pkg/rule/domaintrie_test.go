package rule

import "testing"

func TestDomainTrieExactMatch(t *testing.T) {
	tr := newDomainTrie()
	tr.insert("example.com")

	if !tr.matchExact("example.com") {
		t.Errorf("expected exact match for example.com")
	}
	if !tr.matchExact("EXAMPLE.COM") {
		t.Errorf("expected case-insensitive exact match")
	}
	if tr.matchExact("api.example.com") {
		t.Errorf("exact match must not match a subdomain")
	}
	if tr.matchExact("notexample.com") {
		t.Errorf("exact match must not match an unrelated domain")
	}
}

func TestDomainTrieSuffixMatch(t *testing.T) {
	tr := newDomainTrie()
	tr.insert("example.com")

	if !tr.matchSuffix("example.com") {
		t.Errorf("suffix match must match the inserted domain itself")
	}
	if !tr.matchSuffix("api.example.com") {
		t.Errorf("suffix match must match a subdomain")
	}
	if !tr.matchSuffix("deep.api.example.com") {
		t.Errorf("suffix match must match a multi-level subdomain")
	}
	if tr.matchSuffix("notexample.com") {
		t.Errorf("suffix match must not match on a mid-label boundary")
	}
	if tr.matchSuffix("com") {
		t.Errorf("suffix match must not match a bare TLD that was never inserted as terminal")
	}
}

func TestDomainTrieMultipleEntries(t *testing.T) {
	tr := newDomainTrie()
	tr.insert("a.com")
	tr.insert("b.com")
	tr.insert("sub.c.com")

	if !tr.matchSuffix("a.com") || !tr.matchSuffix("b.com") {
		t.Errorf("expected both top-level inserts to match")
	}
	if tr.matchSuffix("c.com") {
		t.Errorf("c.com itself was never inserted, only sub.c.com was")
	}
	if !tr.matchSuffix("x.sub.c.com") {
		t.Errorf("expected a subdomain of sub.c.com to match")
	}
}

func TestDomainTrieEmptyLookup(t *testing.T) {
	tr := newDomainTrie()
	if tr.matchExact("") || tr.matchSuffix("") {
		t.Errorf("empty domain must never match an empty trie")
	}
}
