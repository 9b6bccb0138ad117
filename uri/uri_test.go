package uri

import "testing"

// TestParseAcceptanceSet covers spec scenario S4 (URI acceptance set):
// a fixed list of URIs that must parse and a fixed list that must be
// rejected by the grammar in scanner.go.
func TestParseAcceptanceSet(t *testing.T) {
	accept := []string{
		"msrp:127.0.0.1",
		"MSRP:validdomain.com",
		"msrp://user@[a1b0::159:3cff:0a11:0cea]:956/sessionid",
		"msrp:[fe80::2e0:18ff:feb7:202a]",
		"msrps:255.255.255.255:10/foo",
	}
	for _, s := range accept {
		if _, err := Parse(s); err != nil {
			t.Errorf("Parse(%q): got error %v, want accept", s, err)
		}
	}

	reject := []string{
		"sip:127.0.0.1",
		"mrsp:foo.bar.com",
		"msrp:foo-bar-com",
		"127.0.0.1",
		"msrp:foo.",
		"msrp:.com",
		"msrp://user@[ffff::fff:ffff:fff:ffg]",
	}
	for _, s := range reject {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): got accept, want error", s)
		}
	}
}

// TestParseAcceptanceSetFields spot-checks a couple of the accepted S4
// vectors against the fields the grammar is supposed to populate.
func TestParseAcceptanceSetFields(t *testing.T) {
	u, err := Parse("MSRP:validdomain.com")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Scheme != "msrp" || u.Host != "validdomain.com" {
		t.Fatalf("got %+v, want Scheme=msrp Host=validdomain.com", u)
	}

	u, err = Parse("msrp://user@[a1b0::159:3cff:0a11:0cea]:956/sessionid")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.User != "user" || u.Host != "[a1b0::159:3cff:0a11:0cea]" ||
		u.Port != 956 || u.Session != "sessionid" || !u.Delimiter {
		t.Fatalf("got %+v, want User=user Host=[a1b0::159:3cff:0a11:0cea] Port=956 Session=sessionid Delimiter=true", u)
	}

	u, err = Parse("msrps:255.255.255.255:10/foo")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Host != "255.255.255.255" || u.Port != 10 || u.Session != "foo" {
		t.Fatalf("got %+v, want Host=255.255.255.255 Port=10 Session=foo", u)
	}
}

// TestParseRoundTrip checks spec's URI round-trip invariant: for every
// accepted URI U, parse(format(parse(U))) == parse(U).
func TestParseRoundTrip(t *testing.T) {
	vectors := []string{
		"msrp:127.0.0.1",
		"MSRP:validdomain.com",
		"msrp://user@[a1b0::159:3cff:0a11:0cea]:956/sessionid",
		"msrp:[fe80::2e0:18ff:feb7:202a]",
		"msrps:255.255.255.255:10/foo",
		"msrp://alice.example.com:7654/iau39soe2843z;tcp",
		"msrps://alice@intra.example.com;tcp",
	}
	for _, s := range vectors {
		u, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		u2, err := Parse(u.String())
		if err != nil {
			t.Fatalf("Parse(%q) (re-parse of %q): %v", u.String(), s, err)
		}
		if u2 != u {
			t.Errorf("round trip of %q: got %+v, want %+v", s, u2, u)
		}
	}
}

func TestEqualIsCaseInsensitiveOnSchemeAndHost(t *testing.T) {
	a, err := Parse("msrp:Example.Com")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := Parse("MSRP:example.com")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("Equal(%+v, %+v) = false, want true", a, b)
	}
}

func TestParsePathSplitsOnWhitespace(t *testing.T) {
	p, err := ParsePath("msrp://a.example.com:1 msrp://b.example.com:2/s")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	if len(p) != 2 {
		t.Fatalf("len(Path) = %d, want 2", len(p))
	}
	if front, ok := p.Front(); !ok || front.Host != "a.example.com" {
		t.Fatalf("Front() = %+v, %v, want a.example.com, true", front, ok)
	}
	if last, ok := p.Rightmost(); !ok || last.Host != "b.example.com" {
		t.Fatalf("Rightmost() = %+v, %v, want b.example.com, true", last, ok)
	}
}
