package address

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"tcp://10.0.0.1:9000",
		"udt://192.168.1.5:1",
		"tcp://localhost:65535",
	}
	for _, s := range cases {
		a, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := a.String(); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"udt://10.0.0.1:999999",
		"10.0.0.1:9000",
		"udt://10.0.0.1",
		"udt://10.0.0.1:0",
		"udt://10.0.0.1:",
	}
	for _, s := range cases {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestEqualIgnoresProtocol(t *testing.T) {
	a, _ := Parse("tcp://10.0.0.1:9000")
	b, _ := Parse("udt://10.0.0.1:9000")
	if !a.Equal(b) {
		t.Fatalf("expected (ip,port) equality across protocols")
	}
}

func TestLessLexicographic(t *testing.T) {
	a, _ := Parse("tcp://10.0.0.1:9000")
	b, _ := Parse("tcp://10.0.0.2:1")
	if !a.Less(b) {
		t.Fatalf("expected a < b by ip")
	}
	c, _ := Parse("tcp://10.0.0.1:9001")
	if !a.Less(c) {
		t.Fatalf("expected a < c by port when ip equal")
	}
	d, _ := Parse("udt://10.0.0.1:9000")
	if !a.Less(d) {
		t.Fatalf("expected a < d by protocol when ip,port equal (tcp < udt)")
	}
}
