package flood

import "testing"

func TestResolveRole(t *testing.T) {
	cases := []struct {
		self    uint16
		present bool
		want    Role
	}{
		{sensorID, true, Source},
		{sensorID, false, Relay},
		{sinkID, true, Sink},
		{sinkID, false, Sink},
		{relayID, true, Relay},
		{0x0101, true, Relay}, // high byte must match too
	}
	for _, c := range cases {
		got, err := ResolveRole(addrFor(c.self), sensorID, sinkID, c.present)
		if err != nil {
			t.Fatalf("ResolveRole(%#04x): %v", c.self, err)
		}
		if got != c.want {
			t.Fatalf("ResolveRole(%#04x, present=%v) = %v, want %v", c.self, c.present, got, c.want)
		}
	}
}

func TestResolveRoleRejectsSameIDs(t *testing.T) {
	if _, err := ResolveRole(addrFor(5), 5, 5, true); err != ErrSameSourceAndSink {
		t.Fatalf("err = %v, want ErrSameSourceAndSink", err)
	}
}

func TestParseAddr(t *testing.T) {
	for _, s := range []string{"14-15-92-00-00-00-ab-cd", "14:15:92:00:00:00:ab:cd", "141592000000abcd"} {
		a, err := ParseAddr(s)
		if err != nil {
			t.Fatalf("ParseAddr(%q): %v", s, err)
		}
		if a.ShortID() != 0xabcd {
			t.Fatalf("ParseAddr(%q).ShortID() = %#04x, want 0xabcd", s, a.ShortID())
		}
	}
	if a, _ := ParseAddr("14-15-92-00-00-00-ab-cd"); a.String() != "14-15-92-00-00-00-ab-cd" {
		t.Fatalf("String() = %q", a.String())
	}
	for _, s := range []string{"zz", "0102"} {
		if _, err := ParseAddr(s); err == nil {
			t.Fatalf("ParseAddr(%q) succeeded, want error", s)
		}
	}
}
