package turnrest

import (
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func fixedIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer(Config{
		SharedSecret:   "shared-secret",
		TTL:            time.Hour,
		UsernamePrefix: "aero",
		Now:            func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return i
}

func TestIssue_Deterministic(t *testing.T) {
	c := fixedIssuer(t).Issue("alice")
	if c.Username != "1700003600:aero:alice" {
		t.Fatalf("Username=%q", c.Username)
	}
	if c.Credential != "p3GhKj1BMbYg9VQor5SDCsLpaNs=" {
		t.Fatalf("Credential=%q", c.Credential)
	}
	if c.Expires.Unix() != 1_700_003_600 {
		t.Fatalf("Expires=%v", c.Expires)
	}
}

func TestIssue_ReplacesUnusablePeerID(t *testing.T) {
	i := fixedIssuer(t)
	for _, id := range []string{"", "a:b", "a b"} {
		c := i.Issue(id)
		parts := strings.Split(c.Username, ":")
		if len(parts) != 3 || parts[1] != "aero" || len(parts[2]) != 36 {
			t.Fatalf("Issue(%q) username=%q, want random uuid label", id, c.Username)
		}
	}
}

func TestNewIssuer_Validation(t *testing.T) {
	cases := []Config{
		{TTL: time.Hour, UsernamePrefix: "aero"},
		{SharedSecret: "s", TTL: 0, UsernamePrefix: "aero"},
		{SharedSecret: "s", TTL: time.Hour},
		{SharedSecret: "s", TTL: time.Hour, UsernamePrefix: "ae:ro"},
	}
	for _, cfg := range cases {
		if _, err := NewIssuer(cfg); err == nil {
			t.Fatalf("NewIssuer(%+v): expected error", cfg)
		}
	}
}

func TestApply_OnlyTURNServers(t *testing.T) {
	servers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"TURN:turn.example.com:3478?transport=udp"}},
		{URLs: []string{"turns:turn.example.com:5349"}, Username: "static", Credential: "static"},
	}
	c := Credentials{Username: "u", Credential: "p"}
	out := Apply(servers, c)

	if out[0].Username != "" || out[0].Credential != nil {
		t.Fatalf("stun server got credentials: %+v", out[0])
	}
	for _, s := range out[1:] {
		if s.Username != "u" || s.Credential != "p" {
			t.Fatalf("turn server not updated: %+v", s)
		}
	}
	if servers[2].Username != "static" {
		t.Fatalf("input slice was modified")
	}
}
