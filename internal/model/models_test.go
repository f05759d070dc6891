package model

import (
	"testing"
	"time"
)

func TestToken_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"future", now.Add(time.Hour), false},
		{"past", now.Add(-time.Hour), true},
		{"exact", now, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok := Token{Token: "t", ExpiresAt: tc.expires}
			if got := tok.Expired(now); got != tc.want {
				t.Errorf("Expired() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConfigSchema_MatchesConfigTypeAndDigest(t *testing.T) {
	s := ConfigSchema{ConfigTypeSlug: "wifi", Digest: "abc123"}

	if !s.MatchesConfigTypeAndDigest("wifi", "abc123") {
		t.Error("expected match")
	}
	if s.MatchesConfigTypeAndDigest("wifi", "wrong") {
		t.Error("expected no match on digest")
	}
	if s.MatchesConfigTypeAndDigest("other", "abc123") {
		t.Error("expected no match on slug")
	}
}
