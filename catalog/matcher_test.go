package catalog

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"hr.sync_completed", "hr.sync_completed", true},
		{"hr.sync_completed", "hr.sync_failed", false},
		{"hr.*", "hr.sync_completed", true},
		{"hr.*", "finance.sync_completed", false},
		{"*.sync_completed", "finance.sync_completed", true},
		{"*", "anything.at.all", true},
		{"hr.*", "hr.sync.completed", false}, // segment count mismatch
		{"hr.*.completed", "hr.sync.completed", true},
		{"", "hr.sync_completed", false},
	}

	for _, tc := range cases {
		if got := Match(tc.pattern, tc.eventType); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.eventType, got, tc.want)
		}
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"hr.sync_completed", "finance.*"}

	if !MatchAny(patterns, "finance.sync_failed") {
		t.Error("wildcard pattern in set did not match")
	}
	if MatchAny(patterns, "connector.enabled") {
		t.Error("unrelated event matched")
	}
	if MatchAny(nil, "hr.sync_completed") {
		t.Error("empty pattern set matched")
	}
}

func TestIsPattern(t *testing.T) {
	cases := []struct {
		s    string
		want bool
	}{
		{"*", true},
		{"hr.*", true},
		{"*.completed", true},
		{"hr.sync_completed", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsPattern(tc.s); got != tc.want {
			t.Errorf("IsPattern(%q) = %v, want %v", tc.s, got, tc.want)
		}
	}
}
