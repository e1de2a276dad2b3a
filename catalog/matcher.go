package catalog

import "strings"

// Match checks whether an event type name matches a subscription pattern.
//
// Supported patterns:
//
//	"hr.sync_completed"  → exact match
//	"hr.*"               → any hr event (single segment wildcard)
//	"*"                  → matches everything
func Match(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}

	if pattern == eventType {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	eventParts := strings.Split(eventType, ".")

	if len(patternParts) != len(eventParts) {
		return false
	}

	for i, pp := range patternParts {
		if pp == "*" {
			continue
		}
		if pp != eventParts[i] {
			return false
		}
	}

	return true
}

// MatchAny reports whether any pattern in the set matches the event type.
func MatchAny(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if Match(p, eventType) {
			return true
		}
	}
	return false
}

// IsPattern reports whether s contains a wildcard segment.
func IsPattern(s string) bool {
	if s == "*" {
		return true
	}
	for _, part := range strings.Split(s, ".") {
		if part == "*" {
			return true
		}
	}
	return false
}
