package models

import "strings"

// ParseScope splits an OAuth2 space-delimited scope string, dropping
// duplicates and empty items while keeping order.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// FormatScope joins scopes into the OAuth2 space-delimited form
func FormatScope(scopes []string) string {
	return strings.Join(scopes, " ")
}
