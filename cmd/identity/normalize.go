package identity

import "strings"

// NormalizeUsername performs case-insensitive canonicalization.
// The blog API looks usernames up case-insensitively.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
