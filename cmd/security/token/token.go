package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintLen is the number of hex chars kept by Fingerprint.
const fingerprintLen = 12

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a log-safe identifier for a token.
// Blank tokens map to "-" so log lines stay aligned.
func Fingerprint(tok string) string {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "-"
	}
	return HashSHA256Hex(tok)[:fingerprintLen]
}

// Normalize trims a token and rejects blank values.
func Normalize(tok string) (string, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrEmptyToken
	}
	return tok, nil
}
