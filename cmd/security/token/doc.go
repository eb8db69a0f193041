// Package token provides token digest primitives for blogdesk.
//
// Raw access and refresh tokens must never reach the logs. Callers log a
// Fingerprint instead: a short, stable prefix of the SHA-256 digest that is
// enough to correlate log lines without being usable as a credential.
package token
