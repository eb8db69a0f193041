// Package identity holds the client's view of a blog principal.
//
// It contains the User model returned by the auth endpoints, role helpers
// and input normalization. ULID helpers live in identity/ids.
package identity
