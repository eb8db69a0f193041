// Package session owns the client's belief about who is signed in.
//
// A single State container holds the authoritative Session; the AuthView
// consumed by route guards and status surfaces is derived from it under the
// same lock and is never mutated on its own. The Synchronizer resolves the
// initial session from persisted tokens at boot and applies login/logout
// transitions afterwards.
package session
