package identity

import "errors"

// Sentinel error kinds (stable for errors.Is).
var (
	ErrInvalidInput = errors.New("invalid_input")
)

// Role values as reported by the blog API.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)
