package session

import "errors"

var (
	// ErrNotLoggedIn is returned by Guard when a route requires a signed-in user.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrForbidden is returned by Guard when the session lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidCredentials is returned when a login bundle is incomplete.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
