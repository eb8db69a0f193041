package authapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is matched (errors.Is) by any APIError carrying HTTP 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoCredentials is returned when an authenticated call is made without a stored access token.
	ErrNoCredentials = errors.New("no stored credentials")

	// ErrRefreshUnavailable is returned when a 401 cannot be recovered because no refresh token is stored.
	ErrRefreshUnavailable = errors.New("refresh token unavailable")
)

// APIError is a failed API call: either a non-2xx HTTP status or a 2xx response
// whose envelope code is non-zero.
type APIError struct {
	Op      string
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: http %d (code %d)", e.Op, e.Status, e.Code)
	}
	return fmt.Sprintf("%s: http %d (code %d): %s", e.Op, e.Status, e.Code, e.Message)
}

// Unwrap maps HTTP 401 onto ErrUnauthorized so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// IsUnauthorized reports whether err represents invalid credentials (HTTP 401).
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// StatusOf returns the HTTP status carried by err, or 0 when err is not an APIError
// (network failure, timeout, decode error).
func StatusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}
