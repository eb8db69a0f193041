package realtime

import "errors"

var (
	// ErrNotConnected is returned by Send when the manager is not connected.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrSendQueueFull is returned when the outbound queue is saturated.
	ErrSendQueueFull = errors.New("realtime: send queue full")

	// ErrRateLimited is returned when outbound events exceed the local rate limit.
	ErrRateLimited = errors.New("realtime: rate limited")

	// ErrStopped is returned when the event loop is no longer running.
	ErrStopped = errors.New("realtime: manager stopped")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("realtime: manager already running")

	// ErrNoToken is reported when no access token is stored at dial time.
	ErrNoToken = errors.New("realtime: no access token")
)
