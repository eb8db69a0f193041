package seal

import "errors"

// Public, stable errors for callers.
var (
	// ErrEmptyPassphrase is returned when sealing is requested without a passphrase.
	ErrEmptyPassphrase = errors.New("seal: empty passphrase")
	// ErrMalformed is returned for blobs that do not follow the encoded format.
	ErrMalformed = errors.New("seal: malformed blob")
	// ErrOpenFailed is returned when authentication fails (wrong passphrase or tampering).
	ErrOpenFailed = errors.New("seal: open failed")
)
