package token

import "errors"

// ErrEmptyToken is returned when a token is blank after trimming.
var ErrEmptyToken = errors.New("token empty")
