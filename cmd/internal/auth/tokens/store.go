// Package tokens persists the client's credential pair (access + refresh token).
//
// The layout mirrors browser local storage: two string values under fixed
// keys. A pair with either value missing is treated as "no session".
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"blogdesk/cmd/security/token"
)

// Storage keys (stable across backends).
const (
	KeyAccessToken  = "token"
	KeyRefreshToken = "refresh_token"
)

var (
	// ErrNilStore is returned by methods called on a nil store.
	ErrNilStore = errors.New("tokens: nil store")
	// ErrIncompletePair is returned by Save when either token is blank.
	ErrIncompletePair = errors.New("tokens: incomplete pair")
)

// Pair is the persisted credential pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Complete reports whether both tokens are present.
func (p Pair) Complete() bool {
	return strings.TrimSpace(p.AccessToken) != "" && strings.TrimSpace(p.RefreshToken) != ""
}

// Store abstracts persistence for the credential pair.
//
// Load never fails for absent values; it returns a Pair with blank fields.
// Clear is idempotent.
type Store interface {
	Load(ctx context.Context) (Pair, error)
	Save(ctx context.Context, p Pair) error
	Clear(ctx context.Context) error
}

func normalizePair(p Pair) (Pair, error) {
	access, err := token.Normalize(p.AccessToken)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: access token: %w", ErrIncompletePair, err)
	}
	refresh, err := token.Normalize(p.RefreshToken)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: refresh token: %w", ErrIncompletePair, err)
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}
