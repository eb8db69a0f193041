package identity

import (
	"strings"
	"time"
)

// User is the authenticated principal as returned by /api/auth/me and /api/auth/login.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname,omitempty"`
	Email     string    `json:"email,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// IsAdmin reports whether the user may enter the admin console.
func (u User) IsAdmin() bool {
	return strings.EqualFold(strings.TrimSpace(u.Role), RoleAdmin)
}

// DisplayName prefers the nickname and falls back to the username.
func (u User) DisplayName() string {
	if n := strings.TrimSpace(u.Nickname); n != "" {
		return n
	}
	return u.Username
}

// Validate checks the minimum shape the client relies on.
func (u User) Validate() error {
	if u.ID <= 0 || strings.TrimSpace(u.Username) == "" {
		return OpError{Op: "identity.User.Validate", Kind: ErrInvalidInput, Msg: "missing id or username"}
	}
	return nil
}
