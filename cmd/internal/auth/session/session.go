package session

import (
	"strings"

	"blogdesk/cmd/identity"
)

// Session is the client's authentication snapshot. Values are replaced
// wholesale, never mutated in place once published.
type Session struct {
	CurrentUser  *identity.User
	IsLoggedIn   bool
	AccessToken  string
	RefreshToken string
}

// Credentials is the bundle returned by a successful login.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	User         identity.User
}

func (c Credentials) valid() bool {
	return strings.TrimSpace(c.AccessToken) != "" &&
		strings.TrimSpace(c.RefreshToken) != "" &&
		c.User.Validate() == nil
}

// Anonymous returns the signed-out session.
func Anonymous() Session { return Session{} }

// Verified reports whether the session is signed in with a resolved user.
func (s Session) Verified() bool {
	return s.IsLoggedIn && s.CurrentUser != nil
}

// Pending reports the transient window: tokens are kept but the user could not be verified.
func (s Session) Pending() bool {
	return s.IsLoggedIn && s.CurrentUser == nil
}

// IsAdmin reports whether the session belongs to a verified admin.
func (s Session) IsAdmin() bool {
	return s.Verified() && s.CurrentUser.IsAdmin()
}

func (s Session) clone() Session {
	if s.CurrentUser != nil {
		u := *s.CurrentUser
		s.CurrentUser = &u
	}
	return s
}

func verifiedSession(u identity.User, access, refresh string) Session {
	return Session{
		CurrentUser:  &u,
		IsLoggedIn:   true,
		AccessToken:  access,
		RefreshToken: refresh,
	}
}

func pendingSession(access, refresh string) Session {
	return Session{IsLoggedIn: true, AccessToken: access, RefreshToken: refresh}
}
