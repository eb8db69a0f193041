package authapi

import (
	"encoding/json"

	"blogdesk/cmd/identity"
)

// codeOK is the envelope code the blog API uses for success.
const codeOK = 0

// envelope is the response wrapper of every blog API endpoint.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type loginData struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         identity.User `json:"user"`
}

type refreshData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type meData struct {
	User identity.User `json:"user"`
}

// LoginResult is the credential bundle returned by a successful login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         identity.User
}
