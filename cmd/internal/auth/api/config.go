package authapi

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Endpoint paths of the blog API.
const (
	PathMe      = "/api/auth/me"
	PathLogin   = "/api/auth/login"
	PathRefresh = "/api/auth/refresh"
	PathLogout  = "/api/auth/logout"
)

// Config controls API client behavior.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

// DefaultConfig returns defaults suitable for a local blog backend.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://127.0.0.1:8000",
		Timeout:      10 * time.Second,
		UserAgent:    "blogdesk",
		MaxBodyBytes: 1 << 20, // 1 MiB
	}
}

func (c Config) normalized() (Config, error) {
	def := DefaultConfig()

	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return Config{}, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Config{}, errors.New("api: base url must be http or https")
	}
	if strings.TrimSpace(u.Host) == "" {
		return Config{}, errors.New("api: base url missing host")
	}

	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = def.UserAgent
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	return c, nil
}
