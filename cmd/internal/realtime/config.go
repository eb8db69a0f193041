package realtime

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ConnectPath is the server endpoint the client dials.
const ConnectPath = "/api/ws/connect"

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid realtime config")

// Config controls the connection manager.
type Config struct {
	// URL is the server base, either ws(s)://host or http(s)://host.
	URL string

	// Subprotocol is offered during the handshake when non-empty.
	Subprotocol string

	MaxReconnectAttempts int
	ReconnectInterval    time.Duration

	// HeartbeatInterval <= 0 disables pings.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	SendQueueSize int

	RateEvents int
	RateWindow time.Duration
}

// DefaultConfig returns the defaults: 5 attempts, 3s apart.
func DefaultConfig() Config {
	return Config{
		URL:                  "ws://127.0.0.1:8000",
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
		ReconnectInterval:    defaultReconnectInterval,
		HeartbeatInterval:    defaultHeartbeatInterval,
		HeartbeatTimeout:     defaultHeartbeatTimeout,
		DialTimeout:          defaultDialTimeout,
		WriteTimeout:         defaultWriteTimeout,
		SendQueueSize:        defaultSendQueueSize,
		RateEvents:           rateLimitEvents,
		RateWindow:           rateLimitWindow,
	}
}

// Validate fills zero values from defaults and rejects inconsistent settings.
func (c Config) Validate() (Config, error) {
	def := DefaultConfig()

	if strings.TrimSpace(c.URL) == "" {
		c.URL = def.URL
	}
	if _, err := BuildConnectURL(c.URL, "placeholder"); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if c.MaxReconnectAttempts < 0 {
		return Config{}, fmt.Errorf("%w: negative max reconnect attempts", ErrConfig)
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = def.ReconnectInterval
	}
	if c.HeartbeatInterval > 0 && c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	return c, nil
}

// BuildConnectURL returns ws(s)://<host>/api/ws/connect?token=<token> for base.
// http and https bases map to ws and wss.
func BuildConnectURL(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}

	u.Path = strings.TrimRight(u.Path, "/") + ConnectPath
	u.RawQuery = url.Values{"token": []string{token}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// redactURL strips the query so tokens never reach logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	u.RawQuery = ""
	return u.String()
}
