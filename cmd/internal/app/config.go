package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks invalid runtime configuration.
var ErrConfig = errors.New("app: invalid config")

// Token store backends accepted by BLOGDESK_TOKEN_STORE.
const (
	TokenStoreFile     = "file"
	TokenStoreMemory   = "memory"
	TokenStorePostgres = "postgres"
)

// Config contains all runtime configuration.
//
// Precedence: defaults, then the YAML file (if any), then BLOGDESK_* env vars.
type Config struct {
	ConfigFile string `yaml:"-"`

	APIBaseURL  string        `yaml:"api_base_url"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	UserAgent   string        `yaml:"user_agent"`
	// How often a pending session (tokens kept, user unverified) retries verification.
	VerifyInterval time.Duration `yaml:"verify_interval"`

	// Empty means derive from APIBaseURL (http -> ws, https -> wss).
	WSURL                  string        `yaml:"ws_url"`
	WSSubprotocol          string        `yaml:"ws_subprotocol"`
	WSMaxReconnectAttempts int           `yaml:"ws_max_reconnect_attempts"`
	WSReconnectInterval    time.Duration `yaml:"ws_reconnect_interval"`
	WSHeartbeatInterval    time.Duration `yaml:"ws_heartbeat_interval"`
	WSAutoConnect          bool          `yaml:"ws_auto_connect"`

	TokenStore string `yaml:"token_store"`
	TokenFile  string `yaml:"token_file"`
	Profile    string `yaml:"profile"`
	// Env only: never read from the config file.
	TokenPassphrase string `yaml:"-"`

	DatabaseURL string `yaml:"database_url"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Empty disables the local status server.
	StatusAddr        string        `yaml:"status_addr"`
	ReadHeaderTimeout time.Duration `yaml:"status_read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// If true:
	// - /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `yaml:"readiness_require_db"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:  "http://127.0.0.1:8000",
		HTTPTimeout: 10 * time.Second,
		UserAgent:   "blogdesk",

		VerifyInterval: 30 * time.Second,

		WSMaxReconnectAttempts: 5,
		WSReconnectInterval:    3 * time.Second,
		WSHeartbeatInterval:    25 * time.Second,
		WSAutoConnect:          true,

		TokenStore: TokenStoreFile,
		TokenFile:  defaultTokenFile(),
		Profile:    "default",

		DBMaxConns: 4,
		DBMinConns: 0,

		LogLevel:  "info",
		LogFormat: LogFormatJSON,

		StatusAddr:        "127.0.0.1:7070",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// LoadConfig builds Config from defaults, an optional YAML file and the environment.
// path overrides BLOGDESK_CONFIG when non-empty.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(path) == "" {
		path = EnvString("BLOGDESK_CONFIG", "")
	}
	if path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
		cfg.ConfigFile = path
	}

	applyEnv(&cfg)
	return cfg.Validate()
}

func loadConfigFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	// An empty file decodes to io.EOF and leaves the defaults untouched.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.APIBaseURL = EnvString("BLOGDESK_API_BASE_URL", cfg.APIBaseURL)
	cfg.HTTPTimeout = EnvDuration("BLOGDESK_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.UserAgent = EnvString("BLOGDESK_USER_AGENT", cfg.UserAgent)
	cfg.VerifyInterval = EnvDuration("BLOGDESK_VERIFY_INTERVAL", cfg.VerifyInterval)

	cfg.WSURL = EnvString("BLOGDESK_WS_URL", cfg.WSURL)
	cfg.WSSubprotocol = EnvString("BLOGDESK_WS_SUBPROTOCOL", cfg.WSSubprotocol)
	cfg.WSMaxReconnectAttempts = EnvInt("BLOGDESK_WS_MAX_RECONNECT_ATTEMPTS", cfg.WSMaxReconnectAttempts)
	cfg.WSReconnectInterval = EnvDuration("BLOGDESK_WS_RECONNECT_INTERVAL", cfg.WSReconnectInterval)
	cfg.WSHeartbeatInterval = EnvDuration("BLOGDESK_WS_HEARTBEAT_INTERVAL", cfg.WSHeartbeatInterval)
	cfg.WSAutoConnect = EnvBool("BLOGDESK_WS_AUTO_CONNECT", cfg.WSAutoConnect)

	cfg.TokenStore = EnvString("BLOGDESK_TOKEN_STORE", cfg.TokenStore)
	cfg.TokenFile = EnvString("BLOGDESK_TOKEN_FILE", cfg.TokenFile)
	cfg.Profile = EnvString("BLOGDESK_PROFILE", cfg.Profile)
	cfg.TokenPassphrase = EnvString("BLOGDESK_TOKEN_PASSPHRASE", cfg.TokenPassphrase)

	cfg.DatabaseURL = EnvString("BLOGDESK_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = EnvInt32("BLOGDESK_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("BLOGDESK_DB_MIN_CONNS", cfg.DBMinConns)

	cfg.LogLevel = EnvString("BLOGDESK_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("BLOGDESK_LOG_FORMAT", cfg.LogFormat)

	cfg.StatusAddr = EnvString("BLOGDESK_STATUS_ADDR", cfg.StatusAddr)
	cfg.ReadHeaderTimeout = EnvDuration("BLOGDESK_STATUS_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ShutdownTimeout = EnvDuration("BLOGDESK_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.ReadinessRequireDB = EnvBool("BLOGDESK_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB)
}

// Validate normalizes derived fields and rejects inconsistent settings.
func (c Config) Validate() (Config, error) {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("%w: api base url %q must be http(s)://host", ErrConfig, c.APIBaseURL)
	}

	if strings.TrimSpace(c.WSURL) == "" {
		c.WSURL = wsBaseURL(c.APIBaseURL)
	}

	c.TokenStore = strings.ToLower(strings.TrimSpace(c.TokenStore))
	switch c.TokenStore {
	case TokenStoreFile:
		if strings.TrimSpace(c.TokenFile) == "" {
			return Config{}, fmt.Errorf("%w: token_store=file needs a token file path", ErrConfig)
		}
	case TokenStoreMemory:
	case TokenStorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return Config{}, fmt.Errorf("%w: token_store=postgres needs BLOGDESK_DATABASE_URL", ErrConfig)
		}
	default:
		return Config{}, fmt.Errorf("%w: unknown token store %q", ErrConfig, c.TokenStore)
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	switch c.LogFormat {
	case "":
		c.LogFormat = LogFormatJSON
	case LogFormatJSON, LogFormatPretty:
	default:
		return Config{}, fmt.Errorf("%w: unknown log format %q", ErrConfig, c.LogFormat)
	}

	if c.WSMaxReconnectAttempts < 0 {
		return Config{}, fmt.Errorf("%w: ws_max_reconnect_attempts must be >= 0", ErrConfig)
	}
	if c.DBMinConns > c.DBMaxConns && c.DBMaxConns > 0 {
		return Config{}, fmt.Errorf("%w: db_min_conns > db_max_conns", ErrConfig)
	}
	if c.VerifyInterval <= 0 {
		c.VerifyInterval = DefaultConfig().VerifyInterval
	}

	switch strings.ToLower(strings.TrimSpace(c.StatusAddr)) {
	case "off", "none", "-":
		c.StatusAddr = ""
	}
	if c.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(c.StatusAddr); err != nil {
			return Config{}, fmt.Errorf("%w: status addr %q: %v", ErrConfig, c.StatusAddr, err)
		}
	}

	return c, nil
}

// wsBaseURL maps an API base URL onto the matching WebSocket scheme.
func wsBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		return base
	default:
		return "ws://" + base
	}
}

// runtimeBaseURL turns a listen address into a URL a local client can reach.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".blogdesk-tokens.json"
	}
	return filepath.Join(dir, "blogdesk", "tokens.json")
}
