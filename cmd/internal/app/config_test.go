package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BLOGDESK_CONFIG", "BLOGDESK_API_BASE_URL", "BLOGDESK_WS_URL", "BLOGDESK_TOKEN_STORE",
		"BLOGDESK_TOKEN_FILE", "BLOGDESK_DATABASE_URL", "BLOGDESK_LOG_FORMAT", "BLOGDESK_STATUS_ADDR",
		"BLOGDESK_WS_MAX_RECONNECT_ATTEMPTS", "BLOGDESK_WS_RECONNECT_INTERVAL", "BLOGDESK_TOKEN_PASSPHRASE",
	} {
		t.Setenv(k, "")
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "blogdesk.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.APIBaseURL != "http://127.0.0.1:8000" || cfg.WSURL != "ws://127.0.0.1:8000" {
		t.Fatalf("urls=%q %q", cfg.APIBaseURL, cfg.WSURL)
	}
	if cfg.WSMaxReconnectAttempts != 5 || cfg.WSReconnectInterval != 3*time.Second {
		t.Fatalf("reconnect=%d/%s want=5/3s", cfg.WSMaxReconnectAttempts, cfg.WSReconnectInterval)
	}
	if cfg.TokenStore != TokenStoreFile || cfg.StatusAddr != "127.0.0.1:7070" || cfg.LogFormat != LogFormatJSON {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	clearConfigEnv(t)

	p := writeConfigFile(t, `
api_base_url: https://blog.example.com/
ws_max_reconnect_attempts: 2
ws_reconnect_interval: 500ms
token_store: memory
log_format: pretty
status_addr: "off"
`)
	t.Setenv("BLOGDESK_WS_RECONNECT_INTERVAL", "1s")

	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ConfigFile != p {
		t.Fatalf("ConfigFile=%q want=%q", cfg.ConfigFile, p)
	}
	if cfg.APIBaseURL != "https://blog.example.com" || cfg.WSURL != "wss://blog.example.com" {
		t.Fatalf("urls=%q %q", cfg.APIBaseURL, cfg.WSURL)
	}
	if cfg.WSMaxReconnectAttempts != 2 {
		t.Fatalf("attempts=%d want=2", cfg.WSMaxReconnectAttempts)
	}
	if cfg.WSReconnectInterval != time.Second {
		t.Fatalf("interval=%s want=1s (env wins)", cfg.WSReconnectInterval)
	}
	if cfg.TokenStore != TokenStoreMemory || cfg.LogFormat != LogFormatPretty || cfg.StatusAddr != "" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoadConfig_ConfigPathFromEnv(t *testing.T) {
	clearConfigEnv(t)

	p := writeConfigFile(t, "token_store: memory\n")
	t.Setenv("BLOGDESK_CONFIG", p)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.TokenStore != TokenStoreMemory {
		t.Fatalf("TokenStore=%q want=memory", cfg.TokenStore)
	}
}

func TestLoadConfig_EmptyFileKeepsDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig(writeConfigFile(t, ""))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.WSMaxReconnectAttempts != 5 {
		t.Fatalf("attempts=%d want=5", cfg.WSMaxReconnectAttempts)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	cases := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "unknown key", file: "api_base: http://x\n"},
		{name: "bad scheme", env: map[string]string{"BLOGDESK_API_BASE_URL": "ftp://blog"}},
		{name: "unknown store", env: map[string]string{"BLOGDESK_TOKEN_STORE": "redis"}},
		{name: "postgres without url", env: map[string]string{"BLOGDESK_TOKEN_STORE": "postgres"}},
		{name: "bad log format", env: map[string]string{"BLOGDESK_LOG_FORMAT": "xml"}},
		{name: "negative attempts", file: "ws_max_reconnect_attempts: -1\n"},
		{name: "bad status addr", env: map[string]string{"BLOGDESK_STATUS_ADDR": "7070"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.file != "" {
				path = writeConfigFile(t, tc.file)
			}
			_, err := LoadConfig(path)
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("err=%v want ErrConfig", err)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	clearConfigEnv(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v want ErrConfig", err)
	}
}
