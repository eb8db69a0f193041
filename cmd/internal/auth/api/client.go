// Package authapi is the HTTP client for the blog's auth endpoints.
//
// Every call goes through one request path that injects the bearer token,
// decodes the {code, message, data} envelope and, unless the request opts
// out, recovers a 401 by refreshing the token pair once and retrying.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"blogdesk/cmd/identity"
	"blogdesk/cmd/internal/auth/tokens"
	"blogdesk/cmd/security/token"
)

// RequestOptions tune a single call.
type RequestOptions struct {
	// Silent suppresses the user-facing error reporter for this call.
	Silent bool
	// SkipAuthRefresh disables the 401 -> refresh -> retry interceptor for this call.
	SkipAuthRefresh bool
	// Anonymous sends the request without a bearer token.
	Anonymous bool
}

// ErrorReporter surfaces failed calls to the user (toast, CLI stderr).
type ErrorReporter func(ctx context.Context, op string, err error)

// AuthExpiredHook is called when the refresh token itself is rejected.
type AuthExpiredHook func(ctx context.Context)

// Recorder observes completed requests (metrics). status is 0 on transport failure.
type Recorder interface {
	Request(op string, status int, d time.Duration)
}

// Client talks to the blog API on behalf of the stored session.
type Client struct {
	cfg   Config
	http  *http.Client
	store tokens.Store
	log   *slog.Logger

	report    ErrorReporter
	onExpired AuthExpiredHook
	rec       Recorder

	// refreshMu serializes refreshes so concurrent 401s share one rotation.
	refreshMu sync.Mutex
}

// Option configures optional client dependencies.
type Option func(*Client)

// WithHTTPClient overrides the default *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithErrorReporter installs the user-facing error reporter.
func WithErrorReporter(r ErrorReporter) Option {
	return func(c *Client) {
		if r != nil {
			c.report = r
		}
	}
}

// WithAuthExpiredHook installs the hook called after an unrecoverable 401.
func WithAuthExpiredHook(h AuthExpiredHook) Option {
	return func(c *Client) {
		if h != nil {
			c.onExpired = h
		}
	}
}

// WithRecorder installs a request recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.rec = r }
}

// NewClient constructs a Client.
func NewClient(cfg Config, store tokens.Store, log *slog.Logger, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("api: nil token store")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		store: store,
		log:   log,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

// SetAuthExpiredHook installs the expiry hook after construction (the
// synchronizer that owns the hook is built from this client).
func (c *Client) SetAuthExpiredHook(h AuthExpiredHook) {
	c.onExpired = h
}

// BaseURL returns the normalized API base URL.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Me resolves the user behind the stored access token.
func (c *Client) Me(ctx context.Context, opts RequestOptions) (identity.User, error) {
	var out meData
	if err := c.do(ctx, "api.Me", http.MethodGet, PathMe, nil, opts, &out); err != nil {
		return identity.User{}, err
	}
	if err := out.User.Validate(); err != nil {
		return identity.User{}, fmt.Errorf("api.Me: %w", err)
	}
	return out.User, nil
}

// Login exchanges username/email + password for a credential bundle.
// It does not persist anything; see session.Synchronizer.Login.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = normalizeIdentifier(username)
	if username == "" || password == "" {
		return LoginResult{}, identity.OpError{Op: "api.Login", Kind: identity.ErrInvalidInput, Msg: "username and password are required"}
	}

	var out loginData
	err := c.do(ctx, "api.Login", http.MethodPost, PathLogin,
		loginRequest{Username: username, Password: password},
		RequestOptions{Anonymous: true, SkipAuthRefresh: true}, &out)
	if err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(out.AccessToken) == "" || strings.TrimSpace(out.RefreshToken) == "" {
		return LoginResult{}, errors.New("api.Login: response missing tokens")
	}
	return LoginResult{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken, User: out.User}, nil
}

// Logout tells the server to revoke the current session. Local state is not touched.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, "api.Logout", http.MethodPost, PathLogout, nil,
		RequestOptions{Silent: true, SkipAuthRefresh: true}, nil)
}

// ---- request path ----

func (c *Client) do(ctx context.Context, op, method, path string, body any, opts RequestOptions, out any) error {
	used, err := c.doOnce(ctx, op, method, path, body, opts, out)
	if err == nil {
		return nil
	}

	if IsUnauthorized(err) && !opts.SkipAuthRefresh && !opts.Anonymous {
		if rerr := c.recoverUnauthorized(ctx, op, used); rerr != nil {
			err = rerr
		} else {
			_, err = c.doOnce(ctx, op, method, path, body, opts, out)
		}
	}

	if err != nil && !opts.Silent && c.report != nil {
		c.report(ctx, op, err)
	}
	return err
}

// doOnce performs a single round trip and returns the access token it sent.
func (c *Client) doOnce(ctx context.Context, op, method, path string, body any, opts RequestOptions, out any) (string, error) {
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("%s: encode: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	var req *http.Request
	var err error
	if rdr != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, nil)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	access := ""
	if !opts.Anonymous {
		pair, err := c.store.Load(ctx)
		if err != nil {
			return "", fmt.Errorf("%s: load tokens: %w", op, err)
		}
		if strings.TrimSpace(pair.AccessToken) == "" {
			return "", fmt.Errorf("%s: %w", op, ErrNoCredentials)
		}
		access = pair.AccessToken
		req.Header.Set("Authorization", "Bearer "+access)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, 0, time.Since(start))
		c.log.Warn("api.request.fail", "op", op, "method", method, "path", path, "err", err)
		return access, fmt.Errorf("%s: %w", op, err)
	}
	c.observe(op, resp.StatusCode, time.Since(start))

	c.log.Debug("api.request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"token", token.Fingerprint(access),
	)

	return access, decodeResponse(op, resp, c.cfg.MaxBodyBytes, out)
}

// recoverUnauthorized refreshes the pair once; concurrent callers wait on the
// same mutex and skip the rotation if another caller already replaced the token.
func (c *Client) recoverUnauthorized(ctx context.Context, op, used string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	now, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%s: load tokens: %w", op, err)
	}
	if now.Complete() && now.AccessToken != used {
		// Someone else rotated while we waited.
		return nil
	}

	_, err = c.refreshLocked(ctx)
	return err
}

func (c *Client) refreshLocked(ctx context.Context) (tokens.Pair, error) {
	pair, err := c.store.Load(ctx)
	if err != nil {
		return tokens.Pair{}, fmt.Errorf("api.Refresh: load tokens: %w", err)
	}
	if strings.TrimSpace(pair.RefreshToken) == "" {
		c.expire(ctx, "missing_refresh_token")
		return tokens.Pair{}, fmt.Errorf("api.Refresh: %w: %w", ErrRefreshUnavailable, ErrUnauthorized)
	}

	var out refreshData
	_, err = c.doOnce(ctx, "api.Refresh", http.MethodPost, PathRefresh,
		refreshRequest{RefreshToken: pair.RefreshToken},
		RequestOptions{Anonymous: true, SkipAuthRefresh: true}, &out)
	if err != nil {
		if IsUnauthorized(err) {
			c.expire(ctx, "refresh_rejected")
		}
		return tokens.Pair{}, err
	}

	next := tokens.Pair{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if strings.TrimSpace(next.RefreshToken) == "" {
		// Servers that do not rotate refresh tokens return only the access token.
		next.RefreshToken = pair.RefreshToken
	}
	if err := c.store.Save(ctx, next); err != nil {
		return tokens.Pair{}, fmt.Errorf("api.Refresh: save tokens: %w", err)
	}

	c.log.Info("api.refresh.ok", "token", token.Fingerprint(next.AccessToken))
	return next, nil
}

func (c *Client) expire(ctx context.Context, reason string) {
	c.log.Info("api.auth.expired", "reason", reason)
	if err := c.store.Clear(ctx); err != nil {
		c.log.Error("api.auth.expired.clear.fail", "err", err)
	}
	if c.onExpired != nil {
		c.onExpired(ctx)
	}
}

func (c *Client) observe(op string, status int, d time.Duration) {
	if c.rec != nil {
		c.rec.Request(op, status, d)
	}
}

func normalizeIdentifier(s string) string {
	if strings.Contains(s, "@") {
		return identity.NormalizeEmail(s)
	}
	return identity.NormalizeUsername(s)
}
