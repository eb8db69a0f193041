// Package app wires the blogdesk client runtime: config, logging, token
// storage, the session synchronizer, the realtime manager and the local status server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	authapi "blogdesk/cmd/internal/auth/api"
	"blogdesk/cmd/internal/auth/session"
	"blogdesk/cmd/internal/auth/tokens"
	"blogdesk/cmd/internal/metrics"
	"blogdesk/cmd/internal/realtime"
	"blogdesk/cmd/security/seal"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for file and memory token stores.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the blogdesk runtime. It owns the token store, the API client,
// the session state and the realtime connection.
type App struct {
	cfg Config
	log Logger

	store  Store
	tokens tokens.Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *metrics.Metrics
	api     *authapi.Client
	sync    *session.Synchronizer
	rt      *realtime.Manager
	inbox   *realtime.Inbox

	resolved atomic.Bool
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, tok, dbPool, dbEnabled, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		tokens:    tok,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		metrics:   metrics.New(),
		inbox:     realtime.NewInbox(log),
	}

	acfg := authapi.DefaultConfig()
	acfg.BaseURL = cfg.APIBaseURL
	acfg.Timeout = cfg.HTTPTimeout
	acfg.UserAgent = cfg.UserAgent

	a.api, err = authapi.NewClient(acfg, tok, log,
		authapi.WithErrorReporter(a.reportAPIError),
		authapi.WithRecorder(a.metrics),
	)
	if err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("%w: api client: %v", ErrConfig, err)
	}

	a.sync, err = session.NewSynchronizer(tok, a.api, session.NewState(), log, session.WithRecorder(a.metrics))
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}
	a.api.SetAuthExpiredHook(a.sync.HandleAuthExpired)

	rcfg := realtime.DefaultConfig()
	rcfg.URL = cfg.WSURL
	rcfg.Subprotocol = cfg.WSSubprotocol
	rcfg.MaxReconnectAttempts = cfg.WSMaxReconnectAttempts
	rcfg.ReconnectInterval = cfg.WSReconnectInterval
	rcfg.HeartbeatInterval = cfg.WSHeartbeatInterval

	a.rt, err = realtime.NewManager(rcfg, tok, log,
		realtime.WithDialer(realtime.WSDialer{Subprotocol: cfg.WSSubprotocol, UserAgent: cfg.UserAgent}),
		realtime.WithHandler(a.inbox),
		realtime.WithRecorder(a.metrics),
	)
	if err != nil {
		_ = st.Close(ctx)
		return nil, fmt.Errorf("%w: realtime: %v", ErrConfig, err)
	}

	return a, nil
}

// Session returns the session synchronizer.
func (a *App) Session() *session.Synchronizer { return a.sync }

// Realtime returns the connection manager.
func (a *App) Realtime() *realtime.Manager { return a.rt }

// Inbox returns the realtime inbox.
func (a *App) Inbox() *realtime.Inbox { return a.inbox }

// Close releases store resources. Run calls it on exit.
func (a *App) Close(ctx context.Context) error {
	return a.store.Close(ctx)
}

// Run resolves the initial session, keeps the realtime connection in step with
// it and serves the status surface until ctx is done.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.rt.Run(runCtx); err != nil {
			a.log.Error("realtime.run.fail", "err", err)
		}
	}()

	srv, errCh := a.startStatusServer()

	sess, err := a.sync.ResolveInitialSession(runCtx)
	if err != nil {
		cancel()
		a.shutdown(srv)
		wg.Wait()
		return err
	}
	a.resolved.Store(true)

	unsubscribe := a.followSession(runCtx)
	defer unsubscribe()
	a.applySession(runCtx, sess, false)

	select {
	case <-ctx.Done():
		a.log.Info("app.stop", "reason", "context_done")
	case err = <-errCh:
		a.log.Error("status.server.fail", "err", err)
	}

	cancel()
	a.shutdown(srv)
	wg.Wait()

	a.log.Info("app.stopped")
	return err
}

// followSession connects realtime on login and disconnects on logout.
func (a *App) followSession(ctx context.Context) func() {
	var last atomic.Bool
	last.Store(a.sync.State().Snapshot().IsLoggedIn)

	return a.sync.State().Subscribe(func(s session.Session, _ session.AuthView) {
		if last.Swap(s.IsLoggedIn) == s.IsLoggedIn {
			return
		}
		a.applySession(ctx, s, true)
	})
}

func (a *App) applySession(ctx context.Context, s session.Session, changed bool) {
	if !s.IsLoggedIn {
		if changed {
			if err := a.rt.Disconnect(); err != nil && !errors.Is(err, realtime.ErrStopped) {
				a.log.Warn("realtime.disconnect.fail", "err", err)
			}
		}
		return
	}

	if a.cfg.WSAutoConnect {
		if err := a.rt.Connect(); err != nil && !errors.Is(err, realtime.ErrStopped) {
			a.log.Warn("realtime.connect.fail", "err", err)
		}
	}

	if s.Pending() {
		go a.verifyPending(ctx)
	}
}

// verifyPending retries identity verification for a session that kept its
// tokens after a transient failure. It uses the ordinary refresh flow.
func (a *App) verifyPending(ctx context.Context) {
	interval := a.cfg.VerifyInterval
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if !a.sync.State().Snapshot().Pending() {
			return
		}
		s, err := a.sync.Verify(ctx)
		if err != nil {
			a.log.Info("session.verify.retry", "status", authapi.StatusOf(err), "err", err)
			continue
		}
		if !s.Pending() {
			return
		}
	}
}

func (a *App) startStatusServer() (*http.Server, <-chan error) {
	errCh := make(chan error, 1)
	if a.cfg.StatusAddr == "" {
		a.log.Info("status.server.disabled")
		return nil, errCh
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.statusDeps())

	srv := &http.Server{
		Addr:              a.cfg.StatusAddr,
		Handler:           WithSecurityHeaders(WithRequestLogging(mux, a.log, a.metrics)),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	a.log.Info("status.server.start", "addr", a.cfg.StatusAddr, "url", runtimeBaseURL(a.cfg.StatusAddr), "db_enabled", a.dbEnabled)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return srv, errCh
}

func (a *App) shutdown(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Error("status.server.shutdown.fail", "err", err)
	}
}

func (a *App) statusDeps() statusDeps {
	d := statusDeps{
		log:        a.log,
		requireDB:  a.cfg.ReadinessRequireDB,
		dbEnabled:  a.dbEnabled,
		state:      a.sync.State(),
		conn:       a.rt,
		inbox:      a.inbox,
		metrics:    a.metrics.Handler(),
		isResolved: a.resolved.Load,
	}
	if a.dbPool != nil {
		pool := a.dbPool
		d.pingDB = func(ctx context.Context) error { return PingDB(ctx, pool, dbPingTimeout) }
	}
	return d
}

// reportAPIError is the user-facing error surface for non-silent API calls.
func (a *App) reportAPIError(_ context.Context, op string, err error) {
	a.log.Warn("api.error", "op", op, "status", authapi.StatusOf(err), "err", err)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// newStore picks the token store backend.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, tokens.Store, *pgxpool.Pool, bool, error) {
	var (
		pool *pgxpool.Pool
		err  error
	)
	if cfg.DatabaseURL != "" {
		pool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, nil, false, err
		}
		log.Info("db.enabled")
	}

	closer := Store(nopStore{})
	if pool != nil {
		closer = dbStore{pool: pool}
	}
	fail := func(err error) (Store, tokens.Store, *pgxpool.Pool, bool, error) {
		_ = closer.Close(ctx)
		return nil, nil, nil, false, err
	}

	switch cfg.TokenStore {
	case TokenStoreMemory:
		log.Info("tokens.store.memory")
		return closer, tokens.NewMemoryStore(tokens.Pair{}), pool, pool != nil, nil

	case TokenStorePostgres:
		if pool == nil {
			return fail(fmt.Errorf("%w: token_store=postgres without database", ErrConfig))
		}
		ps, err := tokens.NewPostgresStore(pool, tokens.WithProfile(cfg.Profile))
		if err != nil {
			return fail(err)
		}
		if err := ps.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		log.Info("tokens.store.postgres", "profile", cfg.Profile)
		return closer, ps, pool, true, nil

	default:
		var opts []tokens.FileOption
		if cfg.TokenPassphrase != "" {
			s, err := seal.New(cfg.TokenPassphrase, seal.DefaultParams())
			if err != nil {
				return fail(err)
			}
			opts = append(opts, tokens.WithSealer(s))
		}
		fs, err := tokens.NewFileStore(cfg.TokenFile, opts...)
		if err != nil {
			return fail(err)
		}
		log.Info("tokens.store.file", "path", fs.Path(), "sealed", cfg.TokenPassphrase != "")
		return closer, fs, pool, pool != nil, nil
	}
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
