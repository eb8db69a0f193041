package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"blogdesk/cmd/internal/auth/tokens"
	v1 "blogdesk/contracts/realtime/v1"
)

const eventQueueSize = 64

// TokenSource yields the stored access token at dial time.
type TokenSource interface {
	Load(ctx context.Context) (tokens.Pair, error)
}

// Handler receives validated inbound envelopes on the event-loop goroutine.
type Handler interface {
	HandleEnvelope(ctx context.Context, env v1.Envelope)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env v1.Envelope)

// HandleEnvelope calls f.
func (f HandlerFunc) HandleEnvelope(ctx context.Context, env v1.Envelope) { f(ctx, env) }

// Recorder observes lifecycle changes (metrics).
type Recorder interface {
	Transition(from, to Status)
	ReconnectScheduled(attempt int)
	ReconnectExhausted()
	MessageReceived(typ string)
}

// Manager owns the connection lifecycle. All state changes happen on the
// goroutine running Run.
type Manager struct {
	cfg     Config
	dialer  Dialer
	tokens  TokenSource
	handler Handler
	rec     Recorder
	log     *slog.Logger
	limiter *RateLimiter

	events  chan Event
	done    chan struct{}
	running atomic.Bool

	mu        sync.RWMutex
	state     State
	nextSubID uint64
	subs      map[uint64]func(State)

	active atomic.Pointer[connection]

	// Owned by the loop goroutine.
	gen   uint64
	retry *time.Timer
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer overrides the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithHandler installs the inbound envelope handler.
func WithHandler(h Handler) Option {
	return func(m *Manager) { m.handler = h }
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.rec = r }
}

// NewManager constructs a Manager in StatusDisconnected. Call Run to start the loop.
func NewManager(cfg Config, src TokenSource, log *slog.Logger, opts ...Option) (*Manager, error) {
	if src == nil {
		return nil, errors.New("realtime: nil token source")
	}
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		cfg:     cfg,
		dialer:  WSDialer{Subprotocol: cfg.Subprotocol, UserAgent: "blogdesk"},
		tokens:  src,
		log:     log,
		limiter: NewRateLimiter(cfg.RateEvents, cfg.RateWindow),
		events:  make(chan Event, eventQueueSize),
		done:    make(chan struct{}),
		state:   InitialState(cfg),
		subs:    make(map[uint64]func(State)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Config returns the validated configuration.
func (m *Manager) Config() Config { return m.cfg }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers fn for every state change. fn runs on the event loop
// and must not block.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Connect requests a connection. It is a no-op unless disconnected.
func (m *Manager) Connect() error {
	return m.request(Event{Kind: EventConnect})
}

// Disconnect closes the connection and cancels any pending reconnect.
func (m *Manager) Disconnect() error {
	return m.request(Event{Kind: EventDisconnect})
}

// Done is closed when Run has returned.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Send queues env on the live connection. ID, V and TS are filled when empty.
func (m *Manager) Send(ctx context.Context, env v1.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := m.active.Load()
	if c == nil || m.State().Status != StatusConnected {
		return ErrNotConnected
	}

	now := time.Now().UTC()
	if env.V == "" {
		env.V = v1.Version
	}
	if env.TS.IsZero() {
		env.TS = now
	}
	if strings.TrimSpace(env.ID) == "" {
		id, err := NewEnvelopeID(now)
		if err != nil {
			return fmt.Errorf("realtime: envelope id: %w", err)
		}
		env.ID = id
	}
	if err := env.Validate(); err != nil {
		return fmt.Errorf("realtime: %w", err)
	}
	if !m.limiter.Allow(now) {
		return fmt.Errorf("%w: retry in %s", ErrRateLimited, m.limiter.RetryAfter(now).Round(time.Millisecond))
	}
	return c.enqueue(env)
}

// Run drives the event loop until ctx is done. The connection is closed on return.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(m.done)

	m.log.Info("realtime.run",
		"url", redactURL(connectURLForLog(m.cfg.URL)),
		"max_reconnect_attempts", m.cfg.MaxReconnectAttempts,
		"reconnect_interval_ms", m.cfg.ReconnectInterval.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			m.handle(context.Background(), Event{Kind: EventDisconnect})
			return nil
		case ev := <-m.events:
			m.handle(ctx, ev)
		}
	}
}

func (m *Manager) request(ev Event) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}
	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

// post is used by transport goroutines and the retry timer; it gives up
// when the loop has exited.
func (m *Manager) post(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) handle(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	if m.stale(ev) {
		if ev.conn != nil {
			go func() { _ = ev.conn.Close("stale") }()
		}
		m.log.Debug("realtime.event.stale", "event", ev.Kind.String(), "gen", ev.Gen, "current_gen", m.gen)
		return
	}

	prev := m.State()
	next, eff := Transition(prev, ev)

	if ev.Kind == EventOpen && next.Status != StatusConnected && ev.conn != nil {
		go func() { _ = ev.conn.Close("unexpected open") }()
	}
	if eff.Has(EffectCancelRetry) {
		m.stopRetry()
	}
	if eff.Has(EffectCloseConn) {
		m.closeActive(closeReason(ev))
	}
	if ev.Kind == EventDisconnect {
		// Invalidate in-flight dials and timers.
		m.gen++
	}
	if ev.Kind == EventOpen && next.Status == StatusConnected {
		m.attach(ctx, ev)
	}

	if next != prev {
		m.publish(prev, next, ev)
	}

	if eff.Has(EffectDeliver) {
		m.deliver(ctx, ev.Envelope)
	}
	if eff.Has(EffectScheduleRetry) {
		m.scheduleRetry(next.ReconnectInterval)
	}
	if eff.Has(EffectDial) {
		m.dial(ctx)
	}
}

// stale reports events from a connection attempt or timer that is no longer current.
func (m *Manager) stale(ev Event) bool {
	switch ev.Kind {
	case EventOpen, EventClose, EventError, EventMessage, EventRetry:
		return ev.Gen != m.gen
	default:
		return false
	}
}

func (m *Manager) publish(prev, next State, ev Event) {
	m.mu.Lock()
	m.state = next
	subs := make([]func(State), 0, len(m.subs))
	ids := make([]uint64, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		subs = append(subs, m.subs[id])
	}
	m.mu.Unlock()

	attrs := []any{
		"from", prev.Status.String(),
		"to", next.Status.String(),
		"event", ev.Kind.String(),
		"attempts", next.ReconnectAttempts,
		"message", next.StatusMessage,
	}
	if next.LastError != "" && next.LastError != prev.LastError {
		attrs = append(attrs, "err", next.LastError)
	}
	m.log.Info("realtime.transition", attrs...)

	if m.rec != nil {
		if prev.Status != next.Status {
			m.rec.Transition(prev.Status, next.Status)
		}
		if next.Status == StatusReconnecting {
			m.rec.ReconnectScheduled(next.ReconnectAttempts)
		}
		if next.Status == StatusDisconnected && (ev.Kind == EventClose || ev.Kind == EventError) {
			m.rec.ReconnectExhausted()
		}
	}

	for _, fn := range subs {
		fn(next)
	}
}

func (m *Manager) deliver(ctx context.Context, env v1.Envelope) {
	if m.rec != nil {
		m.rec.MessageReceived(env.Type)
	}
	if m.handler != nil {
		m.handler.HandleEnvelope(ctx, env)
	}
}

func (m *Manager) dial(ctx context.Context) {
	m.gen++
	gen := m.gen

	go func() {
		conn, err := m.dialOnce(ctx)
		if err != nil {
			m.log.Info("realtime.dial.fail", "gen", gen, "err", err)
			m.post(Event{Kind: EventError, Gen: gen, Err: err})
			return
		}
		if !m.post(Event{Kind: EventOpen, Gen: gen, conn: conn}) {
			_ = conn.Close("manager stopped")
		}
	}()
}

func (m *Manager) dialOnce(ctx context.Context) (Conn, error) {
	pair, err := m.tokens.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if strings.TrimSpace(pair.AccessToken) == "" {
		return nil, ErrNoToken
	}
	u, err := BuildConnectURL(m.cfg.URL, pair.AccessToken)
	if err != nil {
		return nil, err
	}

	dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	return m.dialer.Dial(dctx, u)
}

func (m *Manager) attach(ctx context.Context, ev Event) {
	c := newConnection(ctx, ev.Gen, ev.conn, m.cfg, m.log)
	m.limiter.Reset()
	m.active.Store(c)
	c.start(func(e Event) bool {
		select {
		case m.events <- e:
			return true
		case <-m.done:
			return false
		case <-c.Done():
			return false
		}
	})
}

func (m *Manager) closeActive(reason string) {
	c := m.active.Swap(nil)
	if c == nil {
		return
	}
	c.close(reason)
	go c.wait()
}

func (m *Manager) scheduleRetry(d time.Duration) {
	m.stopRetry()
	gen := m.gen
	m.retry = time.AfterFunc(d, func() {
		m.post(Event{Kind: EventRetry, Gen: gen})
	})
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func closeReason(ev Event) string {
	switch ev.Kind {
	case EventDisconnect:
		return "client disconnect"
	case EventClose:
		return "peer closed"
	default:
		return "connection error"
	}
}

func connectURLForLog(base string) string {
	u, err := BuildConnectURL(base, "")
	if err != nil {
		return base
	}
	return u
}
