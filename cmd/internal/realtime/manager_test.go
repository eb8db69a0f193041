package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"blogdesk/cmd/internal/auth/tokens"
	v1 "blogdesk/contracts/realtime/v1"
)

type fakeConn struct {
	in     chan v1.Envelope
	peer   chan struct{}
	closed chan struct{}

	peerOnce  sync.Once
	closeOnce sync.Once

	mu      sync.Mutex
	written []v1.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan v1.Envelope, 16),
		peer:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (v1.Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.peer:
		return v1.Envelope{}, io.EOF
	case <-c.closed:
		return v1.Envelope{}, io.EOF
	case <-ctx.Done():
		return v1.Envelope{}, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, env v1.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, env)
	return nil
}

func (c *fakeConn) Ping(context.Context) error { return nil }

func (c *fakeConn) Close(string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) peerClose() { c.peerOnce.Do(func() { close(c.peer) }) }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writes() []v1.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]v1.Envelope(nil), c.written...)
}

// fakeDialer hands out conns from next; n is the 1-based dial number.
type fakeDialer struct {
	mu   sync.Mutex
	n    int
	urls []string
	next func(n int) (Conn, error)
}

func (d *fakeDialer) Dial(_ context.Context, rawURL string) (Conn, error) {
	d.mu.Lock()
	d.n++
	n := d.n
	d.urls = append(d.urls, rawURL)
	next := d.next
	d.mu.Unlock()
	return next(n)
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

type statusLog struct {
	mu     sync.Mutex
	states []State
}

func (l *statusLog) record(st State) {
	l.mu.Lock()
	l.states = append(l.states, st)
	l.mu.Unlock()
}

func (l *statusLog) statuses() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, 0, len(l.states))
	for _, st := range l.states {
		out = append(out, st.Status)
	}
	return out
}

func waitForCondition(timeout time.Duration, interval time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(interval)
	}
	return fn()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(interval time.Duration) Config {
	return Config{
		URL:                  "ws://blog.test",
		MaxReconnectAttempts: 5,
		ReconnectInterval:    interval,
	}
}

func startManager(t *testing.T, cfg Config, d Dialer, opts ...Option) (*Manager, *statusLog) {
	t.Helper()

	store := tokens.NewMemoryStore(tokens.Pair{AccessToken: "acc", RefreshToken: "ref"})
	m, err := NewManager(cfg, store, quietLogger(), append([]Option{WithDialer(d)}, opts...)...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	log := &statusLog{}
	m.Subscribe(log.record)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
	return m, log
}

func TestManager_ConnectOpen(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	m, log := startManager(t, testConfig(10*time.Millisecond), d)

	if st := m.State(); st.Status != StatusDisconnected {
		t.Fatalf("initial status=%s", st.Status)
	}
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool { return m.State().Status == StatusConnected }) {
		t.Fatalf("never connected: %+v", m.State())
	}
	if st := m.State(); st.ReconnectAttempts != 0 {
		t.Fatalf("attempts=%d want=0", st.ReconnectAttempts)
	}

	got := log.statuses()
	if len(got) != 2 || got[0] != StatusConnecting || got[1] != StatusConnected {
		t.Fatalf("transitions=%v", got)
	}

	d.mu.Lock()
	u := d.urls[0]
	d.mu.Unlock()
	if u != "ws://blog.test/api/ws/connect?token=acc" {
		t.Fatalf("dial url=%q", u)
	}
}

func TestManager_ReconnectBudgetExhausted(t *testing.T) {
	t.Parallel()

	first := newFakeConn()
	d := &fakeDialer{next: func(n int) (Conn, error) {
		if n == 1 {
			return first, nil
		}
		return nil, errors.New("connection refused")
	}}
	m, log := startManager(t, testConfig(10*time.Millisecond), d)

	_ = m.Connect()
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool { return m.State().Status == StatusConnected }) {
		t.Fatalf("never connected")
	}

	first.peerClose()

	if !waitForCondition(5*time.Second, 5*time.Millisecond, func() bool {
		st := m.State()
		return st.Status == StatusDisconnected && st.ReconnectAttempts == 5
	}) {
		t.Fatalf("budget not exhausted: %+v", m.State())
	}
	if !waitForCondition(time.Second, 5*time.Millisecond, first.isClosed) {
		t.Fatalf("dropped connection must be closed")
	}

	// No further automatic transitions.
	dials := d.dials()
	n := len(log.statuses())
	time.Sleep(100 * time.Millisecond)
	if d.dials() != dials || len(log.statuses()) != n {
		t.Fatalf("manager kept working after exhaustion: dials %d->%d", dials, d.dials())
	}
	if dials != 6 {
		t.Fatalf("dials=%d want=6", dials)
	}

	// connected, then 5 x (reconnecting, connecting), then disconnected.
	got := log.statuses()
	want := []Status{StatusConnecting, StatusConnected}
	for i := 0; i < 5; i++ {
		want = append(want, StatusReconnecting, StatusConnecting)
	}
	want = append(want, StatusDisconnected)
	if len(got) != len(want) {
		t.Fatalf("transitions=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d=%s want=%s (all=%v)", i, got[i], want[i], got)
		}
	}

	log.mu.Lock()
	firstRetry := log.states[2]
	log.mu.Unlock()
	if firstRetry.ReconnectAttempts != 1 {
		t.Fatalf("first reconnect attempts=%d want=1", firstRetry.ReconnectAttempts)
	}
}

func TestManager_ReconnectSucceedsResetsCounter(t *testing.T) {
	t.Parallel()

	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	d := &fakeDialer{next: func(n int) (Conn, error) {
		switch n {
		case 1:
			return conns[0], nil
		case 2:
			return nil, errors.New("refused")
		default:
			return conns[1], nil
		}
	}}
	m, _ := startManager(t, testConfig(10*time.Millisecond), d)

	_ = m.Connect()
	waitForCondition(2*time.Second, 5*time.Millisecond, func() bool { return m.State().Status == StatusConnected })
	conns[0].peerClose()

	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool {
		return m.State().Status == StatusConnected && d.dials() == 3
	}) {
		t.Fatalf("did not reconnect: %+v", m.State())
	}
	if st := m.State(); st.ReconnectAttempts != 0 {
		t.Fatalf("attempts=%d want=0 after reconnect", st.ReconnectAttempts)
	}
}

func TestManager_DisconnectCancelsPendingRetry(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}
	m, _ := startManager(t, testConfig(150*time.Millisecond), d)

	_ = m.Connect()
	waitForCondition(2*time.Second, 5*time.Millisecond, func() bool { return m.State().Status == StatusConnected })
	conn.peerClose()
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool { return m.State().Status == StatusReconnecting }) {
		t.Fatalf("expected reconnecting, got %+v", m.State())
	}

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	waitForCondition(2*time.Second, 5*time.Millisecond, func() bool { return m.State().Status == StatusDisconnected })

	time.Sleep(300 * time.Millisecond)
	if d.dials() != 1 {
		t.Fatalf("retry fired after disconnect: dials=%d", d.dials())
	}
	if st := m.State(); st.Status != StatusDisconnected {
		t.Fatalf("status=%s want=%s", st.Status, StatusDisconnected)
	}
}

func TestManager_StaleDialIsDropped(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) {
		<-release
		return conn, nil
	}}
	m, _ := startManager(t, testConfig(10*time.Millisecond), d)

	_ = m.Connect()
	waitForCondition(2*time.Second, 5*time.Millisecond, func() bool { return d.dials() == 1 })
	_ = m.Disconnect()
	waitForCondition(2*time.Second, 5*time.Millisecond, func() bool { return m.State().Status == StatusDisconnected })

	close(release)
	if !waitForCondition(2*time.Second, 5*time.Millisecond, conn.isClosed) {
		t.Fatalf("stale connection was not closed")
	}
	if st := m.State(); st.Status != StatusDisconnected {
		t.Fatalf("stale open changed state: %+v", st)
	}
}

func TestManager_DeliversAndSends(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	d := &fakeDialer{next: func(int) (Conn, error) { return conn, nil }}

	got := make(chan v1.Envelope, 4)
	h := HandlerFunc(func(_ context.Context, env v1.Envelope) { got <- env })
	m, _ := startManager(t, testConfig(10*time.Millisecond), d, WithHandler(h))

	if err := m.Send(context.Background(), v1.Envelope{Type: v1.TypeReadReceipt}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v want=%v", err, ErrNotConnected)
	}

	_ = m.Connect()
	waitForCondition(2*time.Second, 5*time.Millisecond, func() bool { return m.State().Status == StatusConnected })

	payload, _ := json.Marshal(v1.NotificationPayload{NotificationID: "n1", Kind: "comment", Title: "hi"})
	conn.in <- v1.Envelope{V: v1.Version, Type: v1.TypeNotification, Payload: payload}
	conn.in <- v1.Envelope{V: "v0", Type: v1.TypeNotification}

	select {
	case env := <-got:
		if env.Type != v1.TypeNotification {
			t.Fatalf("type=%q", env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not called")
	}
	select {
	case env := <-got:
		t.Fatalf("invalid envelope delivered: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}

	id, err := m.SendChat(context.Background(), nil, "conv-1", "  hello  ")
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("client_msg_id=%q", id)
	}
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool { return len(conn.writes()) == 1 }) {
		t.Fatalf("nothing written")
	}
	w := conn.writes()[0]
	if w.V != v1.Version || w.Type != v1.TypeChatSend || w.ID == "" || w.TS.IsZero() {
		t.Fatalf("unexpected envelope: %+v", w)
	}
	var p v1.ChatSendPayload
	if err := json.Unmarshal(w.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Text != "hello" || p.ConversationID != "conv-1" || p.ClientMsgID != id {
		t.Fatalf("unexpected payload: %+v", p)
	}

	if _, err := m.SendChat(context.Background(), nil, "conv-1", strings.Repeat("x", maxMessageChars+1)); err == nil {
		t.Fatalf("expected too-long error")
	}
}

func TestManager_NoTokenCountsAsFailure(t *testing.T) {
	t.Parallel()

	d := &fakeDialer{next: func(int) (Conn, error) { return newFakeConn(), nil }}
	cfg := testConfig(5 * time.Millisecond)
	cfg.MaxReconnectAttempts = 1

	m, err := NewManager(cfg, tokens.NewMemoryStore(tokens.Pair{}), quietLogger(), WithDialer(d))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-m.Done()
	}()
	go func() { _ = m.Run(ctx) }()

	_ = m.Connect()
	if !waitForCondition(2*time.Second, 5*time.Millisecond, func() bool {
		st := m.State()
		return st.Status == StatusDisconnected && st.ReconnectAttempts == 1
	}) {
		t.Fatalf("unexpected state: %+v", m.State())
	}
	if d.dials() != 0 {
		t.Fatalf("dialed without a token")
	}
	if !strings.Contains(m.State().LastError, ErrNoToken.Error()) {
		t.Fatalf("last error=%q", m.State().LastError)
	}
}

func TestManager_RunTwice(t *testing.T) {
	t.Parallel()

	m, _ := startManager(t, testConfig(10*time.Millisecond), &fakeDialer{next: func(int) (Conn, error) { return newFakeConn(), nil }})
	waitForCondition(time.Second, 5*time.Millisecond, func() bool { return m.running.Load() })
	if err := m.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err=%v want=%v", err, ErrAlreadyRunning)
	}
}
