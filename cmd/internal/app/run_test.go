package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"blogdesk/cmd/internal/auth/tokens"
	"blogdesk/cmd/internal/realtime"
	v1 "blogdesk/contracts/realtime/v1"

	"github.com/coder/websocket"
)

type fakeBlog struct {
	meStatus atomic.Int32
	meCalls  atomic.Int32
	logouts  atomic.Int32
}

func (b *fakeBlog) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		b.meCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer acc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if st := int(b.meStatus.Load()); st != 0 && st != http.StatusOK {
			w.WriteHeader(st)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"message":"ok","data":{"user":{"id":7,"username":"ada","role":"user"}}}`))
	})

	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		b.logouts.Add(1)
		_, _ = w.Write([]byte(`{"code":0,"message":"ok","data":{}}`))
	})

	mux.HandleFunc("GET /api/ws/connect", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "acc" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

		ctx := r.Context()
		now := time.Now().UTC()
		payload, _ := json.Marshal(v1.NotificationPayload{NotificationID: "n1", Kind: "comment", Title: "new comment", CreatedAt: now})
		msg, _ := json.Marshal(v1.Envelope{V: v1.Version, Type: v1.TypeNotification, ID: "e1", TS: now, Payload: payload})
		if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
			return
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	return mux
}

func testAppConfig(t *testing.T, baseURL string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIBaseURL = baseURL
	cfg.TokenStore = TokenStoreMemory
	cfg.StatusAddr = ""
	cfg.WSReconnectInterval = 50 * time.Millisecond
	cfg.WSHeartbeatInterval = 0
	cfg.VerifyInterval = 50 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	cfg, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
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

func startApp(t *testing.T, cfg Config, seed tokens.Pair) (*App, context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, cfg, quietLogger())
	if err != nil {
		cancel()
		t.Fatalf("New: %v", err)
	}
	if seed.Complete() {
		if err := a.tokens.Save(ctx, seed); err != nil {
			cancel()
			t.Fatalf("seed tokens: %v", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()
	return a, cancel, errCh
}

func stopApp(t *testing.T, cancel context.CancelFunc, errCh <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestApp_LoginConnectsAndLogoutDisconnects(t *testing.T) {
	blog := &fakeBlog{}
	srv := httptest.NewServer(blog.handler(t))
	defer srv.Close()

	a, cancel, errCh := startApp(t, testAppConfig(t, srv.URL), tokens.Pair{AccessToken: "acc", RefreshToken: "ref"})
	defer stopApp(t, cancel, errCh)

	if !waitForCondition(3*time.Second, 10*time.Millisecond, func() bool {
		return a.Realtime().State().Status == realtime.StatusConnected
	}) {
		t.Fatalf("realtime not connected: %+v", a.Realtime().State())
	}

	view := a.Session().State().View()
	if !view.LoggedIn || view.Pending || view.UserID != 7 {
		t.Fatalf("view=%+v want verified user 7", view)
	}

	if !waitForCondition(2*time.Second, 10*time.Millisecond, func() bool {
		return a.Inbox().Summary().Notifications == 1
	}) {
		t.Fatalf("notification not delivered: %+v", a.Inbox().Summary())
	}

	if err := a.Session().Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if blog.logouts.Load() != 1 {
		t.Fatalf("remote logouts=%d want=1", blog.logouts.Load())
	}
	if !waitForCondition(2*time.Second, 10*time.Millisecond, func() bool {
		return a.Realtime().State().Status == realtime.StatusDisconnected
	}) {
		t.Fatalf("realtime not disconnected after logout: %+v", a.Realtime().State())
	}

	p, err := a.tokens.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.AccessToken != "" || p.RefreshToken != "" {
		t.Fatalf("tokens=%+v want cleared", p)
	}
}

func TestApp_AnonymousStaysDisconnected(t *testing.T) {
	blog := &fakeBlog{}
	srv := httptest.NewServer(blog.handler(t))
	defer srv.Close()

	a, cancel, errCh := startApp(t, testAppConfig(t, srv.URL), tokens.Pair{})
	defer stopApp(t, cancel, errCh)

	if !waitForCondition(2*time.Second, 10*time.Millisecond, a.resolved.Load) {
		t.Fatalf("session never resolved")
	}
	time.Sleep(100 * time.Millisecond)

	if blog.meCalls.Load() != 0 {
		t.Fatalf("me calls=%d want=0", blog.meCalls.Load())
	}
	if st := a.Realtime().State().Status; st != realtime.StatusDisconnected {
		t.Fatalf("status=%v want=disconnected", st)
	}
}

func TestApp_PendingSessionVerifiesLater(t *testing.T) {
	blog := &fakeBlog{}
	blog.meStatus.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(blog.handler(t))
	defer srv.Close()

	a, cancel, errCh := startApp(t, testAppConfig(t, srv.URL), tokens.Pair{AccessToken: "acc", RefreshToken: "ref"})
	defer stopApp(t, cancel, errCh)

	if !waitForCondition(2*time.Second, 10*time.Millisecond, func() bool {
		return a.Session().State().View().Pending
	}) {
		t.Fatalf("session not pending: %+v", a.Session().State().View())
	}

	p, err := a.tokens.Load(context.Background())
	if err != nil || !p.Complete() {
		t.Fatalf("tokens=%+v err=%v want kept", p, err)
	}

	blog.meStatus.Store(http.StatusOK)

	if !waitForCondition(3*time.Second, 10*time.Millisecond, func() bool {
		v := a.Session().State().View()
		return v.LoggedIn && !v.Pending && v.UserID == 7
	}) {
		t.Fatalf("pending session never verified: %+v", a.Session().State().View())
	}
	if !waitForCondition(3*time.Second, 10*time.Millisecond, func() bool {
		return a.Realtime().State().Status == realtime.StatusConnected
	}) {
		t.Fatalf("realtime not connected: %+v", a.Realtime().State())
	}
}
