package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"blogdesk/cmd/identity"
	authapi "blogdesk/cmd/internal/auth/api"
	"blogdesk/cmd/internal/auth/tokens"
)

type fakeClient struct {
	mu sync.Mutex

	meUser identity.User
	meErr  error
	meOpts []authapi.RequestOptions

	loginRes authapi.LoginResult
	loginErr error

	logoutErr   error
	logoutCalls int
}

func (f *fakeClient) Me(_ context.Context, opts authapi.RequestOptions) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meOpts = append(f.meOpts, opts)
	return f.meUser, f.meErr
}

func (f *fakeClient) Login(context.Context, string, string) (authapi.LoginResult, error) {
	return f.loginRes, f.loginErr
}

func (f *fakeClient) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	return f.logoutErr
}

func (f *fakeClient) meCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.meOpts)
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *countingRecorder) SessionResolved(outcome string) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func alice() identity.User {
	return identity.User{ID: 1, Username: "alice", Role: identity.RoleUser}
}

func newSync(t *testing.T, st tokens.Store, c IdentityClient, opts ...Option) *Synchronizer {
	t.Helper()
	s, err := NewSynchronizer(st, c, nil, quietLogger(), opts...)
	if err != nil {
		t.Fatalf("NewSynchronizer: %v", err)
	}
	return s
}

var seeded = tokens.Pair{AccessToken: "acc", RefreshToken: "ref"}

func TestResolveInitialSession_NoTokensMakesNoCall(t *testing.T) {
	t.Parallel()

	for _, seed := range []tokens.Pair{{}, {AccessToken: "acc"}, {RefreshToken: "ref"}} {
		fc := &fakeClient{}
		rec := &countingRecorder{}
		s := newSync(t, tokens.NewMemoryStore(seed), fc, WithRecorder(rec))

		sess, err := s.ResolveInitialSession(context.Background())
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if sess.IsLoggedIn || sess.CurrentUser != nil {
			t.Fatalf("seed=%+v: expected anonymous, got %+v", seed, sess)
		}
		if fc.meCalls() != 0 {
			t.Fatalf("seed=%+v: me calls=%d want=0", seed, fc.meCalls())
		}
		if len(rec.outcomes) != 1 || rec.outcomes[0] != OutcomeAnonymous {
			t.Fatalf("outcomes=%v", rec.outcomes)
		}
	}
}

func TestResolveInitialSession_Verified(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{meUser: alice()}
	st := tokens.NewMemoryStore(seeded)
	s := newSync(t, st, fc)

	sess, err := s.ResolveInitialSession(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !sess.Verified() || sess.CurrentUser.Username != "alice" {
		t.Fatalf("expected verified alice, got %+v", sess)
	}
	if sess.AccessToken != "acc" || sess.RefreshToken != "ref" {
		t.Fatalf("tokens changed: %+v", sess)
	}
	p, _ := st.Load(context.Background())
	if p != seeded {
		t.Fatalf("store changed: %+v", p)
	}

	if len(fc.meOpts) != 1 || !fc.meOpts[0].Silent || !fc.meOpts[0].SkipAuthRefresh {
		t.Fatalf("me must be silent and skip refresh, got %+v", fc.meOpts)
	}

	v := s.State().View()
	if !v.LoggedIn || v.UserID != 1 || v.Pending {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestResolveInitialSession_UnauthorizedClearsTokens(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{meErr: &authapi.APIError{Op: "api.Me", Status: http.StatusUnauthorized}}
	st := tokens.NewMemoryStore(seeded)
	s := newSync(t, st, fc)

	sess, err := s.ResolveInitialSession(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sess.IsLoggedIn {
		t.Fatalf("expected anonymous, got %+v", sess)
	}
	p, _ := st.Load(context.Background())
	if p != (tokens.Pair{}) {
		t.Fatalf("expected cleared store, got %+v", p)
	}
}

func TestResolveInitialSession_TransientKeepsTokens(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
	}{
		{name: "network", err: errors.New("dial tcp: i/o timeout")},
		{name: "5xx", err: &authapi.APIError{Op: "api.Me", Status: http.StatusBadGateway}},
		{name: "code", err: &authapi.APIError{Op: "api.Me", Status: http.StatusOK, Code: 5000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fc := &fakeClient{meErr: tc.err}
			st := tokens.NewMemoryStore(seeded)
			s := newSync(t, st, fc)

			sess, err := s.ResolveInitialSession(context.Background())
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !sess.IsLoggedIn || sess.CurrentUser != nil || !sess.Pending() {
				t.Fatalf("expected pending session, got %+v", sess)
			}
			p, _ := st.Load(context.Background())
			if p != seeded {
				t.Fatalf("tokens must be retained, got %+v", p)
			}
			if v := s.State().View(); !v.Pending || !v.LoggedIn {
				t.Fatalf("unexpected view: %+v", v)
			}
		})
	}
}

func TestSyncLogout_IdempotentFromAnonymous(t *testing.T) {
	t.Parallel()

	s := newSync(t, tokens.NewMemoryStore(tokens.Pair{}), &fakeClient{})
	for i := 0; i < 2; i++ {
		if err := s.SyncLogout(context.Background()); err != nil {
			t.Fatalf("SyncLogout #%d: %v", i, err)
		}
	}
	if sess := s.State().Snapshot(); sess.IsLoggedIn {
		t.Fatalf("expected anonymous, got %+v", sess)
	}
}

func TestSyncLogin_PersistsThenNotifiesConsistentView(t *testing.T) {
	t.Parallel()

	st := tokens.NewMemoryStore(tokens.Pair{})
	s := newSync(t, st, &fakeClient{})

	var got []AuthView
	unsub := s.State().Subscribe(func(sess Session, v AuthView) {
		// Store and both containers must already agree when listeners run.
		p, _ := st.Load(context.Background())
		if p.AccessToken != sess.AccessToken {
			t.Errorf("store=%q session=%q", p.AccessToken, sess.AccessToken)
		}
		if cur := s.State().View(); cur != v {
			t.Errorf("view=%+v listener=%+v", cur, v)
		}
		got = append(got, v)
	})
	defer unsub()

	sess, err := s.SyncLogin(context.Background(), Credentials{AccessToken: "a", RefreshToken: "r", User: alice()})
	if err != nil {
		t.Fatalf("SyncLogin: %v", err)
	}
	if !sess.Verified() {
		t.Fatalf("expected verified, got %+v", sess)
	}
	if err := s.SyncLogout(context.Background()); err != nil {
		t.Fatalf("SyncLogout: %v", err)
	}

	if len(got) != 2 || !got[0].LoggedIn || got[1].LoggedIn {
		t.Fatalf("unexpected notifications: %+v", got)
	}
}

func TestSyncLogin_RejectsIncompleteBundle(t *testing.T) {
	t.Parallel()

	s := newSync(t, tokens.NewMemoryStore(tokens.Pair{}), &fakeClient{})
	_, err := s.SyncLogin(context.Background(), Credentials{AccessToken: "a", User: alice()})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v want=%v", err, ErrInvalidCredentials)
	}
	if s.State().Snapshot().IsLoggedIn {
		t.Fatalf("state must stay anonymous")
	}
}

func TestLoginAndLogout(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{
		loginRes:  authapi.LoginResult{AccessToken: "a", RefreshToken: "r", User: alice()},
		logoutErr: errors.New("server down"),
	}
	st := tokens.NewMemoryStore(tokens.Pair{})
	s := newSync(t, st, fc)

	if _, err := s.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if p, _ := st.Load(context.Background()); !p.Complete() {
		t.Fatalf("expected persisted pair, got %+v", p)
	}

	// Remote failure must not block the local sign-out.
	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if fc.logoutCalls != 1 {
		t.Fatalf("logout calls=%d want=1", fc.logoutCalls)
	}
	if p, _ := st.Load(context.Background()); p.Complete() {
		t.Fatalf("expected cleared pair, got %+v", p)
	}

	// Already anonymous: no remote call.
	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("Logout #2: %v", err)
	}
	if fc.logoutCalls != 1 {
		t.Fatalf("logout calls=%d want=1", fc.logoutCalls)
	}
}

func TestSetUserClosesPendingWindow(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{meErr: errors.New("timeout")}
	s := newSync(t, tokens.NewMemoryStore(seeded), fc)
	if _, err := s.ResolveInitialSession(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !s.State().Snapshot().Pending() {
		t.Fatalf("expected pending")
	}
	if s.SetUser(alice(), tokens.Pair{AccessToken: "acc"}) {
		t.Fatalf("SetUser accepted an incomplete pair")
	}
	if !s.SetUser(alice(), tokens.Pair{AccessToken: "acc2", RefreshToken: "ref2"}) {
		t.Fatalf("SetUser returned false")
	}
	if sess := s.State().Snapshot(); !sess.Verified() || sess.AccessToken != "acc2" || sess.RefreshToken != "ref2" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	if err := s.SyncLogout(context.Background()); err != nil {
		t.Fatalf("SyncLogout: %v", err)
	}
	if s.SetUser(alice(), tokens.Pair{AccessToken: "a", RefreshToken: "r"}) {
		t.Fatalf("SetUser signed in an anonymous session")
	}
}

func TestVerify_UnauthorizedSignsOut(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{meErr: errors.New("timeout")}
	st := tokens.NewMemoryStore(seeded)
	s := newSync(t, st, fc)
	if _, err := s.ResolveInitialSession(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	fc.mu.Lock()
	fc.meErr = &authapi.APIError{Op: "api.Me", Status: http.StatusUnauthorized}
	fc.mu.Unlock()

	if _, err := s.Verify(context.Background()); !authapi.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if s.State().Snapshot().IsLoggedIn {
		t.Fatalf("expected anonymous after unrecoverable 401")
	}
	if fc.meOpts[len(fc.meOpts)-1].SkipAuthRefresh {
		t.Fatalf("verify must allow the refresh interceptor")
	}
}

func TestHandleAuthExpired(t *testing.T) {
	t.Parallel()

	st := tokens.NewMemoryStore(tokens.Pair{})
	s := newSync(t, st, &fakeClient{})
	if _, err := s.SyncLogin(context.Background(), Credentials{AccessToken: "a", RefreshToken: "r", User: alice()}); err != nil {
		t.Fatalf("SyncLogin: %v", err)
	}
	s.HandleAuthExpired(context.Background())
	if s.State().Snapshot().IsLoggedIn {
		t.Fatalf("expected anonymous")
	}
}
