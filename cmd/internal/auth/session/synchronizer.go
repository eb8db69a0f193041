package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"blogdesk/cmd/identity"
	authapi "blogdesk/cmd/internal/auth/api"
	"blogdesk/cmd/internal/auth/tokens"
	"blogdesk/cmd/security/token"
)

// Resolution outcomes reported to the Recorder.
const (
	OutcomeAnonymous = "anonymous"
	OutcomeVerified  = "verified"
	OutcomeRejected  = "rejected"
	OutcomePending   = "pending"
)

// IdentityClient is the subset of the API client the synchronizer depends on.
type IdentityClient interface {
	Me(ctx context.Context, opts authapi.RequestOptions) (identity.User, error)
	Login(ctx context.Context, username, password string) (authapi.LoginResult, error)
	Logout(ctx context.Context) error
}

// Recorder observes session resolutions (metrics).
type Recorder interface {
	SessionResolved(outcome string)
}

// Synchronizer keeps persisted tokens and the State container consistent.
type Synchronizer struct {
	store  tokens.Store
	client IdentityClient
	state  *State
	log    *slog.Logger
	rec    Recorder
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Synchronizer) { s.rec = r }
}

// NewSynchronizer constructs a Synchronizer. A nil state gets a fresh container.
func NewSynchronizer(store tokens.Store, client IdentityClient, state *State, log *slog.Logger, opts ...Option) (*Synchronizer, error) {
	if store == nil {
		return nil, errors.New("session: nil token store")
	}
	if client == nil {
		return nil, errors.New("session: nil identity client")
	}
	if state == nil {
		state = NewState()
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Synchronizer{store: store, client: client, state: state, log: log}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// State returns the container the synchronizer publishes into.
func (s *Synchronizer) State() *State { return s.state }

// ResolveInitialSession derives the boot-time session from persisted tokens.
//
// Without a complete pair no request is made. A 401 from the silent identity
// check clears the pair; any other failure keeps the pair and returns a
// pending session. The returned error is non-nil only when the token store fails.
func (s *Synchronizer) ResolveInitialSession(ctx context.Context) (Session, error) {
	pair, err := s.store.Load(ctx)
	if err != nil {
		return Anonymous(), fmt.Errorf("session.resolve: load tokens: %w", err)
	}

	if !pair.Complete() {
		s.log.Info("session.resolve.anonymous", "reason", "no_tokens")
		s.publish(Anonymous(), OutcomeAnonymous)
		return Anonymous(), nil
	}

	user, err := s.client.Me(ctx, authapi.RequestOptions{Silent: true, SkipAuthRefresh: true})
	switch {
	case err == nil:
		sess := verifiedSession(user, pair.AccessToken, pair.RefreshToken)
		s.log.Info("session.resolve.ok",
			"user_id", user.ID,
			"token", token.Fingerprint(pair.AccessToken),
		)
		s.publish(sess, OutcomeVerified)
		return sess.clone(), nil

	case authapi.IsUnauthorized(err):
		s.log.Info("session.resolve.rejected", "token", token.Fingerprint(pair.AccessToken))
		if cerr := s.store.Clear(ctx); cerr != nil {
			return Anonymous(), fmt.Errorf("session.resolve: clear tokens: %w", cerr)
		}
		s.publish(Anonymous(), OutcomeRejected)
		return Anonymous(), nil

	default:
		sess := pendingSession(pair.AccessToken, pair.RefreshToken)
		s.log.Warn("session.resolve.pending",
			"status", authapi.StatusOf(err),
			"err", err,
		)
		s.publish(sess, OutcomePending)
		return sess, nil
	}
}

// SyncLogin persists the credential pair, then publishes the signed-in session.
func (s *Synchronizer) SyncLogin(ctx context.Context, c Credentials) (Session, error) {
	if !c.valid() {
		return s.state.Snapshot(), ErrInvalidCredentials
	}
	pair := tokens.Pair{AccessToken: strings.TrimSpace(c.AccessToken), RefreshToken: strings.TrimSpace(c.RefreshToken)}
	if err := s.store.Save(ctx, pair); err != nil {
		return s.state.Snapshot(), fmt.Errorf("session.login: save tokens: %w", err)
	}

	sess := verifiedSession(c.User, pair.AccessToken, pair.RefreshToken)
	s.state.Replace(sess)
	s.log.Info("session.login.ok", "user_id", c.User.ID, "token", token.Fingerprint(pair.AccessToken))
	return sess.clone(), nil
}

// SyncLogout clears persisted tokens and publishes the anonymous session.
// Safe to call repeatedly.
func (s *Synchronizer) SyncLogout(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("session.logout: clear tokens: %w", err)
	}
	wasLoggedIn := s.state.Snapshot().IsLoggedIn
	s.state.Replace(Anonymous())
	if wasLoggedIn {
		s.log.Info("session.logout.ok")
	}
	return nil
}

// Login authenticates against the API and applies SyncLogin.
func (s *Synchronizer) Login(ctx context.Context, username, password string) (Session, error) {
	res, err := s.client.Login(ctx, username, password)
	if err != nil {
		s.log.Info("session.login.fail", "status", authapi.StatusOf(err), "err", err)
		return s.state.Snapshot(), err
	}
	return s.SyncLogin(ctx, Credentials{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         res.User,
	})
}

// Logout revokes the server session on a best-effort basis, then applies SyncLogout.
func (s *Synchronizer) Logout(ctx context.Context) error {
	if s.state.Snapshot().IsLoggedIn {
		if err := s.client.Logout(ctx); err != nil {
			s.log.Warn("session.logout.remote.fail", "status", authapi.StatusOf(err), "err", err)
		}
	}
	return s.SyncLogout(ctx)
}

// SetUser completes a pending session once the user has been verified.
// pair is the stored credential pair, which a refresh may have rotated.
// It is a no-op when nobody is signed in.
func (s *Synchronizer) SetUser(u identity.User, pair tokens.Pair) bool {
	if !s.state.Snapshot().IsLoggedIn || u.Validate() != nil || !pair.Complete() {
		return false
	}
	s.state.Replace(verifiedSession(u, pair.AccessToken, pair.RefreshToken))
	return true
}

// Verify re-checks the identity through the ordinary request path (refresh
// enabled). It closes the pending window on success and signs out when the
// credentials turn out to be unrecoverable.
func (s *Synchronizer) Verify(ctx context.Context) (Session, error) {
	if !s.state.Snapshot().IsLoggedIn {
		return Anonymous(), ErrNotLoggedIn
	}

	user, err := s.client.Me(ctx, authapi.RequestOptions{Silent: true})
	if err != nil {
		if authapi.IsUnauthorized(err) {
			if lerr := s.SyncLogout(ctx); lerr != nil {
				return s.state.Snapshot(), lerr
			}
		}
		return s.state.Snapshot(), err
	}

	pair, err := s.store.Load(ctx)
	if err != nil {
		return s.state.Snapshot(), fmt.Errorf("session.verify: load tokens: %w", err)
	}
	if !s.SetUser(user, pair) {
		return s.state.Snapshot(), ErrNotLoggedIn
	}
	s.log.Info("session.verify.ok", "user_id", user.ID)
	return s.state.Snapshot(), nil
}

// HandleAuthExpired is installed as the API client's expiry hook.
func (s *Synchronizer) HandleAuthExpired(ctx context.Context) {
	s.log.Info("session.expired")
	if err := s.SyncLogout(ctx); err != nil {
		s.log.Error("session.expired.logout.fail", "err", err)
	}
}

func (s *Synchronizer) publish(sess Session, outcome string) {
	s.state.Replace(sess)
	if s.rec != nil {
		s.rec.SessionResolved(outcome)
	}
}
