package session

import (
	"sort"
	"sync"
)

// AuthView is the derived, read-only projection of a Session used by route
// guards, CLI output and the status surface.
type AuthView struct {
	LoggedIn bool   `json:"logged_in"`
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
	Pending  bool   `json:"pending"`
}

// ViewOf derives the AuthView for s.
func ViewOf(s Session) AuthView {
	v := AuthView{
		LoggedIn: s.IsLoggedIn,
		Pending:  s.Pending(),
		IsAdmin:  s.IsAdmin(),
	}
	if s.CurrentUser != nil {
		v.UserID = s.CurrentUser.ID
		v.Username = s.CurrentUser.Username
	}
	return v
}

// Listener receives the session and its view after a replace.
type Listener func(Session, AuthView)

// State is the single source of truth for the current Session.
type State struct {
	mu      sync.Mutex
	session Session
	view    AuthView
	version uint64

	// Serializes listener fan-out across concurrent replaces.
	notifyMu sync.Mutex

	nextID    uint64
	listeners map[uint64]Listener
}

// NewState returns a container holding the anonymous session.
func NewState() *State {
	return &State{
		view:      ViewOf(Anonymous()),
		listeners: make(map[uint64]Listener),
	}
}

// Snapshot returns a copy of the current session.
func (st *State) Snapshot() Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.clone()
}

// View returns the current derived view.
func (st *State) View() AuthView {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.view
}

// Replace swaps in s and its derived view atomically, then notifies listeners.
// Listeners run on the caller's goroutine after the state lock is released,
// one Replace at a time and never with an older session than one already
// delivered: a Replace overtaken by a newer one skips notifying. Listeners must
// not call Replace.
func (st *State) Replace(s Session) {
	s = s.clone()
	v := ViewOf(s)

	st.mu.Lock()
	st.session = s
	st.view = v
	st.version++
	ver := st.version
	st.mu.Unlock()

	st.notifyMu.Lock()
	defer st.notifyMu.Unlock()

	st.mu.Lock()
	if st.version != ver {
		st.mu.Unlock()
		return
	}
	ls := st.snapshotListenersLocked()
	st.mu.Unlock()

	for _, fn := range ls {
		fn(s.clone(), v)
	}
}

// Subscribe registers fn and returns a function that removes it.
func (st *State) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	st.mu.Lock()
	st.nextID++
	id := st.nextID
	st.listeners[id] = fn
	st.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			st.mu.Lock()
			delete(st.listeners, id)
			st.mu.Unlock()
		})
	}
}

func (st *State) snapshotListenersLocked() []Listener {
	if len(st.listeners) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(st.listeners))
	for id := range st.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, st.listeners[id])
	}
	return out
}
