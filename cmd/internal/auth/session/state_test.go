package session

import (
	"strconv"
	"sync"
	"testing"

	"blogdesk/cmd/identity"
)

func TestStateReplace_LastNotificationMatchesSnapshot(t *testing.T) {
	t.Parallel()

	for round := 0; round < 20; round++ {
		st := NewState()

		var (
			mu       sync.Mutex
			inFlight int
			overlap  bool
			last     Session
		)
		st.Subscribe(func(s Session, _ AuthView) {
			mu.Lock()
			inFlight++
			if inFlight > 1 {
				overlap = true
			}
			mu.Unlock()

			mu.Lock()
			last = s
			inFlight--
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					if i%3 == 0 {
						st.Replace(Anonymous())
						continue
					}
					u := identity.User{ID: int64(w*100 + i + 1), Username: "u" + strconv.Itoa(w) + "_" + strconv.Itoa(i)}
					st.Replace(verifiedSession(u, "a", "r"))
				}
			}(w)
		}
		wg.Wait()

		want := st.Snapshot()
		mu.Lock()
		got := last
		mu.Unlock()

		if overlap {
			t.Fatalf("round %d: listeners ran concurrently", round)
		}
		if got.IsLoggedIn != want.IsLoggedIn || (want.CurrentUser != nil && (got.CurrentUser == nil || got.CurrentUser.ID != want.CurrentUser.ID)) {
			t.Fatalf("round %d: last notified=%+v snapshot=%+v", round, got, want)
		}
	}
}
