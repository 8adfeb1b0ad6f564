// Package session owns the authenticated identity of one tab.
//
// Store is the only place SessionState is mutated. Tracker talks to the API
// and decides which mutation applies. Handle is the stable reference through
// which timers and the gateway trigger an authentication check.
package session

import (
	"sync"
	"time"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
)

// Listener observes a committed mutation. prev and next are independent snapshots.
// Listeners run on the mutating goroutine and must not mutate the Store.
type Listener func(prev, next models.SessionState)

type subscription struct {
	id uint64
	fn Listener
}

// Store holds one tab's SessionState.
type Store struct {
	// notifyMu is held across mutate+notify so listeners see mutations in order.
	notifyMu sync.Mutex

	mu             sync.Mutex
	state          models.SessionState
	defaultTimeout int
	listeners      []subscription
	nextID         uint64
}

// NewStore returns a store in the logged-out default state.
func NewStore() *Store {
	return NewStoreWithTimeout(models.DefaultSessionTimeout)
}

// NewStoreWithTimeout returns a store that assumes defaultTimeout seconds
// whenever the server does not declare a session timeout.
func NewStoreWithTimeout(defaultTimeout int) *Store {
	s := &Store{defaultTimeout: defaultTimeout}
	s.state = s.defaults()
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// SetAuthenticated adopts the identity reported by the server.
func (s *Store) SetAuthenticated(status models.AuthStatus) {
	roles := status.Roles
	if roles == nil {
		roles = []string{}
	}

	s.mutate(func(st *models.SessionState) {
		st.LoggedIn = true
		st.Username = status.Username
		st.Roles = roles
		st.SessionTimeout = s.defaultTimeout
		if status.SessionTimeout != nil {
			st.SessionTimeout = *status.SessionTimeout
		}
	})
}

// Reset restores the logged-out defaults. The activity counter and the last
// activity instant are kept.
func (s *Store) Reset() {
	s.mutate(func(st *models.SessionState) {
		counter, last := st.ActivityCounter, st.LastActivity
		*st = s.defaults()
		st.ActivityCounter = counter
		st.LastActivity = last
	})
}

// TouchActivity records that the session was used at the given instant.
// The counter always advances; LastActivity never moves backwards.
func (s *Store) TouchActivity(at time.Time) {
	s.mutate(func(st *models.SessionState) {
		st.ActivityCounter++
		if at.After(st.LastActivity) {
			st.LastActivity = at
		}
	})
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.listeners {
				if sub.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) defaults() models.SessionState {
	st := models.DefaultSessionState()
	st.SessionTimeout = s.defaultTimeout
	return st
}

func (s *Store) mutate(apply func(*models.SessionState)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev := s.state.Clone()
	apply(&s.state)
	next := s.state.Clone()
	listeners := make([]subscription, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, sub := range listeners {
		sub.fn(prev.Clone(), next.Clone())
	}
}
