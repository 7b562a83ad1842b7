package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JohnPlummer/magdee-client/resilience"
)

// Event is an auth state change.
type Event string

const (
	// EventSignedIn is published when a session is established.
	EventSignedIn Event = "SIGNED_IN"

	// EventSignedOut is published when the session is cleared.
	EventSignedOut Event = "SIGNED_OUT"

	// EventTokenRefreshed is published when the access token is replaced for the same user.
	EventTokenRefreshed Event = "TOKEN_REFRESHED"

	// EventUserUpdated is published when user details change.
	EventUserUpdated Event = "USER_UPDATED"
)

// Listener receives auth state changes. The session is nil on EventSignedOut.
type Listener func(event Event, s *Session)

// Store holds the current session, hands its token to the Gateway, and publishes auth state
// changes to subscribers.
type Store struct {
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	current   *Session
	listeners map[uint64]Listener
	nextID    uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock sets the clock used for expiry checks.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty, signed-out store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger:    slog.Default(),
		now:       time.Now,
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

var _ resilience.TokenSource = (*Store)(nil)

// AccessToken implements resilience.TokenSource. It returns ErrUnauthenticated when signed out
// or when the token has expired.
func (s *Store) AccessToken(_ context.Context) (string, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if current == nil || current.Expired(s.now()) {
		return "", resilience.ErrUnauthenticated
	}
	return current.AccessToken, nil
}

// Current returns the current session, or nil when signed out.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the current session and publishes event.
func (s *Store) Set(event Event, sess *Session) {
	if sess == nil {
		s.Clear()
		return
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	s.logger.Info("auth state changed", "event", string(event), "user_id", sess.User.ID)
	s.publish(event, sess)
}

// Clear signs out and publishes EventSignedOut. Clearing an empty store publishes nothing.
func (s *Store) Clear() {
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	s.mu.Unlock()

	if !had {
		return
	}
	s.logger.Info("auth state changed", "event", string(EventSignedOut))
	s.publish(EventSignedOut, nil)
}

// Subscribe registers l for auth state changes and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// publish calls listeners outside the lock so they may read the store.
func (s *Store) publish(event Event, sess *Session) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(event, sess)
	}
}
