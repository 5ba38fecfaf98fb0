package gateway

import (
	"errors"
	"sync"
)

// ErrAlreadyConnected is returned by Bind when the identity already has a
// live session. The caller must close the new connection and leave the
// existing one untouched.
var ErrAlreadyConnected = errors.New("identity already connected")

// Registry maps authenticated identities to their single live session.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Session)}
}

// Bind associates the identity with the session. Fails with
// ErrAlreadyConnected if the identity already has a live session.
func (r *Registry) Bind(userID int64, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[userID]; exists {
		return ErrAlreadyConnected
	}
	r.sessions[userID] = s
	return nil
}

// Unbind clears the identity's entry if it still points at s. A session
// that lost the bind race never had an entry, so its close is a no-op here
// and cannot evict the winner.
func (r *Registry) Unbind(userID int64, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[userID]; ok && current == s {
		delete(r.sessions, userID)
	}
}

// Get returns the identity's live session, or nil.
func (r *Registry) Get(userID int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[userID]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
