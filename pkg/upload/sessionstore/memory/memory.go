// Package memory provides the process-local session store used by
// single-node deployments and by tests.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/sensorsink/pkg/upload"
)

// Store keeps upload sessions in a mutex-guarded map. Sessions are stored
// by value; Get and Update copy, so callers never share a live pointer.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]upload.Session
}

// New creates an empty in-memory session store.
func New() *Store {
	return &Store{sessions: make(map[string]upload.Session)}
}

// Create allocates a session with a fresh opaque id.
func (s *Store) Create() (*upload.Session, error) {
	session := upload.Session{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		LastTouched: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return &session, nil
}

// Get returns a copy of the session, or upload.ErrSessionExpired.
func (s *Store) Get(id string) (*upload.Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", upload.ErrSessionExpired, id)
	}
	return &session, nil
}

// Update overwrites the stored session keyed by its ID.
func (s *Store) Update(session *upload.Session) error {
	s.mu.Lock()
	s.sessions[session.ID] = *session
	s.mu.Unlock()
	return nil
}

// Remove deletes the session; unknown ids are ignored.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
