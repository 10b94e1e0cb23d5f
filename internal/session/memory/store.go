// Package memory provides an in-memory session store for standalone dev runs
// and tests. Commit semantics match the persistent backends exactly.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sawitlab/tanya/internal/session"
)

// Store keeps sessions in a map guarded by a mutex.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	now      func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*session.Session),
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Load(_ context.Context, sessionID string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if !stored.ExpiresAt.After(s.now()) {
		delete(s.sessions, sessionID)
		return nil, nil
	}
	return stored.Clone(), nil
}

func (s *Store) Commit(_ context.Context, sessionID string, expectedVersion int64, sess *session.Session) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionID]
	if expectedVersion == 0 {
		if ok && stored.ExpiresAt.After(s.now()) {
			return nil, session.ErrConflict
		}
	} else {
		if !ok || stored.Version != expectedVersion {
			return nil, session.ErrConflict
		}
	}

	committed := sess.Clone()
	committed.ID = sessionID
	committed.Version = expectedVersion + 1
	s.sessions[sessionID] = committed
	return committed.Clone(), nil
}

func (s *Store) Sweep(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := s.now()
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }
