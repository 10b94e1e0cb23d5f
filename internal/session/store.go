package session

import (
	"context"
	"errors"
)

// ErrConflict is returned by Commit when the stored version no longer matches
// the expected version. The caller reloads and re-runs the turn; it is never
// surfaced to the transport.
var ErrConflict = errors.New("session: version conflict")

// Store persists sessions with optimistic-concurrency commits.
//
// Load returns (nil, nil) for an unknown or expired session; the caller
// constructs a fresh one via New.
//
// Commit succeeds only when the stored version equals expectedVersion
// (0 for a brand-new session) and persists the mutation at
// expectedVersion+1, returning the stored snapshot. A stale expectedVersion
// yields ErrConflict.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Session, error)
	Commit(ctx context.Context, sessionID string, expectedVersion int64, s *Session) (*Session, error)

	// Sweep deletes expired rows and returns the count. Expiry is already
	// enforced lazily by Load; Sweep only reclaims storage.
	Sweep(ctx context.Context) (int64, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	Close() error
}
