// Package pg implements the session store on Postgres. The optimistic
// concurrency contract is a conditional UPDATE keyed on (session_id, version);
// no other locking is used.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sawitlab/tanya/internal/session"
)

const (
	opTimeout      = 3 * time.Second
	maxTransient   = 2
	transientDelay = 100 * time.Millisecond
)

// Store is a Postgres-backed session.Store.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests, shared pools).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	var sess *session.Session
	err := withTransientRetry(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			SELECT state, history, last_message_id, last_reply, last_intent, escalated, version, updated_at, expires_at
			FROM sessions
			WHERE session_id = $1 AND expires_at > now()`, sessionID)

		var (
			state       string
			historyJSON []byte
			loaded      session.Session
		)
		scanErr := row.Scan(&state, &historyJSON, &loaded.LastMessageID, &loaded.LastReply,
			&loaded.LastIntent, &loaded.Escalated, &loaded.Version, &loaded.UpdatedAt, &loaded.ExpiresAt)
		if errors.Is(scanErr, sql.ErrNoRows) {
			sess = nil
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		if err := json.Unmarshal(historyJSON, &loaded.History); err != nil {
			return fmt.Errorf("decode history: %w", err)
		}
		loaded.ID = sessionID
		loaded.State = session.State(state)
		sess = &loaded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

func (s *Store) Commit(ctx context.Context, sessionID string, expectedVersion int64, sess *session.Session) (*session.Session, error) {
	historyJSON, err := json.Marshal(sess.History)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	committed := sess.Clone()
	committed.ID = sessionID
	committed.Version = expectedVersion + 1

	err = withTransientRetry(ctx, func(ctx context.Context) error {
		if expectedVersion == 0 {
			// Brand-new session: the insert loses if a concurrent turn created
			// the row first. An expired leftover row is reclaimed in place.
			res, execErr := s.db.ExecContext(ctx, `
				INSERT INTO sessions (session_id, state, history, last_message_id, last_reply, last_intent, escalated, version, updated_at, expires_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
				ON CONFLICT (session_id) DO UPDATE
				SET state = EXCLUDED.state, history = EXCLUDED.history,
				    last_message_id = EXCLUDED.last_message_id, last_reply = EXCLUDED.last_reply,
				    last_intent = EXCLUDED.last_intent,
				    escalated = EXCLUDED.escalated, version = 1,
				    updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
				WHERE sessions.expires_at <= now()`,
				sessionID, string(committed.State), historyJSON, committed.LastMessageID,
				committed.LastReply, committed.LastIntent, committed.Escalated, committed.UpdatedAt, committed.ExpiresAt)
			if execErr != nil {
				return execErr
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return session.ErrConflict
			}
			return nil
		}

		res, execErr := s.db.ExecContext(ctx, `
			UPDATE sessions
			SET state = $1, history = $2, last_message_id = $3, last_reply = $4,
			    last_intent = $5, escalated = $6, version = $7, updated_at = $8, expires_at = $9
			WHERE session_id = $10 AND version = $11`,
			string(committed.State), historyJSON, committed.LastMessageID, committed.LastReply,
			committed.LastIntent, committed.Escalated, committed.Version, committed.UpdatedAt, committed.ExpiresAt,
			sessionID, expectedVersion)
		if execErr != nil {
			return execErr
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return session.ErrConflict
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrConflict) {
			return nil, session.ErrConflict
		}
		return nil, fmt.Errorf("commit session: %w", err)
	}
	return committed, nil
}

func (s *Store) Sweep(ctx context.Context) (int64, error) {
	var n int64
	err := withTransientRetry(ctx, func(ctx context.Context) error {
		res, execErr := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= now()`)
		if execErr != nil {
			return execErr
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// withTransientRetry runs fn with a per-attempt timeout, retrying transient
// failures a bounded number of times with backoff. ErrConflict and context
// cancellation are never retried.
func withTransientRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, opTimeout)
		err = fn(attemptCtx)
		cancel()

		if err == nil || errors.Is(err, session.ErrConflict) {
			return err
		}
		if ctx.Err() != nil || attempt >= maxTransient {
			return err
		}

		select {
		case <-time.After(transientDelay << attempt):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
