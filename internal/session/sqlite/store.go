// Package sqlite implements the session store on an embedded SQLite database
// for standalone mode. Conditional writes give the same optimistic-concurrency
// guarantees as the Postgres backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sawitlab/tanya/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id      TEXT PRIMARY KEY,
	state           TEXT NOT NULL,
	history         TEXT NOT NULL,
	last_message_id TEXT NOT NULL DEFAULT '',
	last_reply      TEXT NOT NULL DEFAULT '',
	last_intent     TEXT NOT NULL DEFAULT '',
	escalated       INTEGER NOT NULL DEFAULT 0,
	version         INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	expires_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`

// Store is a SQLite-backed session.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database file and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sessions dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(3000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT state, history, last_message_id, last_reply, last_intent, escalated, version, updated_at, expires_at
		FROM sessions
		WHERE session_id = ? AND expires_at > ?`, sessionID, s.now().Unix())

	var (
		state            string
		historyJSON      string
		escalated        int
		updated, expires int64
		loaded           session.Session
	)
	err := row.Scan(&state, &historyJSON, &loaded.LastMessageID, &loaded.LastReply,
		&loaded.LastIntent, &escalated, &loaded.Version, &updated, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &loaded.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	loaded.ID = sessionID
	loaded.State = session.State(state)
	loaded.Escalated = escalated != 0
	loaded.UpdatedAt = time.Unix(updated, 0).UTC()
	loaded.ExpiresAt = time.Unix(expires, 0).UTC()
	return &loaded, nil
}

func (s *Store) Commit(ctx context.Context, sessionID string, expectedVersion int64, sess *session.Session) (*session.Session, error) {
	historyJSON, err := json.Marshal(sess.History)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	committed := sess.Clone()
	committed.ID = sessionID
	committed.Version = expectedVersion + 1

	escalated := 0
	if committed.Escalated {
		escalated = 1
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO sessions (session_id, state, history, last_message_id, last_reply, last_intent, escalated, version, updated_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (session_id) DO UPDATE
			SET state = excluded.state, history = excluded.history,
			    last_message_id = excluded.last_message_id, last_reply = excluded.last_reply,
			    last_intent = excluded.last_intent,
			    escalated = excluded.escalated, version = 1,
			    updated_at = excluded.updated_at, expires_at = excluded.expires_at
			WHERE sessions.expires_at <= ?`,
			sessionID, string(committed.State), string(historyJSON), committed.LastMessageID,
			committed.LastReply, committed.LastIntent, escalated, committed.UpdatedAt.Unix(), committed.ExpiresAt.Unix(),
			s.now().Unix())
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions
			SET state = ?, history = ?, last_message_id = ?, last_reply = ?, last_intent = ?,
			    escalated = ?, version = ?, updated_at = ?, expires_at = ?
			WHERE session_id = ? AND version = ?`,
			string(committed.State), string(historyJSON), committed.LastMessageID, committed.LastReply,
			committed.LastIntent, escalated, committed.Version, committed.UpdatedAt.Unix(), committed.ExpiresAt.Unix(),
			sessionID, expectedVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("commit session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, session.ErrConflict
	}
	return committed, nil
}

func (s *Store) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }
