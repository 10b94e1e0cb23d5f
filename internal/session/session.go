// Package session owns per-user conversation state. All other components
// receive read snapshots and hand back proposed mutations; only Commit
// persists, guarded by an optimistic version check.
package session

import (
	"fmt"
	"time"
)

// State is the session lifecycle state.
type State string

const (
	StateNew       State = "new"
	StateActive    State = "active"
	StateEscalated State = "escalated"
)

// Turn is one conversation exchange entry stored in session history.
type Turn struct {
	Role string    `json:"role"` // "user" or "assistant"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is one ongoing conversation with one external user.
type Session struct {
	ID            string    `json:"id"`
	State         State     `json:"state"`
	History       []Turn    `json:"history"`
	LastMessageID string    `json:"last_message_id"`
	LastReply     string    `json:"last_reply"`  // replayed verbatim on redelivery of LastMessageID
	LastIntent    string    `json:"last_intent"` // classified intent of the replayed turn
	Escalated     bool      `json:"escalated"`
	Version       int64     `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ID builds the canonical session identifier from channel + external user.
func ID(channel, externalUserID string) string {
	return fmt.Sprintf("%s:%s", channel, externalUserID)
}

// New constructs an unpersisted session at version 0. The first successful
// Commit stores it at version 1.
func New(id string, ttl time.Duration, now time.Time) *Session {
	return &Session{
		ID:        id,
		State:     StateNew,
		History:   []Turn{},
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state in place.
func (s *Session) Clone() *Session {
	cp := *s
	cp.History = make([]Turn, len(s.History))
	copy(cp.History, s.History)
	return &cp
}

// AppendTurn adds a user/assistant exchange and truncates history to the
// bound, oldest first. Truncation never touches identity or the escalation
// flag, which live outside History.
func (s *Session) AppendTurn(userText, replyText string, limit int, now time.Time) {
	s.History = append(s.History,
		Turn{Role: "user", Text: userText, At: now},
		Turn{Role: "assistant", Text: replyText, At: now},
	)
	if limit > 0 && len(s.History) > limit {
		s.History = s.History[len(s.History)-limit:]
	}
	s.UpdatedAt = now
}

// Escalate marks the session as requiring human follow-up. Sticky: nothing in
// the pipeline resets it; only an explicit external reset may.
func (s *Session) Escalate() {
	s.Escalated = true
	s.State = StateEscalated
}

// Activate transitions NEW → ACTIVE after the first successfully answered
// turn. Escalated sessions stay escalated.
func (s *Session) Activate() {
	if s.State == StateNew {
		s.State = StateActive
	}
}

// Touch extends the TTL window after a processed turn.
func (s *Session) Touch(ttl time.Duration, now time.Time) {
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(ttl)
}
