// Package core defines the domain model shared by the docchat subsystems:
// sessions, messages, drafts, turn phases, and the error taxonomy.
package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	System    Role = "system"
	User      Role = "user"
	Assistant Role = "assistant"
)

// MessageStatus tracks the lifecycle of a message's content.
type MessageStatus string

const (
	// StatusFinal marks content that will no longer change.
	StatusFinal MessageStatus = "final"
	// StatusStreaming marks an assistant message still receiving deltas.
	// At most one message per session may carry this status.
	StatusStreaming MessageStatus = "streaming"
	// StatusInterrupted marks a message cut short by cancellation or
	// teardown; partial content is preserved.
	StatusInterrupted MessageStatus = "interrupted"
	// StatusErrored marks a message finalized by a transport or server
	// failure.
	StatusErrored MessageStatus = "errored"
)

// InterruptCause distinguishes why a message ended up interrupted, so the
// recovery path can avoid surfacing duplicate interruption notices.
type InterruptCause string

const (
	InterruptUser     InterruptCause = "user_cancel"
	InterruptTeardown InterruptCause = "teardown"
	InterruptRecovery InterruptCause = "recovered"
)

// Message is a single entry in a session's conversation history.
type Message struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Content   string          `json:"content"`
	TurnID    string          `json:"turn_id"`
	Sources   json.RawMessage `json:"sources,omitempty"`
	Status    MessageStatus   `json:"status"`
	Cause     InterruptCause  `json:"cause,omitempty"`
	Resume    string          `json:"resume_token,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Terminal reports whether the message content is settled.
func (m Message) Terminal() bool {
	return m.Status != StatusStreaming
}

// Session is a durable conversation record.
type Session struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	TitleUserSet  bool      `json:"title_user_set"`
	DocumentScope []string  `json:"document_scope,omitempty"`
	Messages      []Message `json:"messages"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Archived      bool      `json:"archived"`
}

// StreamingMessage returns the index of the in-flight assistant message for
// the given turn, or -1 if none exists.
func (s *Session) StreamingMessage(turnID string) int {
	for i := range s.Messages {
		if s.Messages[i].TurnID == turnID && s.Messages[i].Status == StatusStreaming {
			return i
		}
	}
	return -1
}

// MessageByTurn returns the index of the message with the given turn id and
// role, or -1.
func (s *Session) MessageByTurn(turnID string, role Role) int {
	for i := range s.Messages {
		if s.Messages[i].TurnID == turnID && s.Messages[i].Role == role {
			return i
		}
	}
	return -1
}

// Draft is the ephemeral crash-recovery snapshot for one session. It is
// advisory only: a finalized message in the session store always wins over
// a draft carrying the same turn id.
type Draft struct {
	SessionID     string    `json:"session_id"`
	PendingInput  string    `json:"pending_input,omitempty"`
	PendingTurnID string    `json:"pending_turn_id,omitempty"`
	PendingText   string    `json:"pending_text,omitempty"`
	ResumeToken   string    `json:"resume_token,omitempty"`
	SavedAt       time.Time `json:"saved_at"`
}

// HasPendingGeneration reports whether the draft recorded an in-flight
// assistant turn.
func (d Draft) HasPendingGeneration() bool {
	return d.PendingTurnID != ""
}

// DeriveTitle produces a display title from the first user query: collapsed
// whitespace, truncated on a rune boundary.
func DeriveTitle(query string, max int) string {
	title := strings.Join(strings.Fields(query), " ")
	if max <= 0 {
		return title
	}
	runes := []rune(title)
	if len(runes) <= max {
		return title
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
