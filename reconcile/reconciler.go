// Package reconcile merges stream deltas into a session's message list,
// enforcing per-turn idempotence and the single-streaming-message
// invariant.
package reconcile

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/groundedqa/docchat/core"
)

// Reconciler owns the mutable message list of a session while a turn is
// active. Callers serialize access; the reconciler itself holds no lock.
type Reconciler struct {
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Reconciler.
func New(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{logger: logger.With("component", "reconcile"), now: time.Now}
}

// AppendUser inserts the user half of a turn and returns the stored
// message. A duplicate submit for the same turn returns the existing
// message unchanged.
func (r *Reconciler) AppendUser(sess *core.Session, turnID, content string) core.Message {
	if idx := sess.MessageByTurn(turnID, core.User); idx >= 0 {
		return sess.Messages[idx]
	}
	msg := core.Message{
		ID:        uuid.NewString(),
		Role:      core.User,
		Content:   content,
		TurnID:    turnID,
		Status:    core.StatusFinal,
		Timestamp: r.now(),
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = r.now()
	return msg
}

// AppendDelta appends incremental text to the turn's streaming assistant
// message, creating the placeholder on the first delta. A delta arriving
// after the turn is terminal is dropped: terminal state wins over
// stragglers.
func (r *Reconciler) AppendDelta(sess *core.Session, turnID, text string) {
	if text == "" {
		return
	}
	if idx := sess.StreamingMessage(turnID); idx >= 0 {
		sess.Messages[idx].Content += text
		sess.UpdatedAt = r.now()
		return
	}
	if idx := sess.MessageByTurn(turnID, core.Assistant); idx >= 0 {
		r.logger.Debug("delta after terminal state dropped",
			"turn_id", turnID, "status", string(sess.Messages[idx].Status))
		return
	}
	sess.Messages = append(sess.Messages, core.Message{
		ID:        uuid.NewString(),
		Role:      core.Assistant,
		Content:   text,
		TurnID:    turnID,
		Status:    core.StatusStreaming,
		Timestamp: r.now(),
	})
	sess.UpdatedAt = r.now()
}

// Finalize replaces the placeholder with authoritative content and a
// terminal status. Finalizing an already-finalized turn is a no-op.
func (r *Reconciler) Finalize(sess *core.Session, turnID string, final core.Message) {
	idx := sess.MessageByTurn(turnID, core.Assistant)
	if idx < 0 {
		final.TurnID = turnID
		final.Role = core.Assistant
		if final.ID == "" {
			final.ID = uuid.NewString()
		}
		if final.Timestamp.IsZero() {
			final.Timestamp = r.now()
		}
		sess.Messages = append(sess.Messages, final)
		sess.UpdatedAt = r.now()
		return
	}
	if sess.Messages[idx].Terminal() {
		return
	}
	msg := &sess.Messages[idx]
	msg.Content = final.Content
	msg.Status = final.Status
	msg.Sources = final.Sources
	msg.Cause = final.Cause
	msg.Resume = final.Resume
	sess.UpdatedAt = r.now()
}

// Interrupt finalizes the turn's assistant message with its accumulated
// partial text preserved.
func (r *Reconciler) Interrupt(sess *core.Session, turnID string, cause core.InterruptCause, resumeToken string) {
	idx := sess.MessageByTurn(turnID, core.Assistant)
	if idx < 0 {
		sess.Messages = append(sess.Messages, core.Message{
			ID:        uuid.NewString(),
			Role:      core.Assistant,
			TurnID:    turnID,
			Status:    core.StatusInterrupted,
			Cause:     cause,
			Resume:    resumeToken,
			Timestamp: r.now(),
		})
		sess.UpdatedAt = r.now()
		return
	}
	if sess.Messages[idx].Terminal() {
		return
	}
	msg := &sess.Messages[idx]
	msg.Status = core.StatusInterrupted
	msg.Cause = cause
	msg.Resume = resumeToken
	sess.UpdatedAt = r.now()
}

// FinalizeError finalizes the turn with a category-derived user-facing
// message rendered in place of the placeholder, never as a new message.
func (r *Reconciler) FinalizeError(sess *core.Session, turnID string, cause *core.Error) {
	r.Finalize(sess, turnID, core.Message{
		Content: cause.UserMessage(),
		Status:  core.StatusErrored,
	})
}

// HasInterruptionNotice reports whether the session already carries an
// interrupted assistant message for the turn and cause. Guards the
// recovery path against inserting duplicate notices.
func HasInterruptionNotice(sess *core.Session, turnID string, cause core.InterruptCause) bool {
	for i := range sess.Messages {
		m := &sess.Messages[i]
		if m.TurnID == turnID && m.Role == core.Assistant &&
			m.Status == core.StatusInterrupted && m.Cause == cause {
			return true
		}
	}
	return false
}

// DedupHistory collapses duplicate entries sharing a (turn id, role) pair
// into a single message, keeping the first occurrence. Defensive against
// double-submission races surviving in storage.
func DedupHistory(messages []core.Message) []core.Message {
	type key struct {
		turnID string
		role   core.Role
	}
	seen := make(map[key]bool, len(messages))
	out := messages[:0]
	for _, m := range messages {
		if m.TurnID != "" {
			k := key{m.TurnID, m.Role}
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, m)
	}
	return out
}

// SourcesEqual compares two opaque source lists byte-wise; used by tests
// and by idempotence checks.
func SourcesEqual(a, b json.RawMessage) bool {
	return string(a) == string(b)
}
