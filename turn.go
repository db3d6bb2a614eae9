package docchat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/groundedqa/docchat/core"
	"github.com/groundedqa/docchat/obs"
	"github.com/groundedqa/docchat/stream"
)

// SubmitQuery validates and submits one user query against the active
// session, creating a session first if none is active. It returns a handle
// that resolves when the turn reaches a terminal phase. Validation and
// busy rejections are returned synchronously and never touch session
// state; transport failures finalize the assistant message and surface
// through the handle.
func (c *Controller) SubmitQuery(ctx context.Context, text string) (*TurnHandle, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, core.NewError(core.ErrValidation, "query must not be empty")
	}
	if len([]rune(trimmed)) > c.opts.maxQueryRunes {
		return nil, core.NewError(core.ErrValidation, "query too long")
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	if c.turn != nil {
		c.mu.Unlock()
		return nil, ErrGenerationActive
	}
	if c.active == nil {
		if c.creating {
			c.mu.Unlock()
			return nil, ErrCreateInFlight
		}
		now := time.Now()
		sess := &core.Session{
			ID:        uuid.NewString(),
			Title:     "New chat",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := c.store.CreateSession(sess); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.active = sess
	}
	sess := c.active
	turnID := uuid.NewString()

	userMsg := c.rec.AppendUser(sess, turnID, trimmed)
	if err := c.store.UpsertMessage(sess.ID, userMsg); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	// Auto-derive the title from the first user turn unless the user
	// has renamed the session.
	if !sess.TitleUserSet && countRole(sess, core.User) == 1 {
		title := core.DeriveTitle(trimmed, 60)
		sess.Title = title
		if err := c.store.SaveTitle(sess.ID, title, false, time.Now()); err != nil {
			c.logger.Warn("save derived title failed", "session_id", sess.ID, "error", err)
		}
	}

	// Submitting consumes the composer text.
	c.pendingInput = ""

	// Record the in-flight turn before the first delta so a crash in
	// the requested phase still recovers an interruption notice.
	c.drafts.Update(core.Draft{
		SessionID:     sess.ID,
		PendingTurnID: turnID,
	})

	req := stream.Request{
		SessionID:     sess.ID,
		TurnID:        turnID,
		Content:       trimmed,
		DocumentScope: append([]string(nil), sess.DocumentScope...),
	}
	return c.launchTurn(ctx, sess.ID, turnID, req)
}

// ContinueTurn resumes the most recent interrupted turn of the active
// session, replaying its preserved partial text as context.
func (c *Controller) ContinueTurn(ctx context.Context) (*TurnHandle, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	if c.turn != nil {
		c.mu.Unlock()
		return nil, ErrGenerationActive
	}
	if c.active == nil {
		c.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	sess := c.active
	idx := -1
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		m := &sess.Messages[i]
		if m.Role == core.Assistant && m.Status == core.StatusInterrupted && m.Resume != "" {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return nil, ErrNothingToResume
	}
	msg := &sess.Messages[idx]
	turnID := msg.TurnID
	resumeToken := msg.Resume
	resumeText := msg.Content

	// Reopen the message so arriving deltas append to the preserved
	// partial text.
	msg.Status = core.StatusStreaming
	msg.Cause = ""
	if err := c.store.UpsertMessage(sess.ID, *msg); err != nil {
		msg.Status = core.StatusInterrupted
		c.mu.Unlock()
		return nil, err
	}
	c.drafts.Update(core.Draft{
		SessionID:     sess.ID,
		PendingInput:  c.pendingInput,
		PendingTurnID: turnID,
		PendingText:   resumeText,
		ResumeToken:   resumeToken,
	})

	req := stream.Request{
		SessionID:     sess.ID,
		TurnID:        turnID,
		DocumentScope: append([]string(nil), sess.DocumentScope...),
		ResumeToken:   resumeToken,
		ResumeText:    resumeText,
	}
	return c.launchTurn(ctx, sess.ID, turnID, req)
}

// launchTurn reserves the single stream-session slot, opens the request,
// and starts the event pump. Caller holds c.mu; launchTurn releases it.
func (c *Controller) launchTurn(ctx context.Context, sessionID, turnID string, req stream.Request) (*TurnHandle, error) {
	handle := newTurnHandle(sessionID, turnID)
	at := &activeTurn{handle: handle}
	c.turn = at
	c.mu.Unlock()

	obsCtx, recorder := obs.StartTurn(ctx,
		attribute.String("docchat.session_id", sessionID),
		attribute.String("docchat.turn_id", turnID),
	)

	turn, err := c.opener.Open(obsCtx, req)
	if err != nil {
		// The request never produced a stream: finalize the message
		// as errored in place and resolve the handle.
		cerr := core.WrapError(err, core.ErrConnection)
		c.mu.Lock()
		if c.active != nil && c.active.ID == sessionID {
			c.rec.FinalizeError(c.active, turnID, cerr)
			c.persistAssistantLocked(sessionID, turnID)
		}
		c.turn = nil
		msgs := c.activeMessagesLocked()
		c.mu.Unlock()
		c.drafts.Clear(sessionID)
		recorder.End(string(core.PhaseErrored), cerr)
		handle.finish(core.PhaseErrored, core.Message{}, cerr)
		c.fireMessages(sessionID, msgs)
		return handle, nil
	}

	c.mu.Lock()
	at.turn = turn
	cancelEarly := at.cancelEarly
	c.mu.Unlock()
	if cancelEarly {
		turn.Cancel()
	}

	go c.runTurn(at, sessionID, recorder)
	return handle, nil
}

// runTurn pumps stream events into the reconciler and the draft writer,
// and finalizes the turn when a terminal event arrives. Deltas are applied
// strictly in arrival order; the cancellation epoch is honored by the
// stream client before each delta is emitted.
func (c *Controller) runTurn(at *activeTurn, sessionID string, recorder *obs.TurnRecorder) {
	turn := at.turn
	turnID := turn.TurnID()

	var (
		phase    = core.PhaseStreaming
		turnErr  error
		finalMsg core.Message
	)

	for ev := range turn.Events() {
		switch ev.Type {
		case core.EventStatus:
			c.fireStatus(sessionID, turnID, ev.Status)

		case core.EventDelta:
			c.mu.Lock()
			if c.active == nil || c.active.ID != sessionID {
				c.mu.Unlock()
				continue
			}
			c.rec.AppendDelta(c.active, turnID, ev.Delta)
			var content string
			if idx := c.active.MessageByTurn(turnID, core.Assistant); idx >= 0 {
				content = c.active.Messages[idx].Content
			}
			c.drafts.Update(core.Draft{
				SessionID:     sessionID,
				PendingInput:  c.pendingInput,
				PendingTurnID: turnID,
				PendingText:   content,
				ResumeToken:   at.resumeToken,
			})
			msgs := c.activeMessagesLocked()
			c.mu.Unlock()
			obs.RecordDelta()
			c.fireMessages(sessionID, msgs)

		case core.EventComplete:
			c.mu.Lock()
			if c.active == nil || c.active.ID != sessionID {
				phase = core.PhaseCompleted
				c.mu.Unlock()
				continue
			}
			answer := strings.TrimSpace(ev.Answer)
			if answer == "" {
				// No silent empty responses: an empty completion
				// is an error, not a successful empty answer.
				cerr := core.NewError(core.ErrServer, "empty completion")
				c.rec.FinalizeError(c.active, turnID, cerr)
				phase, turnErr = core.PhaseErrored, cerr
			} else {
				// Server truth wins over client-accumulated text.
				c.rec.Finalize(c.active, turnID, core.Message{
					Content: ev.Answer,
					Status:  core.StatusFinal,
					Sources: ev.Sources,
				})
				phase = core.PhaseCompleted
				c.applyAutoTitleLocked(ev.Metadata)
			}
			c.persistAssistantLocked(sessionID, turnID)
			c.mu.Unlock()

		case core.EventAbort:
			c.mu.Lock()
			cause := at.cause
			if cause == "" {
				cause = core.InterruptUser
			}
			at.resumeToken = ev.ResumeToken
			if c.active != nil && c.active.ID == sessionID {
				c.rec.Interrupt(c.active, turnID, cause, ev.ResumeToken)
				c.persistAssistantLocked(sessionID, turnID)
			}
			if cause == core.InterruptTeardown {
				phase = core.PhaseDisconnected
			} else {
				phase = core.PhaseCancelled
			}
			c.mu.Unlock()

		case core.EventError:
			cerr := core.WrapError(ev.Err, core.ErrServer)
			c.mu.Lock()
			if c.active != nil && c.active.ID == sessionID {
				c.rec.FinalizeError(c.active, turnID, cerr)
				c.persistAssistantLocked(sessionID, turnID)
			}
			phase, turnErr = core.PhaseErrored, cerr
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	var pendingInput string
	if c.active != nil && c.active.ID == sessionID {
		if idx := c.active.MessageByTurn(turnID, core.Assistant); idx >= 0 {
			finalMsg = c.active.Messages[idx]
		}
		pendingInput = c.pendingInput
	}
	c.turn = nil
	msgs := c.activeMessagesLocked()
	c.mu.Unlock()

	// The turn is finalized in the store; the draft is now redundant and
	// must not resurrect an interruption notice on the next select.
	// Composer text typed during the stream stays durable.
	c.drafts.Clear(sessionID)
	if pendingInput != "" {
		c.drafts.Update(core.Draft{SessionID: sessionID, PendingInput: pendingInput})
	}

	recorder.End(string(phase), turnErr)
	handleMsg := finalMsg
	at.handle.finish(phase, handleMsg, turnErr)
	c.fireMessages(sessionID, msgs)
	c.logger.Info("turn finished",
		"session_id", sessionID, "turn_id", turnID, "phase", string(phase))
}

// CancelActiveGeneration cancels the in-flight turn, if any. Idempotent;
// a no-op when nothing is streaming. The partial text is preserved and the
// message finalizes as interrupted.
func (c *Controller) CancelActiveGeneration() {
	c.mu.Lock()
	at := c.turn
	if at == nil {
		c.mu.Unlock()
		return
	}
	if at.cause == "" {
		at.cause = core.InterruptUser
	}
	c.mu.Unlock()
	c.cancelTurn(at)
}

// applyAutoTitleLocked applies a backend-supplied title from the complete
// frame's metadata. A manual rename (user-set flag) always wins.
func (c *Controller) applyAutoTitleLocked(metadata map[string]any) {
	if c.active == nil || c.active.TitleUserSet || metadata == nil {
		return
	}
	title, ok := metadata["title"].(string)
	if !ok {
		return
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	if n := len([]rune(title)); n > c.opts.maxTitleRunes {
		title = core.DeriveTitle(title, c.opts.maxTitleRunes)
	}
	c.active.Title = title
	if err := c.store.SaveTitle(c.active.ID, title, false, time.Now()); err != nil {
		c.logger.Warn("save auto title failed", "session_id", c.active.ID, "error", err)
	}
}

// persistAssistantLocked writes the turn's assistant message to the store.
// Caller holds c.mu.
func (c *Controller) persistAssistantLocked(sessionID, turnID string) {
	if c.active == nil || c.active.ID != sessionID {
		return
	}
	idx := c.active.MessageByTurn(turnID, core.Assistant)
	if idx < 0 {
		return
	}
	if err := c.store.UpsertMessage(sessionID, c.active.Messages[idx]); err != nil {
		c.logger.Warn("persist assistant message failed",
			"session_id", sessionID, "turn_id", turnID, "error", err)
	}
}

func (c *Controller) activeMessagesLocked() []core.Message {
	if c.active == nil {
		return nil
	}
	return append([]core.Message(nil), c.active.Messages...)
}

func countRole(sess *core.Session, role core.Role) int {
	n := 0
	for i := range sess.Messages {
		if sess.Messages[i].Role == role {
			n++
		}
	}
	return n
}
