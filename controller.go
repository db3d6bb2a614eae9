// Package docchat implements the streaming conversation session manager
// for a document-grounded question-answering chat client. The Controller
// is the orchestrating façade: it owns the active session, arbitrates
// switches against an in-flight generation, wires cancellation, and
// schedules draft persistence for crash recovery.
package docchat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/groundedqa/docchat/core"
	"github.com/groundedqa/docchat/draft"
	"github.com/groundedqa/docchat/reconcile"
	"github.com/groundedqa/docchat/stream"
)

// SessionStore is the durable record of sessions and message history.
// *store.Store implements it.
type SessionStore interface {
	CreateSession(sess *core.Session) error
	GetSession(id string) (*core.Session, error)
	ListSessions(includeArchived bool) ([]core.Session, error)
	SearchSessions(query string) ([]core.Session, error)
	MostRecent() (*core.Session, error)
	SaveTitle(id, title string, userSet bool, updatedAt time.Time) error
	SaveDocumentScope(id string, scope []string, updatedAt time.Time) error
	SetArchived(id string, archived bool, updatedAt time.Time) error
	DeleteSession(id string) error
	UpsertMessage(sessionID string, m core.Message) error

	DraftPut(d core.Draft) error
	DraftGet(sessionID string) (*core.Draft, error)
	DraftClear(sessionID string) error
}

// Controller is the single injected session manager instance. All session
// and draft state flows through it; there are no shared storage keys
// between components.
type Controller struct {
	store  SessionStore
	opener stream.Opener
	drafts *draft.Writer
	rec    *reconcile.Reconciler
	logger *slog.Logger
	opts   controllerOptions

	mu           sync.Mutex
	active       *core.Session
	turn         *activeTurn
	pendingInput string
	creating     bool
	disposed     bool
}

// activeTurn is the transient stream session: at most one exists
// system-wide.
type activeTurn struct {
	turn        *core.Turn
	handle      *TurnHandle
	cause       core.InterruptCause
	resumeToken string
	cancelEarly bool
}

// New constructs a Controller. The caller retains ownership of the store;
// Dispose flushes drafts but does not close the store.
func New(store SessionStore, opener stream.Opener, opts ...Option) *Controller {
	o := defaultControllerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "controller")

	c := &Controller{
		store:  store,
		opener: opener,
		rec:    reconcile.New(logger),
		logger: logger,
		opts:   o,
	}
	c.drafts = draft.NewWriter(store, o.draftDebounce, o.draftInterval, logger)
	if c.opts.notifyInterrupt == nil {
		if client, ok := opener.(*stream.Client); ok {
			c.opts.notifyInterrupt = client.NotifyInterrupt
		} else {
			c.opts.notifyInterrupt = func(string, string) {}
		}
	}
	return c
}

// Init selects the most recently updated session, running the recovery
// check against the draft cache. A store with no sessions leaves the
// controller without an active session; the first query creates one.
func (c *Controller) Init(ctx context.Context) error {
	recent, err := c.store.MostRecent()
	if err != nil {
		return err
	}
	if recent == nil {
		return nil
	}
	return c.SelectSession(ctx, recent.ID, false)
}

// CreateSession allocates a new session, optionally seeded with a first
// query. Re-entrant calls are coalesced: a second call while one creation
// is outstanding fails with a conflict error rather than queueing.
func (c *Controller) CreateSession(ctx context.Context, initialQuery string) (*core.Session, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	if c.creating {
		c.mu.Unlock()
		return nil, ErrCreateInFlight
	}
	if c.turn != nil {
		c.mu.Unlock()
		return nil, ErrGenerationActive
	}
	c.creating = true
	c.mu.Unlock()

	now := time.Now()
	sess := &core.Session{
		ID:        uuid.NewString(),
		Title:     "New chat",
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := c.store.CreateSession(sess)

	c.mu.Lock()
	c.creating = false
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.turn != nil {
		// A generation started on the current session while the insert
		// was in flight. Context never switches away from a streaming
		// session, so the freshly created one is discarded.
		c.mu.Unlock()
		if derr := c.store.DeleteSession(sess.ID); derr != nil {
			c.logger.Warn("remove unselected session failed", "session_id", sess.ID, "error", derr)
		}
		return nil, ErrGenerationActive
	}
	c.active = sess
	c.pendingInput = ""
	c.mu.Unlock()

	c.fireSessions()
	c.fireMessages(sess.ID, nil)

	if strings.TrimSpace(initialQuery) != "" {
		if _, err := c.SubmitQuery(ctx, initialQuery); err != nil {
			c.logger.Warn("seed query rejected", "session_id", sess.ID, "error", err)
		}
	}
	return c.snapshotActive(), nil
}

// SelectSession switches the active session. While a generation is in
// flight on the current session the switch fails with a busy error unless
// confirm is true, in which case the generation is cancelled first. The
// in-flight stream is never silently orphaned.
func (c *Controller) SelectSession(ctx context.Context, id string, confirm bool) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.active != nil && c.active.ID == id {
		c.mu.Unlock()
		return nil
	}
	if at := c.turn; at != nil {
		if !confirm {
			c.mu.Unlock()
			return ErrGenerationActive
		}
		at.cause = core.InterruptUser
		c.mu.Unlock()
		c.cancelTurn(at)
		select {
		case <-at.handle.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	err := c.activateLocked(id)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.fireMessages(id, c.activeMessages())
	return nil
}

// activateLocked loads the session, deduplicates its history, applies
// draft recovery, and makes it active. Caller holds c.mu.
func (c *Controller) activateLocked(id string) error {
	sess, err := c.store.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	sess.Messages = reconcile.DedupHistory(sess.Messages)
	if err := c.recoverLocked(sess); err != nil {
		c.logger.Warn("draft recovery failed", "session_id", id, "error", err)
	}
	c.active = sess
	return nil
}

// recoverLocked consults the draft cache for a dead in-flight turn and for
// unsent composer input. The draft is advisory: a finalized message for the
// same turn always wins, and at most one interruption notice is inserted
// per dead turn. Unsent input stays durable until consumed or cleared.
func (c *Controller) recoverLocked(sess *core.Session) error {
	d, err := c.store.DraftGet(sess.ID)
	if err != nil {
		return err
	}
	c.pendingInput = ""
	if d == nil {
		return nil
	}
	c.pendingInput = d.PendingInput

	if d.HasPendingGeneration() {
		if err := c.recoverTurnLocked(sess, d); err != nil {
			return err
		}
	}

	// The generation half of the draft is consumed; unsent input is
	// rewritten so it survives the next crash.
	if d.PendingInput != "" {
		if d.HasPendingGeneration() {
			if err := c.store.DraftPut(core.Draft{
				SessionID:    sess.ID,
				PendingInput: d.PendingInput,
				SavedAt:      time.Now(),
			}); err != nil {
				c.logger.Warn("rewrite recovered input failed", "session_id", sess.ID, "error", err)
			}
		}
		return nil
	}
	if err := c.store.DraftClear(sess.ID); err != nil {
		c.logger.Warn("clear recovered draft failed", "session_id", sess.ID, "error", err)
	}
	return nil
}

func (c *Controller) recoverTurnLocked(sess *core.Session, d *core.Draft) error {
	if idx := sess.MessageByTurn(d.PendingTurnID, core.Assistant); idx >= 0 && sess.Messages[idx].Terminal() {
		// The turn finished cleanly before the process died; the
		// draft is stale.
		return nil
	}
	if reconcile.HasInterruptionNotice(sess, d.PendingTurnID, core.InterruptRecovery) {
		return nil
	}
	c.rec.Finalize(sess, d.PendingTurnID, core.Message{
		Content: d.PendingText,
		Status:  core.StatusInterrupted,
		Cause:   core.InterruptRecovery,
		Resume:  d.ResumeToken,
	})
	if idx := sess.MessageByTurn(d.PendingTurnID, core.Assistant); idx >= 0 {
		if err := c.store.UpsertMessage(sess.ID, sess.Messages[idx]); err != nil {
			return err
		}
	}
	c.logger.Info("recovered interrupted turn", "session_id", sess.ID, "turn_id", d.PendingTurnID)
	return nil
}

// DeleteSession removes a session. Deleting the active session while a
// generation is in flight fails with a busy error. If the deleted session
// was active, the most recently updated remaining session is selected, or
// a fresh one is created when none remain.
func (c *Controller) DeleteSession(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	wasActive := c.active != nil && c.active.ID == id
	if wasActive && c.turn != nil {
		c.mu.Unlock()
		return ErrGenerationActive
	}
	if err := c.store.DeleteSession(id); err != nil {
		c.mu.Unlock()
		return err
	}
	if wasActive {
		c.active = nil
	}
	c.mu.Unlock()
	c.fireSessions()

	if !wasActive {
		return nil
	}
	recent, err := c.store.MostRecent()
	if err != nil {
		return err
	}
	if recent != nil {
		return c.SelectSession(ctx, recent.ID, false)
	}
	_, err = c.CreateSession(ctx, "")
	return err
}

// RenameSession sets a user-chosen title. Manual renames set the user-set
// flag, which blocks later auto-title overwrites.
func (c *Controller) RenameSession(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return core.NewError(core.ErrValidation, "title must not be empty")
	}
	if len([]rune(title)) > c.opts.maxTitleRunes {
		return core.NewError(core.ErrValidation, "title too long")
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	now := time.Now()
	if err := c.store.SaveTitle(id, title, true, now); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.active != nil && c.active.ID == id {
		c.active.Title = title
		c.active.TitleUserSet = true
		c.active.UpdatedAt = now
	}
	c.mu.Unlock()
	c.fireSessions()
	return nil
}

// SetDocumentScope replaces the set of document ids the session is
// grounded against. Metadata-only: allowed while a generation is active.
func (c *Controller) SetDocumentScope(id string, scope []string) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	now := time.Now()
	if err := c.store.SaveDocumentScope(id, scope, now); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.active != nil && c.active.ID == id {
		c.active.DocumentScope = append([]string(nil), scope...)
		c.active.UpdatedAt = now
	}
	c.mu.Unlock()
	c.fireSessions()
	return nil
}

// SetPendingInput records unsent composer text for the active session so a
// crash or teardown can restore it. Empty text with no turn in flight
// clears the draft.
func (c *Controller) SetPendingInput(text string) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.active == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	c.pendingInput = text
	sessionID := c.active.ID
	d := core.Draft{SessionID: sessionID, PendingInput: text}
	hasTurn := c.turn != nil
	if hasTurn {
		d.PendingTurnID = c.turn.handle.TurnID()
		d.ResumeToken = c.turn.resumeToken
		if idx := c.active.MessageByTurn(d.PendingTurnID, core.Assistant); idx >= 0 {
			d.PendingText = c.active.Messages[idx].Content
		}
	}
	c.mu.Unlock()

	if text == "" && !hasTurn {
		c.drafts.Clear(sessionID)
		return nil
	}
	c.drafts.Update(d)
	return nil
}

// PendingInput returns the unsent composer text recorded for the active
// session, including text restored by draft recovery.
func (c *Controller) PendingInput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingInput
}

// ArchiveSession toggles the soft-delete flag. Archiving the active
// session while generating is a context-switching action and is rejected.
func (c *Controller) ArchiveSession(ctx context.Context, id string, archived bool) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	wasActive := c.active != nil && c.active.ID == id
	if wasActive && archived && c.turn != nil {
		c.mu.Unlock()
		return ErrGenerationActive
	}
	if err := c.store.SetArchived(id, archived, time.Now()); err != nil {
		c.mu.Unlock()
		return err
	}
	if wasActive && archived {
		c.active = nil
	}
	c.mu.Unlock()
	c.fireSessions()

	if wasActive && archived {
		recent, err := c.store.MostRecent()
		if err != nil {
			return err
		}
		if recent != nil {
			return c.SelectSession(ctx, recent.ID, false)
		}
	}
	return nil
}

// Sessions lists sessions, most recently updated first.
func (c *Controller) Sessions(includeArchived bool) ([]core.Session, error) {
	return c.store.ListSessions(includeArchived)
}

// SearchSessions returns sessions whose title or messages match the query.
func (c *Controller) SearchSessions(query string) ([]core.Session, error) {
	return c.store.SearchSessions(query)
}

// ActiveSession returns a copy of the active session, or nil.
func (c *Controller) ActiveSession() *core.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.active)
}

// Busy reports whether a generation is in flight (the session-switch guard
// is locked).
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn != nil
}

// Dispose tears the controller down: an in-flight generation is finalized
// as interrupted with a teardown cause, the best-effort interrupt
// notification is fired, and drafts are flushed synchronously. The store
// stays open for the owner to close.
func (c *Controller) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	at := c.turn
	var sessionID, turnID string
	if at != nil {
		at.cause = core.InterruptTeardown
		if c.active != nil {
			sessionID = c.active.ID
		}
		if at.turn != nil {
			turnID = at.turn.TurnID()
		}
	}
	c.mu.Unlock()

	if at != nil {
		// Fire-and-forget; never awaited.
		c.opts.notifyInterrupt(sessionID, turnID)
		c.cancelTurn(at)
		select {
		case <-at.handle.Done():
		case <-ctx.Done():
		}
	}
	c.drafts.Close()
	return nil
}

func (c *Controller) cancelTurn(at *activeTurn) {
	c.mu.Lock()
	t := at.turn
	if t == nil {
		at.cancelEarly = true
	}
	c.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

// snapshotActive returns a copy of the active session under lock.
func (c *Controller) snapshotActive() *core.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.active)
}

func (c *Controller) activeMessages() []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeMessagesLocked()
}

func (c *Controller) fireSessions() {
	if c.opts.onSessions == nil {
		return
	}
	sessions, err := c.store.ListSessions(false)
	if err != nil {
		c.logger.Warn("list sessions for observer failed", "error", err)
		return
	}
	c.opts.onSessions(sessions)
}

func (c *Controller) fireMessages(sessionID string, messages []core.Message) {
	if c.opts.onMessages == nil {
		return
	}
	c.opts.onMessages(sessionID, messages)
}

func (c *Controller) fireStatus(sessionID, turnID, status string) {
	if c.opts.onStatus == nil {
		return
	}
	c.opts.onStatus(sessionID, turnID, status)
}

func cloneSession(sess *core.Session) *core.Session {
	if sess == nil {
		return nil
	}
	clone := *sess
	clone.Messages = append([]core.Message(nil), sess.Messages...)
	clone.DocumentScope = append([]string(nil), sess.DocumentScope...)
	return &clone
}
