package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrTurnClosed indicates the turn stream has already been closed.
var ErrTurnClosed = errors.New("turn stream closed")

// TurnPhase enumerates the stream client state machine for one turn.
type TurnPhase string

const (
	PhaseIdle         TurnPhase = "idle"
	PhaseRequested    TurnPhase = "requested"
	PhaseStreaming    TurnPhase = "streaming"
	PhaseCompleted    TurnPhase = "completed"
	PhaseCancelled    TurnPhase = "cancelled"
	PhaseErrored      TurnPhase = "errored"
	PhaseDisconnected TurnPhase = "disconnected"
)

// Terminal reports whether no further deltas may be applied in this phase.
func (p TurnPhase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseCancelled, PhaseErrored, PhaseDisconnected:
		return true
	}
	return false
}

// TurnEventType enumerates events emitted by the stream client.
type TurnEventType string

const (
	EventStatus   TurnEventType = "status"
	EventDelta    TurnEventType = "delta"
	EventComplete TurnEventType = "complete"
	EventAbort    TurnEventType = "abort"
	EventError    TurnEventType = "error"
)

// TurnEvent is a single normalized event within a turn's stream.
type TurnEvent struct {
	Type      TurnEventType
	TurnID    string
	SessionID string
	Seq       int
	Timestamp time.Time

	// EventStatus: ephemeral phase text such as "retrieving".
	Status string
	// EventDelta: incremental assistant text.
	Delta string
	// EventComplete: authoritative final answer and citations.
	Answer   string
	Sources  json.RawMessage
	Metadata map[string]any
	// EventAbort: server-issued resume token, if any.
	ResumeToken string
	// EventError: categorized failure.
	Err error
}

// Turn carries the event stream for one generation request. It is created
// by the stream client in phase requested and closed when the turn reaches
// a terminal phase.
type Turn struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	events chan TurnEvent
	phase  TurnPhase
	epoch  int64
	err    error
	closed bool

	sessionID string
	turnID    string
}

// NewTurn constructs a Turn with the provided event buffer size.
func NewTurn(ctx context.Context, sessionID, turnID string, buffer int) *Turn {
	if buffer <= 0 {
		buffer = 16
	}
	c, cancel := context.WithCancel(ctx)
	return &Turn{
		ctx:       c,
		cancel:    cancel,
		events:    make(chan TurnEvent, buffer),
		phase:     PhaseRequested,
		sessionID: sessionID,
		turnID:    turnID,
	}
}

// SessionID returns the session the turn belongs to.
func (t *Turn) SessionID() string { return t.sessionID }

// TurnID returns the turn identifier shared by the user and assistant
// messages of this exchange.
func (t *Turn) TurnID() string { return t.turnID }

// Context returns the turn-scoped context; it is cancelled when the turn
// terminates.
func (t *Turn) Context() context.Context { return t.ctx }

// Events returns a read-only channel of normalized turn events. The channel
// closes when the turn reaches a terminal phase.
func (t *Turn) Events() <-chan TurnEvent { return t.events }

// Phase returns the current phase.
func (t *Turn) Phase() TurnPhase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

// SetPhase advances the phase. Terminal phases are sticky: once terminal,
// further transitions are ignored.
func (t *Turn) SetPhase(p TurnPhase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase.Terminal() {
		return
	}
	t.phase = p
}

// Cancelled reports whether Cancel has been called. Delta producers must
// check this before applying any event that was already in flight when the
// user cancelled.
func (t *Turn) Cancelled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.epoch > 0
}

// Cancel marks the cancellation epoch and aborts the underlying request via
// the turn context. Idempotent.
func (t *Turn) Cancel() {
	t.mu.Lock()
	if t.epoch == 0 {
		t.epoch = time.Now().UnixNano()
	}
	t.mu.Unlock()
	t.cancel()
}

// Push appends an event to the stream. Events pushed after Close are
// dropped. Safe for concurrent use.
func (t *Turn) Push(event TurnEvent) {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return
	}
	event.SessionID = t.sessionID
	event.TurnID = t.turnID
	// Buffered fast path first: terminal events (abort after Cancel) must
	// still land even though the turn context is already done.
	select {
	case t.events <- event:
		return
	default:
	}
	select {
	case t.events <- event:
	case <-t.ctx.Done():
	}
}

// Close closes the event channel and cancels the turn context.
func (t *Turn) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTurnClosed
	}
	t.closed = true
	close(t.events)
	t.cancel()
	return nil
}

// Fail records the terminal error, pushes an error event, and closes the
// turn.
func (t *Turn) Fail(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	alreadyClosed := t.closed
	t.mu.Unlock()

	if err != nil && !alreadyClosed {
		t.Push(TurnEvent{Type: EventError, Err: err, Timestamp: time.Now()})
	}
	if !alreadyClosed {
		_ = t.Close()
	}
}

// Err returns the terminal error, if any.
func (t *Turn) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}
