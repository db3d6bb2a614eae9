package docchat

import (
	"context"
	"sync"

	"github.com/groundedqa/docchat/core"
)

// TurnHandle resolves when a submitted turn reaches a terminal phase.
type TurnHandle struct {
	turnID    string
	sessionID string

	mu      sync.Mutex
	done    chan struct{}
	phase   core.TurnPhase
	err     error
	message core.Message
}

func newTurnHandle(sessionID, turnID string) *TurnHandle {
	return &TurnHandle{
		sessionID: sessionID,
		turnID:    turnID,
		done:      make(chan struct{}),
		phase:     core.PhaseRequested,
	}
}

// TurnID identifies the turn this handle tracks.
func (h *TurnHandle) TurnID() string { return h.turnID }

// SessionID identifies the session the turn ran against.
func (h *TurnHandle) SessionID() string { return h.sessionID }

// Done returns a channel closed when the turn is terminal.
func (h *TurnHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the turn is terminal or the context ends.
func (h *TurnHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Phase returns the last observed phase.
func (h *TurnHandle) Phase() core.TurnPhase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// Err returns the terminal error, if the turn failed.
func (h *TurnHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Message returns the finalized assistant message once the turn is
// terminal; before that it returns the zero Message.
func (h *TurnHandle) Message() core.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.message
}

func (h *TurnHandle) finish(phase core.TurnPhase, msg core.Message, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.phase = phase
	h.message = msg
	h.err = err
	close(h.done)
}
