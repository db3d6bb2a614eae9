package docchat

import (
	"log/slog"
	"time"

	"github.com/groundedqa/docchat/core"
)

type controllerOptions struct {
	logger          *slog.Logger
	maxQueryRunes   int
	maxTitleRunes   int
	draftDebounce   time.Duration
	draftInterval   time.Duration
	notifyInterrupt func(sessionID, turnID string)
	onSessions      func(sessions []core.Session)
	onMessages      func(sessionID string, messages []core.Message)
	onStatus        func(sessionID, turnID, status string)
}

func defaultControllerOptions() controllerOptions {
	return controllerOptions{
		maxQueryRunes: 8000,
		maxTitleRunes: 200,
		draftDebounce: 1500 * time.Millisecond,
		draftInterval: 10 * time.Second,
	}
}

// Option configures the Controller.
type Option func(*controllerOptions)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *controllerOptions) { o.logger = logger }
}

// WithQueryLimit bounds submitted query length in runes.
func WithQueryLimit(n int) Option {
	return func(o *controllerOptions) {
		if n > 0 {
			o.maxQueryRunes = n
		}
	}
}

// WithTitleLimit bounds session titles in runes.
func WithTitleLimit(n int) Option {
	return func(o *controllerOptions) {
		if n > 0 {
			o.maxTitleRunes = n
		}
	}
}

// WithDraftCadence sets the debounce delay and the safety-net interval for
// draft persistence.
func WithDraftCadence(debounce, interval time.Duration) Option {
	return func(o *controllerOptions) {
		o.draftDebounce = debounce
		o.draftInterval = interval
	}
}

// WithInterruptNotifier installs the best-effort teardown signal sent when
// the controller is disposed mid-generation.
func WithInterruptNotifier(fn func(sessionID, turnID string)) Option {
	return func(o *controllerOptions) { o.notifyInterrupt = fn }
}

// OnSessionsChanged installs the observable session list callback. It is
// invoked outside the controller lock with a fresh copy.
func OnSessionsChanged(fn func(sessions []core.Session)) Option {
	return func(o *controllerOptions) { o.onSessions = fn }
}

// OnMessagesChanged installs the observable message list callback for the
// active session.
func OnMessagesChanged(fn func(sessionID string, messages []core.Message)) Option {
	return func(o *controllerOptions) { o.onMessages = fn }
}

// OnTurnStatus installs the ephemeral status callback ("retrieving",
// "generating"); status text never enters message content.
func OnTurnStatus(fn func(sessionID, turnID, status string)) Option {
	return func(o *controllerOptions) { o.onStatus = fn }
}
