package docchat

import "github.com/groundedqa/docchat/core"

// Sentinel errors for controller misuse and guard rejections.
var (
	// ErrDisposed is returned by every operation after Dispose.
	ErrDisposed = core.NewError(core.ErrInternal, "controller disposed")

	// ErrCreateInFlight is returned when a session creation is already
	// outstanding; callers await the single pending creation instead of
	// queueing another.
	ErrCreateInFlight = core.NewError(core.ErrConflict, "session creation already in flight")

	// ErrGenerationActive is returned by context-switching or
	// destructive operations while a generation is running and the
	// caller has not confirmed cancellation.
	ErrGenerationActive = core.NewError(core.ErrBusy, "a generation is in flight; confirm to cancel and proceed")

	// ErrNoActiveSession is returned by operations that require a
	// selected session.
	ErrNoActiveSession = core.NewError(core.ErrValidation, "no active session")

	// ErrNothingToResume is returned by ContinueTurn when the active
	// session has no interrupted turn with a resume token.
	ErrNothingToResume = core.NewError(core.ErrValidation, "no resumable turn in the active session")

	// ErrSessionNotFound is returned when the requested session id does
	// not exist.
	ErrSessionNotFound = core.NewError(core.ErrValidation, "session not found")
)
