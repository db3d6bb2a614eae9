package core

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes docchat errors.
type ErrorCode string

const (
	// ErrValidation rejects empty or oversized input before any network
	// call is made.
	ErrValidation ErrorCode = "validation"
	// ErrBusy signals a conflicting operation against an active
	// generation (switch, delete, second submit).
	ErrBusy ErrorCode = "busy"
	// ErrConflict signals a coalesced operation already in flight, such
	// as a second concurrent session creation.
	ErrConflict ErrorCode = "conflict"
	// ErrConnection covers unreachable or dropped transport.
	ErrConnection ErrorCode = "connection"
	// ErrTimeout covers time-to-first-byte and total-turn deadlines.
	ErrTimeout ErrorCode = "timeout"
	// ErrServer covers explicit error frames from the generation
	// endpoint, and empty completions.
	ErrServer ErrorCode = "server"
	// ErrParse covers malformed stream frames.
	ErrParse ErrorCode = "parse"
	// ErrInternal covers bugs and closed-state misuse.
	ErrInternal ErrorCode = "internal"
)

// Error provides categorized context for callers and a safe user-facing
// rendering that never leaks raw transport text.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	wrapped   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// UserMessage returns the short, category-derived text suitable for
// rendering in place of a failed assistant message.
func (e *Error) UserMessage() string {
	if e == nil {
		return ""
	}
	switch e.Code {
	case ErrConnection:
		return "Connection to the answer service was lost. Please try again."
	case ErrTimeout:
		return "The answer service took too long to respond. Please try again."
	case ErrServer, ErrParse:
		return "The answer service reported a problem. Please try again."
	case ErrValidation:
		return e.Message
	case ErrBusy:
		return "Another request is still running."
	default:
		return "Something went wrong. Please try again."
	}
}

// NewError builds an Error explicitly.
func NewError(code ErrorCode, message string, opts ...ErrorOption) *Error {
	e := &Error{Code: code, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WrapError attaches a code to an existing error, preserving an already
// categorized one.
func WrapError(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Code: code, Message: err.Error(), wrapped: err}
}

// ErrorOption mutates an Error during construction.
type ErrorOption func(*Error)

// WithRetryable marks whether retry is recommended.
func WithRetryable(retryable bool) ErrorOption {
	return func(e *Error) { e.Retryable = retryable }
}

// WithWrapped attaches an underlying error.
func WithWrapped(err error) ErrorOption {
	return func(e *Error) { e.wrapped = err }
}

func classify(code ErrorCode) func(error) bool {
	return func(err error) bool {
		if err == nil {
			return false
		}
		var ce *Error
		if errors.As(err, &ce) {
			return ce.Code == code
		}
		return false
	}
}

// Helper predicates for common error handling patterns.
var (
	IsValidation = classify(ErrValidation)
	IsBusy       = classify(ErrBusy)
	IsConflict   = classify(ErrConflict)
	IsConnection = classify(ErrConnection)
	IsTimeout    = classify(ErrTimeout)
	IsServer     = classify(ErrServer)
	IsParse      = classify(ErrParse)
)

// CodeOf extracts the error code, or ErrInternal for uncategorized errors.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrInternal
}
