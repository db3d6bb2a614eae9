package core

import (
	"errors"
	"strings"
	"testing"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name  string
		query string
		max   int
		want  string
	}{
		{"short passes through", "When is the deadline?", 60, "When is the deadline?"},
		{"whitespace collapsed", "  When   is\nthe deadline?  ", 60, "When is the deadline?"},
		{"truncated with ellipsis", strings.Repeat("a", 70), 60, strings.Repeat("a", 60) + "…"},
		{"no limit", strings.Repeat("b", 70), 0, strings.Repeat("b", 70)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveTitle(tt.query, tt.max); got != tt.want {
				t.Fatalf("DeriveTitle(%q, %d) = %q, want %q", tt.query, tt.max, got, tt.want)
			}
		})
	}
}

func TestDeriveTitleRuneBoundary(t *testing.T) {
	query := strings.Repeat("å", 10)
	got := DeriveTitle(query, 5)
	if got != strings.Repeat("å", 5)+"…" {
		t.Fatalf("multibyte truncation broke: %q", got)
	}
}

func TestMessageTerminal(t *testing.T) {
	if (Message{Status: StatusStreaming}).Terminal() {
		t.Fatalf("streaming message reported terminal")
	}
	for _, s := range []MessageStatus{StatusFinal, StatusInterrupted, StatusErrored} {
		if !(Message{Status: s}).Terminal() {
			t.Fatalf("%s message not terminal", s)
		}
	}
}

func TestErrorPredicatesFollowWrapping(t *testing.T) {
	base := NewError(ErrTimeout, "deadline", WithRetryable(true))
	wrapped := WrapError(base, ErrServer)
	if wrapped.Code != ErrTimeout {
		t.Fatalf("WrapError recategorized an already categorized error")
	}
	if !IsTimeout(wrapped) || IsServer(wrapped) {
		t.Fatalf("predicates wrong for wrapped error")
	}
	if CodeOf(errors.New("plain")) != ErrInternal {
		t.Fatalf("uncategorized error should map to internal")
	}
}

func TestUserMessageNeverEmpty(t *testing.T) {
	codes := []ErrorCode{ErrValidation, ErrBusy, ErrConflict, ErrConnection, ErrTimeout, ErrServer, ErrParse, ErrInternal}
	for _, code := range codes {
		e := NewError(code, "internal detail")
		if e.UserMessage() == "" {
			t.Fatalf("empty user message for %s", code)
		}
	}
}

func TestTurnPhaseTerminal(t *testing.T) {
	terminal := []TurnPhase{PhaseCompleted, PhaseCancelled, PhaseErrored, PhaseDisconnected}
	for _, p := range terminal {
		if !p.Terminal() {
			t.Fatalf("%s should be terminal", p)
		}
	}
	for _, p := range []TurnPhase{PhaseIdle, PhaseRequested, PhaseStreaming} {
		if p.Terminal() {
			t.Fatalf("%s should not be terminal", p)
		}
	}
}
