package reconcile

import (
	"testing"

	"github.com/groundedqa/docchat/core"
)

func newSession() *core.Session {
	return &core.Session{ID: "s1"}
}

func TestAppendDeltaConcatenatesInArrivalOrder(t *testing.T) {
	r := New(nil)
	sess := newSession()

	deltas := []string{"The", " deadline", " is", " March 1."}
	for _, d := range deltas {
		r.AppendDelta(sess, "t1", d)
	}

	idx := sess.MessageByTurn("t1", core.Assistant)
	if idx < 0 {
		t.Fatalf("no assistant message created")
	}
	msg := sess.Messages[idx]
	if msg.Content != "The deadline is March 1." {
		t.Fatalf("unexpected content: %q", msg.Content)
	}
	if msg.Status != core.StatusStreaming {
		t.Fatalf("expected streaming status, got %s", msg.Status)
	}
}

func TestAppendDeltaCreatesSinglePlaceholder(t *testing.T) {
	r := New(nil)
	sess := newSession()

	r.AppendDelta(sess, "t1", "a")
	r.AppendDelta(sess, "t1", "b")

	count := 0
	for _, m := range sess.Messages {
		if m.TurnID == "t1" && m.Role == core.Assistant {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected 1 assistant message, got %d", count)
	}
}

func TestFinalizeReplacesPlaceholderContent(t *testing.T) {
	r := New(nil)
	sess := newSession()

	r.AppendDelta(sess, "t1", "The dead")
	r.Finalize(sess, "t1", core.Message{
		Content: "The deadline is March 1.",
		Status:  core.StatusFinal,
		Sources: []byte(`[{"doc":"d1"}]`),
	})

	idx := sess.MessageByTurn("t1", core.Assistant)
	msg := sess.Messages[idx]
	if msg.Content != "The deadline is March 1." {
		t.Fatalf("authoritative content should win, got %q", msg.Content)
	}
	if msg.Status != core.StatusFinal {
		t.Fatalf("expected final status, got %s", msg.Status)
	}
	if !SourcesEqual(msg.Sources, []byte(`[{"doc":"d1"}]`)) {
		t.Fatalf("sources not applied: %s", msg.Sources)
	}
}

func TestFinalizeTwiceIsIdempotent(t *testing.T) {
	r := New(nil)
	sess := newSession()

	r.AppendDelta(sess, "t1", "partial")
	r.Finalize(sess, "t1", core.Message{Content: "final answer", Status: core.StatusFinal})
	first := sess.Messages[sess.MessageByTurn("t1", core.Assistant)]

	r.Finalize(sess, "t1", core.Message{Content: "other answer", Status: core.StatusErrored})
	second := sess.Messages[sess.MessageByTurn("t1", core.Assistant)]

	if first.Content != second.Content || first.Status != second.Status {
		t.Fatalf("second finalize changed the message: %+v vs %+v", first, second)
	}
}

func TestLateDeltaAfterTerminalIsDropped(t *testing.T) {
	r := New(nil)
	sess := newSession()

	r.AppendDelta(sess, "t1", "The dead")
	r.Interrupt(sess, "t1", core.InterruptUser, "tok-1")
	r.AppendDelta(sess, "t1", "line is March 1.")

	msg := sess.Messages[sess.MessageByTurn("t1", core.Assistant)]
	if msg.Content != "The dead" {
		t.Fatalf("late delta mutated finalized message: %q", msg.Content)
	}
	if msg.Status != core.StatusInterrupted {
		t.Fatalf("expected interrupted, got %s", msg.Status)
	}
	if msg.Resume != "tok-1" {
		t.Fatalf("resume token lost: %q", msg.Resume)
	}
}

func TestInterruptWithoutPlaceholderInsertsNotice(t *testing.T) {
	r := New(nil)
	sess := newSession()

	r.Interrupt(sess, "t1", core.InterruptRecovery, "")

	if !HasInterruptionNotice(sess, "t1", core.InterruptRecovery) {
		t.Fatalf("interruption notice missing")
	}
	r.Interrupt(sess, "t1", core.InterruptRecovery, "")
	count := 0
	for _, m := range sess.Messages {
		if m.Status == core.StatusInterrupted {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one interrupted message, got %d", count)
	}
}

func TestFinalizeErrorRendersInPlace(t *testing.T) {
	r := New(nil)
	sess := newSession()

	r.AppendDelta(sess, "t1", "part")
	before := len(sess.Messages)
	r.FinalizeError(sess, "t1", core.NewError(core.ErrTimeout, "deadline"))

	if len(sess.Messages) != before {
		t.Fatalf("error finalize appended a new message")
	}
	msg := sess.Messages[sess.MessageByTurn("t1", core.Assistant)]
	if msg.Status != core.StatusErrored {
		t.Fatalf("expected errored status, got %s", msg.Status)
	}
	if msg.Content == "part" || msg.Content == "" {
		t.Fatalf("expected user-facing error text, got %q", msg.Content)
	}
}

func TestDedupHistoryCollapsesDuplicatePairs(t *testing.T) {
	msgs := []core.Message{
		{ID: "1", Role: core.User, TurnID: "t1", Content: "q"},
		{ID: "2", Role: core.Assistant, TurnID: "t1", Content: "a"},
		{ID: "3", Role: core.User, TurnID: "t1", Content: "q"},
		{ID: "4", Role: core.Assistant, TurnID: "t1", Content: "a"},
		{ID: "5", Role: core.User, TurnID: "t2", Content: "q2"},
	}
	out := DedupHistory(msgs)
	if len(out) != 3 {
		t.Fatalf("expected 3 messages after dedup, got %d", len(out))
	}
	if out[0].ID != "1" || out[1].ID != "2" || out[2].ID != "5" {
		t.Fatalf("dedup kept wrong entries: %+v", out)
	}
}

func TestAppendUserDuplicateSubmitKeepsFirst(t *testing.T) {
	r := New(nil)
	sess := newSession()

	first := r.AppendUser(sess, "t1", "question")
	second := r.AppendUser(sess, "t1", "question again")

	if first.ID != second.ID {
		t.Fatalf("duplicate submit created a second user message")
	}
	if sess.Messages[0].Content != "question" {
		t.Fatalf("first write should win: %q", sess.Messages[0].Content)
	}
}
