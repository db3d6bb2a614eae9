package draft

import (
	"sync"
	"testing"
	"time"

	"github.com/groundedqa/docchat/core"
)

type memSink struct {
	mu     sync.Mutex
	puts   []core.Draft
	clears []string
}

func (m *memSink) DraftPut(d core.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, d)
	return nil
}

func (m *memSink) DraftClear(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears = append(m.clears, sessionID)
	return nil
}

func (m *memSink) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.puts)
}

func (m *memSink) lastPut() core.Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[len(m.puts)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestDebounceCollapsesBurstIntoOneWrite(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, 40*time.Millisecond, time.Hour, nil)
	defer w.Close()

	for _, text := range []string{"w", "wh", "whe", "when"} {
		w.Update(core.Draft{SessionID: "s1", PendingInput: text})
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, func() bool { return sink.putCount() >= 1 })
	time.Sleep(60 * time.Millisecond)

	if sink.putCount() != 1 {
		t.Fatalf("expected 1 debounced write, got %d", sink.putCount())
	}
	if sink.lastPut().PendingInput != "when" {
		t.Fatalf("last snapshot should win: %q", sink.lastPut().PendingInput)
	}
}

func TestIntervalFlushesDuringContinuousTyping(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, time.Hour, 30*time.Millisecond, nil)
	defer w.Close()

	// Debounce never fires; the safety-net interval must.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				w.Update(core.Draft{SessionID: "s1", PendingInput: "typing"})
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()
	waitFor(t, func() bool { return sink.putCount() >= 1 })
	close(stop)
}

func TestClearDropsPendingAndDurable(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, 20*time.Millisecond, time.Hour, nil)
	defer w.Close()

	w.Update(core.Draft{SessionID: "s1", PendingInput: "half"})
	w.Clear("s1")

	time.Sleep(50 * time.Millisecond)
	if sink.putCount() != 0 {
		t.Fatalf("cleared draft still flushed: %d writes", sink.putCount())
	}
	if len(sink.clears) != 1 || sink.clears[0] != "s1" {
		t.Fatalf("durable clear missing: %v", sink.clears)
	}
}

func TestCloseFlushesPending(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, time.Hour, time.Hour, nil)

	w.Update(core.Draft{SessionID: "s1", PendingInput: "unsaved", PendingTurnID: "t9"})
	w.Close()

	if sink.putCount() != 1 {
		t.Fatalf("close did not flush: %d writes", sink.putCount())
	}
	d := sink.lastPut()
	if d.PendingInput != "unsaved" || d.PendingTurnID != "t9" {
		t.Fatalf("wrong snapshot flushed: %+v", d)
	}
	if d.SavedAt.IsZero() {
		t.Fatalf("SavedAt not stamped")
	}
}

func TestUpdateAfterCloseIsIgnored(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, time.Millisecond, time.Hour, nil)
	w.Close()

	w.Update(core.Draft{SessionID: "s1", PendingInput: "late"})
	time.Sleep(20 * time.Millisecond)
	if sink.putCount() != 0 {
		t.Fatalf("update after close reached the sink")
	}
}

func TestSnapshotsAreKeyedPerSession(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, 20*time.Millisecond, time.Hour, nil)
	defer w.Close()

	w.Update(core.Draft{SessionID: "s1", PendingInput: "one"})
	w.Update(core.Draft{SessionID: "s2", PendingInput: "two"})

	waitFor(t, func() bool { return sink.putCount() >= 2 })
	seen := map[string]string{}
	sink.mu.Lock()
	for _, d := range sink.puts {
		seen[d.SessionID] = d.PendingInput
	}
	sink.mu.Unlock()
	if seen["s1"] != "one" || seen["s2"] != "two" {
		t.Fatalf("per-session snapshots lost: %v", seen)
	}
}
