// Package draft schedules best-effort persistence of in-progress input and
// partially streamed output. Drafts exist only for crash recovery and are
// never authoritative over finalized messages.
package draft

import (
	"log/slog"
	"sync"
	"time"

	"github.com/groundedqa/docchat/core"
)

// Sink is the durable destination for draft snapshots. The session store
// implements it.
type Sink interface {
	DraftPut(core.Draft) error
	DraftClear(sessionID string) error
}

// Writer debounces draft writes: a snapshot lands a short delay after the
// last update, and a fixed-interval safety net flushes regardless of
// activity. All writes are per-session overwrites; no cross-session
// coordination is needed.
type Writer struct {
	sink     Sink
	logger   *slog.Logger
	debounce time.Duration
	interval time.Duration

	mu      sync.Mutex
	pending map[string]core.Draft
	timer   *time.Timer
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWriter constructs a Writer and starts its safety-net loop.
func NewWriter(sink Sink, debounce, interval time.Duration, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 1500 * time.Millisecond
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	w := &Writer{
		sink:     sink,
		logger:   logger.With("component", "draft"),
		debounce: debounce,
		interval: interval,
		pending:  make(map[string]core.Draft),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.intervalLoop()
	return w
}

// Update records the latest snapshot for a session and arms the debounce
// timer.
func (w *Writer) Update(d core.Draft) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if d.SavedAt.IsZero() {
		d.SavedAt = time.Now()
	}
	w.pending[d.SessionID] = d
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.Flush)
	} else {
		w.timer.Reset(w.debounce)
	}
}

// Clear drops any pending snapshot for the session and removes its durable
// draft row. Called on clean turn completion.
func (w *Writer) Clear(sessionID string) {
	w.mu.Lock()
	delete(w.pending, sessionID)
	w.mu.Unlock()
	if err := w.sink.DraftClear(sessionID); err != nil {
		w.logger.Warn("clear draft failed", "session_id", sessionID, "error", err)
	}
}

// Flush writes all pending snapshots immediately. Best effort: failures
// are logged, not returned, because the recovery path must tolerate
// missing or stale drafts anyway.
func (w *Writer) Flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(map[string]core.Draft)
	w.mu.Unlock()

	for _, d := range batch {
		if err := w.sink.DraftPut(d); err != nil {
			w.logger.Warn("draft write failed", "session_id", d.SessionID, "error", err)
		}
	}
}

// Close stops the loops and performs a final synchronous flush.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.Flush()
}

func (w *Writer) intervalLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Flush()
		case <-w.done:
			return
		}
	}
}
