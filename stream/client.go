// Package stream implements the client side of the generation event
// stream: one request per turn, decoded into tagged frames and emitted as
// ordered turn events with cooperative cancellation.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/groundedqa/docchat/core"
	"github.com/groundedqa/docchat/internal/httpclient"
)

// Request describes one generation turn.
type Request struct {
	SessionID     string   `json:"sessionId"`
	TurnID        string   `json:"turnId"`
	Content       string   `json:"content"`
	DocumentScope []string `json:"documentScope,omitempty"`
	// ResumeToken and ResumeText replay an interrupted turn's partial
	// output as context for a continue-generation action.
	ResumeToken string `json:"resumeToken,omitempty"`
	ResumeText  string `json:"resumeText,omitempty"`
}

// Opener is the surface the session controller depends on; it exists so
// controller tests can script turns without a network.
type Opener interface {
	Open(ctx context.Context, req Request) (*core.Turn, error)
}

// Client issues generation requests and decodes the event stream.
type Client struct {
	opts       options
	httpClient *http.Client
	logger     *slog.Logger
}

// New constructs a stream client.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		// No whole-request timeout: streams are bounded per turn.
		o.httpClient = httpclient.New()
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{opts: o, httpClient: o.httpClient, logger: logger.With("component", "stream")}
}

// Open issues the generation request for one turn. The returned Turn is in
// phase requested; events arrive on Turn.Events until a terminal phase.
func (c *Client) Open(ctx context.Context, req Request) (*core.Turn, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, core.WrapError(err, core.ErrInternal)
	}

	turn := core.NewTurn(ctx, req.SessionID, req.TurnID, c.opts.buffer)

	httpReq, err := http.NewRequestWithContext(turn.Context(), http.MethodPost, c.opts.baseURL, bytes.NewReader(payload))
	if err != nil {
		_ = turn.Close()
		return nil, core.WrapError(err, core.ErrInternal)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range c.opts.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		_ = turn.Close()
		return nil, core.NewError(core.ErrConnection, "generation endpoint unreachable", core.WithWrapped(err), core.WithRetryable(true))
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = turn.Close()
		c.logger.Warn("generation request rejected", "status", resp.StatusCode, "turn_id", req.TurnID)
		return nil, core.NewError(core.ErrServer,
			fmt.Sprintf("generation endpoint returned %s", resp.Status),
			core.WithWrapped(fmt.Errorf("%s", strings.TrimSpace(string(body)))))
	}

	go c.consume(resp.Body, turn)
	return turn, nil
}

// deadline tracks which client-imposed timeout fired, if any. Body reads
// unblock with an error once the body is closed; the recorded cause
// distinguishes a timeout from a genuine transport failure.
type deadline struct {
	mu    sync.Mutex
	cause string
}

func (d *deadline) set(cause string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cause == "" {
		d.cause = cause
	}
}

func (d *deadline) get() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cause
}

func (c *Client) consume(body io.ReadCloser, turn *core.Turn) {
	defer body.Close()
	defer turn.Close()

	var dl deadline
	firstByteTimer := time.AfterFunc(c.opts.firstByteTimeout, func() {
		dl.set("no data received before the first-byte deadline")
		body.Close()
	})
	defer firstByteTimer.Stop()
	turnTimer := time.AfterFunc(c.opts.turnTimeout, func() {
		dl.set("turn exceeded its maximum duration")
		body.Close()
	})
	defer turnTimer.Stop()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	first := true
	parseFailures := 0
	seq := 0

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if first {
			first = false
			firstByteTimer.Stop()
			turn.SetPhase(core.PhaseStreaming)
		}

		// Cancellation epoch check: a frame already in the pipe when
		// the user cancelled must not be applied.
		if turn.Cancelled() {
			c.finishCancelled(turn, "")
			return
		}

		frame, err := decodeFrame([]byte(data))
		if err != nil {
			parseFailures++
			c.logger.Warn("malformed stream frame",
				"turn_id", turn.TurnID(), "consecutive", parseFailures, "error", err)
			if parseFailures >= c.opts.maxParseFailures {
				turn.SetPhase(core.PhaseErrored)
				turn.Fail(core.NewError(core.ErrServer, "repeated malformed frames", core.WithWrapped(err)))
				return
			}
			continue
		}
		parseFailures = 0
		if !frame.known() {
			c.logger.Warn("unrecognized frame type", "turn_id", turn.TurnID(), "type", string(frame.Type))
			continue
		}
		seq++

		switch frame.Type {
		case FrameStatus:
			turn.Push(core.TurnEvent{Type: core.EventStatus, Status: frame.Text, Seq: seq, Timestamp: time.Now()})
		case FrameToken:
			if frame.Content == "" {
				continue
			}
			turn.Push(core.TurnEvent{Type: core.EventDelta, Delta: frame.Content, Seq: seq, Timestamp: time.Now()})
		case FrameComplete:
			turn.SetPhase(core.PhaseCompleted)
			turn.Push(core.TurnEvent{
				Type:      core.EventComplete,
				Answer:    frame.Answer,
				Sources:   frame.Sources,
				Metadata:  frame.Metadata,
				Seq:       seq,
				Timestamp: time.Now(),
			})
			return
		case FrameDone:
			// The done sentinel without a preceding complete frame
			// means the turn produced no final answer.
			turn.SetPhase(core.PhaseErrored)
			turn.Fail(core.NewError(core.ErrServer, "stream ended without a final answer"))
			return
		case FrameAbort:
			c.finishCancelled(turn, frame.ResumeToken)
			return
		case FrameError:
			c.logger.Warn("server error frame", "turn_id", turn.TurnID(), "message", frame.Message)
			turn.SetPhase(core.PhaseErrored)
			turn.Fail(core.NewError(core.ErrServer, "generation failed", core.WithWrapped(fmt.Errorf("%s", frame.Message))))
			return
		}
	}

	// The read loop ended without a terminal frame.
	if cause := dl.get(); cause != "" && !turn.Cancelled() {
		turn.SetPhase(core.PhaseErrored)
		turn.Fail(core.NewError(core.ErrTimeout, cause, core.WithRetryable(true)))
		return
	}
	if turn.Cancelled() {
		c.finishCancelled(turn, "")
		return
	}
	err := scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	turn.SetPhase(core.PhaseErrored)
	turn.Fail(core.NewError(core.ErrConnection, "stream ended unexpectedly", core.WithWrapped(err), core.WithRetryable(true)))
}

func (c *Client) finishCancelled(turn *core.Turn, resumeToken string) {
	turn.SetPhase(core.PhaseCancelled)
	turn.Push(core.TurnEvent{Type: core.EventAbort, ResumeToken: resumeToken, Timestamp: time.Now()})
}

var _ Opener = (*Client)(nil)

// ErrNoEndpoint is returned by Validate when the client has no base URL.
var ErrNoEndpoint = core.NewError(core.ErrValidation, "generation endpoint URL is not configured")

// Validate checks the client configuration.
func (c *Client) Validate() error {
	if c.opts.baseURL == "" {
		return ErrNoEndpoint
	}
	return nil
}
