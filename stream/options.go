package stream

import (
	"log/slog"
	"net/http"
	"time"
)

type options struct {
	baseURL          string
	interruptURL     string
	headers          map[string]string
	httpClient       *http.Client
	firstByteTimeout time.Duration
	turnTimeout      time.Duration
	maxParseFailures int
	buffer           int
	logger           *slog.Logger
}

func defaultOptions() options {
	return options{
		headers:          map[string]string{},
		firstByteTimeout: 30 * time.Second,
		turnTimeout:      5 * time.Minute,
		maxParseFailures: 3,
		buffer:           64,
	}
}

// Option configures the stream client.
type Option func(*options)

// WithBaseURL sets the generation endpoint URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithInterruptURL sets the best-effort interrupt notification endpoint.
func WithInterruptURL(url string) Option {
	return func(o *options) { o.interruptURL = url }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(o *options) { o.headers[key] = value }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithFirstByteTimeout bounds the wait for the first frame of a turn.
func WithFirstByteTimeout(d time.Duration) Option {
	return func(o *options) { o.firstByteTimeout = d }
}

// WithTurnTimeout bounds the total duration of one turn.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *options) { o.turnTimeout = d }
}

// WithMaxParseFailures sets how many consecutive malformed frames escalate
// to a server error.
func WithMaxParseFailures(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxParseFailures = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}
