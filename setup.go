package docchat

import (
	"github.com/groundedqa/docchat/config"
	"github.com/groundedqa/docchat/store"
	"github.com/groundedqa/docchat/stream"
)

// NewFromConfig wires a Controller from file/env configuration: it opens
// the session database, builds the stream client against the configured
// endpoint, and maps limits and draft cadence onto controller options.
// The returned store is owned by the caller and is closed after Dispose.
func NewFromConfig(cfg config.Config, opts ...Option) (*Controller, *store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, err
	}
	client := stream.New(StreamOptions(cfg)...)

	all := append([]Option{
		WithQueryLimit(cfg.Limits.MaxQueryRunes),
		WithTitleLimit(cfg.Limits.MaxTitleRunes),
		WithDraftCadence(cfg.Drafts.Debounce, cfg.Drafts.Interval),
	}, opts...)
	return New(st, client, all...), st, nil
}

// StreamOptions maps endpoint configuration onto stream client options.
func StreamOptions(cfg config.Config) []stream.Option {
	opts := []stream.Option{
		stream.WithBaseURL(cfg.Endpoint.GenerateURL),
		stream.WithInterruptURL(cfg.Endpoint.InterruptURL),
		stream.WithFirstByteTimeout(cfg.Endpoint.FirstByteTimeout),
		stream.WithTurnTimeout(cfg.Endpoint.TurnTimeout),
	}
	if cfg.Endpoint.APIKey != "" {
		opts = append(opts, stream.WithHeader("Authorization", "Bearer "+cfg.Endpoint.APIKey))
	}
	return opts
}
