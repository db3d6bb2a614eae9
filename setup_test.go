package docchat

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/groundedqa/docchat/config"
	"github.com/groundedqa/docchat/stream"
)

func TestNewFromConfigWiresController(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoint.GenerateURL = "http://localhost:9/generate"
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "docchat.db")

	c, st, err := NewFromConfig(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sess, err := c.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, err := st.GetSession(sess.ID)
	if err != nil || stored == nil {
		t.Fatalf("configured store not usable: %v", err)
	}
	if err := c.Dispose(context.Background()); err != nil {
		t.Fatalf("dispose: %v", err)
	}
}

func TestNewFromConfigValidates(t *testing.T) {
	cfg := config.Default() // no generate_url
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "docchat.db")
	if _, _, err := NewFromConfig(cfg); err == nil {
		t.Fatalf("invalid configuration accepted")
	}
}

type headerCapture struct {
	auth string
}

func (h *headerCapture) RoundTrip(req *http.Request) (*http.Response, error) {
	h.auth = req.Header.Get("Authorization")
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader("data: {\"type\":\"complete\",\"answer\":\"ok\"}\n\n")),
	}, nil
}

func TestStreamOptionsCarryAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.Endpoint.GenerateURL = "http://backend/generate"
	cfg.Endpoint.APIKey = "sekrit"

	capture := &headerCapture{}
	client := stream.New(append(StreamOptions(cfg),
		stream.WithHTTPClient(&http.Client{Transport: capture}))...)

	turn, err := client.Open(context.Background(), stream.Request{SessionID: "s1", TurnID: "t1", Content: "q"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for range turn.Events() {
	}
	if capture.auth != "Bearer sekrit" {
		t.Fatalf("api key not sent: %q", capture.auth)
	}
}
