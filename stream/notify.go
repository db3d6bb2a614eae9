package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// NotifyInterrupt sends the best-effort teardown signal for an in-flight
// turn. It is fire-and-forget: the call returns immediately, no response is
// awaited, and failures are only logged.
func (c *Client) NotifyInterrupt(sessionID, turnID string) {
	if c.opts.interruptURL == "" {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"sessionId": sessionID,
		"turnId":    turnID,
	})
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.interruptURL, bytes.NewReader(payload))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Debug("interrupt notification failed", "turn_id", turnID, "error", err)
			return
		}
		resp.Body.Close()
	}()
}
