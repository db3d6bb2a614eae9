package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType tags the discriminated payloads of the generation event stream.
type FrameType string

const (
	FrameStatus   FrameType = "status"
	FrameToken    FrameType = "token"
	FrameComplete FrameType = "complete"
	FrameDone     FrameType = "done"
	FrameAbort    FrameType = "abort"
	FrameError    FrameType = "error"
)

// Frame is a single decoded event-stream frame. Decoding happens once at
// the protocol boundary; everything inward works with the tagged type.
type Frame struct {
	Type FrameType `json:"type"`

	// status
	Text string `json:"text,omitempty"`
	// token
	Content string `json:"content,omitempty"`
	// complete
	Answer   string          `json:"answer,omitempty"`
	Sources  json.RawMessage `json:"sources,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	// abort
	ResumeToken string `json:"resumeToken,omitempty"`
	// error
	Message string `json:"message,omitempty"`
}

var errMissingType = errors.New("frame missing type")

// decodeFrame parses one frame payload. A frame with an unrecognized type
// decodes successfully; the caller logs and skips it rather than failing
// the turn.
func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, errMissingType
	}
	return f, nil
}

// known reports whether the frame type is part of the protocol.
func (f Frame) known() bool {
	switch f.Type {
	case FrameStatus, FrameToken, FrameComplete, FrameDone, FrameAbort, FrameError:
		return true
	}
	return false
}
