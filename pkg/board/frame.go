package board

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrInvalidFrame is returned when a text frame is not a JSON object.
var ErrInvalidFrame = errors.New("invalid frame")

// Frame is a decoded client text frame: {"type": ..., "data": ...}.
type Frame struct {
	Type string
	Data string
}

// DecodeFrame parses a client text frame. Non-string values of type and
// data are kept as their compact JSON text; null or absent values become "".
func DecodeFrame(payload []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Frame{}, errors.Wrap(ErrInvalidFrame, err.Error())
	}
	if fields == nil {
		return Frame{}, errors.Wrap(ErrInvalidFrame, "null frame")
	}

	typ, err := textOf(fields["type"])
	if err != nil {
		return Frame{}, errors.Wrap(err, "decode type failed")
	}
	data, err := textOf(fields["data"])
	if err != nil {
		return Frame{}, errors.Wrap(err, "decode data failed")
	}
	return Frame{Type: typ, Data: data}, nil
}

func textOf(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errors.Wrap(ErrInvalidFrame, err.Error())
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", errors.Wrap(ErrInvalidFrame, err.Error())
	}
	return buf.String(), nil
}

// Inbound is the closed set of messages a client can send.
// It is implemented by JoinRequest, ChatMessage and CustomMessage only.
type Inbound interface {
	inbound()
}

// JoinRequest is the first text frame of a connection; its data is the display name.
type JoinRequest struct {
	Name string
}

// ChatMessage is a "chat" frame from a named session.
type ChatMessage struct {
	Text string
}

// CustomMessage is any other frame from a named session, including one
// without a type. It is broadcast as-is and never kept in history.
type CustomMessage struct {
	Type string
	Data string
}

func (JoinRequest) inbound()   {}
func (ChatMessage) inbound()   {}
func (CustomMessage) inbound() {}

// Classify turns a frame into its Inbound variant. Until a session is named,
// every frame is a join request regardless of its type.
func (f Frame) Classify(named bool) Inbound {
	if !named {
		return JoinRequest{Name: f.Data}
	}
	if f.Type == TypeChat {
		return ChatMessage{Text: f.Data}
	}
	return CustomMessage{Type: f.Type, Data: f.Data}
}
