package board

import (
	"bytes"
	"encoding/json"
)

// Message is a server control message: {"type": ..., "data": ...}.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func ColorMessage(color string) Message {
	return Message{Type: TypeColor, Data: color}
}

func HistoryMessage(history []Envelope) Message {
	return Message{Type: TypeHistory, Data: history}
}

func CanvasRequest() Message {
	return Message{Type: TypeGetCanvas, Data: ""}
}

func CanvasUnavailableMessage() Message {
	return Message{Type: TypeCanvasUnavailable, Data: ""}
}

func ErrorMessage(text string) Message {
	return Message{Type: TypeError, Data: text}
}

// Marshal encodes the message as JSON.
func (m Message) Marshal() ([]byte, error) {
	return marshal(m)
}

// NewEnvelope builds an envelope, escaping text. The author is stored as
// given since names are escaped once when a session joins.
func NewEnvelope(kind, author, color, rawText string, timeMillis int64) Envelope {
	return Envelope{
		Type:   kind,
		Time:   timeMillis,
		Text:   Escape(rawText),
		Author: author,
		Color:  color,
	}
}

// Marshal encodes the envelope as JSON.
func (e Envelope) Marshal() ([]byte, error) {
	return marshal(e)
}

// marshal encodes v without the \u003c style escaping of encoding/json;
// text fields are already HTML-escaped.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
