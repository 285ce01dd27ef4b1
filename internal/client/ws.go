package client

import (
	"context"
	"encoding/json"
	"sync"

	"realtime-board/pkg/board"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Messages delivered to the TUI by the read loop.
type (
	colorMsg             string
	historyMsg           []board.Envelope
	envelopeMsg          board.Envelope
	serverErrorMsg       string
	canvasMsg            []byte
	canvasUnavailableMsg struct{}
	disconnectedMsg      struct{ err error }
)

// serverFrame covers both control messages and broadcast envelopes.
type serverFrame struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Time   int64           `json:"time"`
	Text   string          `json:"text"`
	Author string          `json:"author"`
	Color  string          `json:"color"`
}

// ParseServerFrame turns a text frame from the relay into a TUI message.
// Frames with an author are broadcast envelopes whatever their type, since
// peers choose the type freely. getCanvas control frames yield nil; the
// client answers them itself.
func ParseServerFrame(data []byte) (tea.Msg, error) {
	var f serverFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode server frame failed")
	}

	if f.Author != "" {
		return envelopeMsg(board.Envelope{
			Type:   f.Type,
			Time:   f.Time,
			Text:   f.Text,
			Author: f.Author,
			Color:  f.Color,
		}), nil
	}

	switch f.Type {
	case board.TypeColor:
		var color string
		if err := json.Unmarshal(f.Data, &color); err != nil {
			return nil, errors.Wrap(err, "decode color failed")
		}
		return colorMsg(color), nil
	case board.TypeHistory:
		var envs []board.Envelope
		if err := json.Unmarshal(f.Data, &envs); err != nil {
			return nil, errors.Wrap(err, "decode history failed")
		}
		return historyMsg(envs), nil
	case board.TypeError:
		var text string
		if err := json.Unmarshal(f.Data, &text); err != nil {
			return nil, errors.Wrap(err, "decode error text failed")
		}
		return serverErrorMsg(text), nil
	case board.TypeCanvasUnavailable:
		return canvasUnavailableMsg{}, nil
	case board.TypeGetCanvas:
		return nil, nil
	case "":
		return nil, errors.New("server frame without type")
	default:
		return envelopeMsg(board.Envelope{
			Type:   f.Type,
			Time:   f.Time,
			Text:   f.Text,
			Author: f.Author,
			Color:  f.Color,
		}), nil
	}
}

// WSClient speaks the board protocol over one connection. It has no canvas
// of its own: when asked for one it hands back the last snapshot it
// received, or an empty one.
type WSClient struct {
	conn *websocket.Conn
	ch   chan<- tea.Msg

	mu     sync.Mutex
	canvas []byte
}

// Dial connects to the relay's WebSocket endpoint.
func Dial(ctx context.Context, url string, ch chan<- tea.Msg) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s failed", url)
	}
	return &WSClient{conn: conn, ch: ch}, nil
}

// Start runs the read loop until the connection closes.
func (c *WSClient) Start() {
	go func() {
		for {
			kind, data, err := c.conn.ReadMessage()
			if err != nil {
				c.ch <- disconnectedMsg{err: err}
				return
			}
			if kind == websocket.BinaryMessage {
				c.mu.Lock()
				c.canvas = append([]byte(nil), data...)
				c.mu.Unlock()
				c.ch <- canvasMsg(data)
				continue
			}
			c.handleText(data)
		}
	}()
}

func (c *WSClient) handleText(data []byte) {
	msg, err := ParseServerFrame(data)
	if err != nil {
		c.ch <- serverErrorMsg(err.Error())
		return
	}
	if msg == nil {
		if err := c.sendCanvas(); err != nil {
			c.ch <- serverErrorMsg(err.Error())
		}
		return
	}
	c.ch <- msg
}

// Join sends the first frame, which carries the display name.
func (c *WSClient) Join(name string) error {
	return c.send("name", name)
}

// SendChat sends a chat line.
func (c *WSClient) SendChat(text string) error {
	return c.send(board.TypeChat, text)
}

func (c *WSClient) send(typ, data string) error {
	payload, err := board.Message{Type: typ, Data: data}.Marshal()
	if err != nil {
		return errors.Wrap(err, "encode frame failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "write frame failed")
	}
	return nil
}

func (c *WSClient) sendCanvas() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, c.canvas); err != nil {
		return errors.Wrap(err, "write canvas failed")
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.conn.Close()
}
