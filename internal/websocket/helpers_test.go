package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"realtime-board/pkg/board"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeConn records every frame written to it.
type fakeConn struct {
	mu     sync.Mutex
	text   [][]byte
	binary [][]byte
}

func (c *fakeConn) Write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = append(c.text, append([]byte(nil), msg...))
	return nil
}

func (c *fakeConn) WriteBinary(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binary = append(c.binary, append([]byte(nil), msg...))
	return nil
}

func (c *fakeConn) Raw() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.text...)
}

func (c *fakeConn) Binary() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.binary...)
}

func (c *fakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = nil
	c.binary = nil
}

// wireFrame covers both control messages and envelopes.
type wireFrame struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Time   int64           `json:"time"`
	Text   string          `json:"text"`
	Author string          `json:"author"`
	Color  string          `json:"color"`
}

func (f wireFrame) DataString(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(f.Data, &s))
	return s
}

func (f wireFrame) History(t *testing.T) []board.Envelope {
	t.Helper()
	var envs []board.Envelope
	require.NoError(t, json.Unmarshal(f.Data, &envs))
	return envs
}

func (c *fakeConn) Frames(t *testing.T) []wireFrame {
	t.Helper()
	raw := c.Raw()
	frames := make([]wireFrame, len(raw))
	for i, msg := range raw {
		require.NoError(t, json.Unmarshal(msg, &frames[i]), "frame %d: %s", i, msg)
	}
	return frames
}

func (c *fakeConn) Types(t *testing.T) []string {
	t.Helper()
	frames := c.Frames(t)
	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = f.Type
	}
	return types
}

// MockConn is a testify mock for failure injection.
type MockConn struct {
	mock.Mock
}

func (m *MockConn) Write(msg []byte) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockConn) WriteBinary(msg []byte) error {
	args := m.Called(msg)
	return args.Error(0)
}

// MockAuditSink records lifecycle events.
type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) SessionJoined(id int, name, color string) {
	m.Called(id, name, color)
}

func (m *MockAuditSink) SessionLeft(id int, name, color string) {
	m.Called(id, name, color)
}

func (m *MockAuditSink) CanvasRelayed(from int, recipients []int, size int) {
	m.Called(from, recipients, size)
}

func (m *MockAuditSink) CanvasExpired(waiters []int) {
	m.Called(waiters)
}

// newTestHub starts a hub with the canvas timeout disabled unless cfgs
// override it.
func newTestHub(t *testing.T, cfgs ...HubCfg) (*Hub, *MessageHandler) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	all := append([]HubCfg{WithLogger(logger), WithCanvasTimeout(0)}, cfgs...)
	hub, err := NewHub(all...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	return hub, NewMessageHandler(hub)
}

func frame(typ, data string) []byte {
	return []byte(fmt.Sprintf(`{"type":%q,"data":%q}`, typ, data))
}

func connect(t *testing.T, mh *MessageHandler) (int, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	id, err := mh.HandleConnect(conn)
	require.NoError(t, err)
	return id, conn
}

func join(t *testing.T, mh *MessageHandler, name string) (int, *fakeConn) {
	t.Helper()
	id, conn := connect(t, mh)
	require.NoError(t, mh.HandleMessage(id, frame("name", name)))
	return id, conn
}
