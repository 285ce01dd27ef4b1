package websocket

import (
	"testing"
	"time"

	"realtime-board/internal/metrics"
	"realtime-board/pkg/board"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMessageHandler_FirstJoin(t *testing.T) {
	hub, mh := newTestHub(t)

	_, conn := join(t, mh, "Bob")

	frames := conn.Frames(t)
	require.Len(t, frames, 1, "no join notice, history or canvas request for the first session")
	assert.Equal(t, board.TypeColor, frames[0].Type)
	assert.Equal(t, "red", frames[0].DataString(t))

	st, err := hub.Stats()
	require.NoError(t, err)
	assert.Empty(t, st.CanvasWaiting)
}

func TestMessageHandler_CanvasHandshake(t *testing.T) {
	hub, mh := newTestHub(t)
	x, connX := join(t, mh, "Bob")
	connX.Reset()

	y, connY := join(t, mh, "<script>")

	framesX := connX.Frames(t)
	require.Len(t, framesX, 2)
	assert.Equal(t, board.TypeChat, framesX[0].Type)
	assert.Equal(t, board.SystemAuthor, framesX[0].Author)
	assert.Equal(t, board.SystemColor, framesX[0].Color)
	assert.Equal(t, "&lt;script&gt; has joined the chat", framesX[0].Text)
	assert.Equal(t, board.TypeGetCanvas, framesX[1].Type)
	assert.Equal(t, "", framesX[1].DataString(t))

	framesY := connY.Frames(t)
	require.Len(t, framesY, 1)
	assert.Equal(t, board.TypeColor, framesY[0].Type)
	assert.Equal(t, "green", framesY[0].DataString(t))

	st, err := hub.Stats()
	require.NoError(t, err)
	assert.Equal(t, []int{y}, st.CanvasWaiting)

	require.NoError(t, mh.HandleBinary(x, []byte("PNGDATA")))

	assert.Equal(t, [][]byte{[]byte("PNGDATA")}, connY.Binary())
	assert.Empty(t, connX.Binary())

	st, err = hub.Stats()
	require.NoError(t, err)
	assert.Empty(t, st.CanvasWaiting)
}

func TestMessageHandler_SnapshotServesEveryWaiter(t *testing.T) {
	_, mh := newTestHub(t)
	x, connX := join(t, mh, "x")
	_, connY := join(t, mh, "y")
	_, connZ := join(t, mh, "z")

	// Both newcomers asked the oldest session.
	types := connX.Types(t)
	assert.Equal(t, 2, count(types, board.TypeGetCanvas))
	assert.Equal(t, 0, count(connY.Types(t), board.TypeGetCanvas))

	require.NoError(t, mh.HandleBinary(x, []byte{0x89, 'P', 'N', 'G'}))

	assert.Equal(t, [][]byte{{0x89, 'P', 'N', 'G'}}, connY.Binary())
	assert.Equal(t, [][]byte{{0x89, 'P', 'N', 'G'}}, connZ.Binary())

	// A second snapshot has nobody to go to.
	require.NoError(t, mh.HandleBinary(x, []byte("again")))
	assert.Len(t, connY.Binary(), 1)
	assert.Len(t, connZ.Binary(), 1)
}

func TestMessageHandler_CanvasSourceSelection(t *testing.T) {
	tests := []struct {
		name      string
		cfgs      []HubCfg
		wantEarly int
		wantMid   int
	}{
		{name: "first session by default", wantEarly: 1, wantMid: 0},
		{name: "skip waiting sessions", cfgs: []HubCfg{WithSkipWaitingCanvasSource(true)}, wantEarly: 0, wantMid: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, mh := newTestHub(t, tt.cfgs...)
			early, connEarly := connect(t, mh)
			_, connMid := join(t, mh, "mid")
			// early names itself after mid and waits on mid's canvas.
			require.NoError(t, mh.HandleMessage(early, frame("name", "early")))
			require.Equal(t, 1, count(connMid.Types(t), board.TypeGetCanvas))

			connEarly.Reset()
			connMid.Reset()
			late, _ := join(t, mh, "late")

			assert.Equal(t, tt.wantEarly, count(connEarly.Types(t), board.TypeGetCanvas))
			assert.Equal(t, tt.wantMid, count(connMid.Types(t), board.TypeGetCanvas))

			st, err := hub.Stats()
			require.NoError(t, err)
			assert.Equal(t, []int{early, late}, st.CanvasWaiting)
		})
	}
}

func TestMessageHandler_SnapshotFromAnySessionByDefault(t *testing.T) {
	_, mh := newTestHub(t)
	join(t, mh, "x")
	_, connY := join(t, mh, "y")
	stranger, _ := connect(t, mh)

	require.NoError(t, mh.HandleBinary(stranger, []byte("forged")))

	assert.Equal(t, [][]byte{[]byte("forged")}, connY.Binary())
}

func TestMessageHandler_StrictCanvasSource(t *testing.T) {
	hub, mh := newTestHub(t, WithStrictCanvasSource(true))
	x, _ := join(t, mh, "x")
	y, connY := join(t, mh, "y")
	stranger, _ := connect(t, mh)

	require.NoError(t, mh.HandleBinary(stranger, []byte("forged")))
	assert.Empty(t, connY.Binary())

	st, err := hub.Stats()
	require.NoError(t, err)
	assert.Equal(t, []int{y}, st.CanvasWaiting)

	require.NoError(t, mh.HandleBinary(x, []byte("real")))
	assert.Equal(t, [][]byte{[]byte("real")}, connY.Binary())
}

func TestMessageHandler_BinaryWithoutWaitersIsNoop(t *testing.T) {
	_, mh := newTestHub(t)
	x, connX := join(t, mh, "x")
	connX.Reset()

	require.NoError(t, mh.HandleBinary(x, []byte("PNGDATA")))

	assert.Empty(t, connX.Raw())
	assert.Empty(t, connX.Binary())
}

func TestMessageHandler_HistoryBackfill(t *testing.T) {
	_, mh := newTestHub(t)
	a, connA := join(t, mh, "a")
	b, _ := join(t, mh, "b")

	assert.NotContains(t, connA.Types(t), board.TypeHistory)

	require.NoError(t, mh.HandleMessage(a, frame(board.TypeChat, "hi")))
	require.NoError(t, mh.HandleMessage(b, frame(board.TypeChat, "yo")))

	_, connC := join(t, mh, "c")

	frames := connC.Frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, board.TypeColor, frames[0].Type)
	assert.Equal(t, board.TypeHistory, frames[1].Type)

	envs := frames[1].History(t)
	require.Len(t, envs, 2)
	assert.Equal(t, "hi", envs[0].Text)
	assert.Equal(t, "a", envs[0].Author)
	assert.Equal(t, "yo", envs[1].Text)
	assert.Equal(t, "b", envs[1].Author)
}

func TestMessageHandler_EscapingMatchesInLiveAndReplay(t *testing.T) {
	_, mh := newTestHub(t)
	a, connA := join(t, mh, "a")
	connA.Reset()

	require.NoError(t, mh.HandleMessage(a, frame(board.TypeChat, `<b>"fish" & chips</b>`)))

	live := connA.Frames(t)
	require.Len(t, live, 1)
	assert.Equal(t, "&lt;b&gt;&quot;fish&quot; &amp; chips&lt;/b&gt;", live[0].Text)

	_, connB := join(t, mh, "b")
	frames := connB.Frames(t)
	require.Len(t, frames, 2)
	replay := frames[1].History(t)
	require.Len(t, replay, 1)
	assert.Equal(t, live[0].Text, replay[0].Text)
	assert.Equal(t, live[0].Time, replay[0].Time)
}

func TestMessageHandler_HistoryCapped(t *testing.T) {
	hub, mh := newTestHub(t, WithHistorySize(3))
	a, _ := join(t, mh, "a")
	for _, text := range []string{"1", "2", "3", "4"} {
		require.NoError(t, mh.HandleMessage(a, frame(board.TypeChat, text)))
	}

	envs, err := hub.History()
	require.NoError(t, err)
	require.Len(t, envs, 3)
	assert.Equal(t, "2", envs[0].Text)
	assert.Equal(t, "4", envs[2].Text)
}

func TestMessageHandler_CustomTypeForwardedNotRetained(t *testing.T) {
	hub, mh := newTestHub(t)
	a, connA := join(t, mh, "a")
	_, connB := join(t, mh, "b")
	connA.Reset()
	connB.Reset()

	require.NoError(t, mh.HandleMessage(a, []byte(`{"type":"draw","data":{"x":1,"y":2}}`)))

	for _, conn := range []*fakeConn{connA, connB} {
		frames := conn.Frames(t)
		require.Len(t, frames, 1)
		assert.Equal(t, "draw", frames[0].Type)
		assert.Equal(t, "{&quot;x&quot;:1,&quot;y&quot;:2}", frames[0].Text)
		assert.Equal(t, "a", frames[0].Author)
	}

	envs, err := hub.History()
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestMessageHandler_SystemNoticesNotRetained(t *testing.T) {
	hub, mh := newTestHub(t)
	join(t, mh, "a")
	b, _ := join(t, mh, "b")
	require.NoError(t, mh.HandleDisconnect(b))

	envs, err := hub.History()
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestMessageHandler_InvalidJSON(t *testing.T) {
	m := metrics.New(nil)
	hub, mh := newTestHub(t, WithMetrics(m))
	a, connA := join(t, mh, "a")
	_, connB := join(t, mh, "b")
	connA.Reset()
	connB.Reset()

	require.NoError(t, mh.HandleMessage(a, []byte(`{not json`)))

	frames := connA.Frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, board.TypeError, frames[0].Type)
	assert.Equal(t, "Invalid JSON", frames[0].DataString(t))
	assert.Empty(t, connB.Raw())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvalidFrames))

	// The session stays usable.
	require.NoError(t, mh.HandleMessage(a, frame(board.TypeChat, "ok")))
	assert.Len(t, connB.Frames(t), 1)

	envs, err := hub.History()
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestMessageHandler_InvalidJSONBeforeJoin(t *testing.T) {
	hub, mh := newTestHub(t)
	id, conn := connect(t, mh)

	require.NoError(t, mh.HandleMessage(id, []byte(`null`)))

	frames := conn.Frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, board.TypeError, frames[0].Type)

	st, err := hub.Stats()
	require.NoError(t, err)
	assert.Empty(t, st.Members)

	require.NoError(t, mh.HandleMessage(id, frame("name", "late")))
	st, err = hub.Stats()
	require.NoError(t, err)
	require.Len(t, st.Members, 1)
	assert.Equal(t, "late", st.Members[0].Name)
}

func TestMessageHandler_MissingTypeForwarded(t *testing.T) {
	hub, mh := newTestHub(t)
	a, connA := join(t, mh, "a")
	_, connB := join(t, mh, "b")
	connA.Reset()
	connB.Reset()

	require.NoError(t, mh.HandleMessage(a, []byte(`{"data":"hi"}`)))

	for _, conn := range []*fakeConn{connA, connB} {
		frames := conn.Frames(t)
		require.Len(t, frames, 1)
		assert.Equal(t, "", frames[0].Type)
		assert.Equal(t, "hi", frames[0].Text)
		assert.Equal(t, "a", frames[0].Author)
		assert.Equal(t, "red", frames[0].Color)
	}

	hist, err := hub.History()
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestMessageHandler_SecondTextFrameIsBroadcast(t *testing.T) {
	hub, mh := newTestHub(t)
	a, connA := join(t, mh, "alice")
	connA.Reset()

	// Any type works for the second frame, including the one used to join.
	require.NoError(t, mh.HandleMessage(a, frame("name", "mallory")))

	frames := connA.Frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "name", frames[0].Type)
	assert.Equal(t, "mallory", frames[0].Text)
	assert.Equal(t, "alice", frames[0].Author)

	st, err := hub.Stats()
	require.NoError(t, err)
	assert.Equal(t, "alice", st.Members[0].Name)
}

func TestMessageHandler_Leave(t *testing.T) {
	hub, mh := newTestHub(t, WithColors("red", "green"))
	a, _ := join(t, mh, "a")
	b, connB := join(t, mh, "<b>")
	_, connC := connect(t, mh)

	require.NoError(t, mh.HandleDisconnect(a))

	frames := connB.Frames(t)
	last := frames[len(frames)-1]
	assert.Equal(t, "a has left the chat", last.Text)
	assert.Equal(t, board.SystemAuthor, last.Author)
	assert.Empty(t, connC.Raw())

	st, err := hub.Stats()
	require.NoError(t, err)
	require.Len(t, st.Members, 1)
	assert.Equal(t, b, st.Members[0].ID)
	assert.Equal(t, 1, st.AvailableColors)

	// The freed color goes to the next joiner and nobody else holds it.
	_, connD := join(t, mh, "d")
	dFrames := connD.Frames(t)
	assert.Equal(t, "red", dFrames[0].DataString(t))
	st, err = hub.Stats()
	require.NoError(t, err)
	seen := map[string]int{}
	for _, m := range st.Members {
		seen[m.Color]++
	}
	assert.Equal(t, 1, seen["red"])
}

func TestMessageHandler_NoticesEscapeNameOnce(t *testing.T) {
	_, mh := newTestHub(t)
	_, connA := join(t, mh, "a")
	connA.Reset()
	b, _ := join(t, mh, "<b>&")

	frames := connA.Frames(t)
	require.NotEmpty(t, frames)
	assert.Equal(t, "&lt;b&gt;&amp; has joined the chat", frames[0].Text)

	connA.Reset()
	require.NoError(t, mh.HandleDisconnect(b))

	frames = connA.Frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "&lt;b&gt;&amp; has left the chat", frames[0].Text)
	assert.NotContains(t, frames[0].Text, "&amp;lt;")
}

func TestMessageHandler_UnnamedLeaveIsSilent(t *testing.T) {
	hub, mh := newTestHub(t)
	_, connA := join(t, mh, "a")
	pending, _ := connect(t, mh)
	connA.Reset()

	require.NoError(t, mh.HandleDisconnect(pending))

	assert.Empty(t, connA.Raw())
	st, err := hub.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Connections)
	assert.Equal(t, 6, st.AvailableColors)
}

func TestMessageHandler_DoubleDisconnectIsNoop(t *testing.T) {
	hub, mh := newTestHub(t)
	_, connA := join(t, mh, "a")
	b, _ := join(t, mh, "b")
	require.NoError(t, mh.HandleDisconnect(b))
	connA.Reset()

	require.NoError(t, mh.HandleDisconnect(b))
	require.NoError(t, mh.HandleDisconnect(99))

	assert.Empty(t, connA.Raw())
	st, err := hub.Stats()
	require.NoError(t, err)
	assert.Equal(t, 6, st.AvailableColors)
}

func TestMessageHandler_MessagesFromUnknownSessionIgnored(t *testing.T) {
	_, mh := newTestHub(t)
	_, connA := join(t, mh, "a")
	connA.Reset()

	require.NoError(t, mh.HandleMessage(42, frame(board.TypeChat, "ghost")))

	assert.Empty(t, connA.Raw())
}

func TestMessageHandler_NoColorAvailable(t *testing.T) {
	m := metrics.New(nil)
	hub, mh := newTestHub(t, WithColors("red"), WithMetrics(m))
	a, _ := join(t, mh, "a")
	b, connB := join(t, mh, "b")

	frames := connB.Frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, board.TypeError, frames[0].Type)
	assert.Equal(t, "No color available", frames[0].DataString(t))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JoinRejections))

	st, err := hub.Stats()
	require.NoError(t, err)
	assert.Len(t, st.Members, 1)
	assert.Equal(t, 2, st.Connections)

	require.NoError(t, mh.HandleDisconnect(a))
	connB.Reset()
	require.NoError(t, mh.HandleMessage(b, frame("name", "b")))

	frames = connB.Frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, board.TypeColor, frames[0].Type)
	assert.Equal(t, "red", frames[0].DataString(t))
}

func TestMessageHandler_WaiterLeavesBeforeSnapshot(t *testing.T) {
	hub, mh := newTestHub(t)
	x, _ := join(t, mh, "x")
	y, _ := join(t, mh, "y")
	_, connZ := join(t, mh, "z")

	require.NoError(t, mh.HandleDisconnect(y))

	st, err := hub.Stats()
	require.NoError(t, err)
	assert.NotContains(t, st.CanvasWaiting, y)

	require.NoError(t, mh.HandleBinary(x, []byte("snap")))
	assert.Equal(t, [][]byte{[]byte("snap")}, connZ.Binary())
}

func TestMessageHandler_CanvasTimeout(t *testing.T) {
	m := metrics.New(nil)
	hub, mh := newTestHub(t, WithCanvasTimeout(20*time.Millisecond), WithMetrics(m))
	join(t, mh, "x")
	_, connY := join(t, mh, "y")

	require.Eventually(t, func() bool {
		return count(connY.Types(t), board.TypeCanvasUnavailable) == 1
	}, 2*time.Second, 10*time.Millisecond)

	st, err := hub.Stats()
	require.NoError(t, err)
	assert.Empty(t, st.CanvasWaiting)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CanvasTimeouts))
}

func TestMessageHandler_CanvasAnsweredBeforeTimeout(t *testing.T) {
	_, mh := newTestHub(t, WithCanvasTimeout(30*time.Millisecond))
	x, _ := join(t, mh, "x")
	_, connY := join(t, mh, "y")

	require.NoError(t, mh.HandleBinary(x, []byte("snap")))
	time.Sleep(80 * time.Millisecond)

	assert.NotContains(t, connY.Types(t), board.TypeCanvasUnavailable)
	assert.Len(t, connY.Binary(), 1)
}

func TestMessageHandler_AuditEvents(t *testing.T) {
	sink := &MockAuditSink{}
	sink.On("SessionJoined", 0, "x", "red").Once()
	sink.On("SessionJoined", 1, "y", "green").Once()
	sink.On("CanvasRelayed", 0, []int{1}, 4).Once()
	sink.On("SessionLeft", 1, "y", "green").Once()

	_, mh := newTestHub(t, WithAuditSink(sink))
	x, _ := join(t, mh, "x")
	y, _ := join(t, mh, "y")
	require.NoError(t, mh.HandleBinary(x, []byte("snap")))
	require.NoError(t, mh.HandleDisconnect(y))

	sink.AssertExpectations(t)
	sink.AssertNotCalled(t, "CanvasExpired", mock.Anything)
}

func count(items []string, want string) int {
	n := 0
	for _, item := range items {
		if item == want {
			n++
		}
	}
	return n
}
