package websocket

import (
	"context"
	"sync"
	"time"

	"realtime-board/internal/canvas"
	"realtime-board/internal/colors"
	"realtime-board/internal/history"
	"realtime-board/internal/metrics"
	"realtime-board/internal/session"
	"realtime-board/pkg/board"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrHubStopped is returned when an event is submitted after Run returned.
var ErrHubStopped = errors.New("hub stopped")

// DefaultCanvasTimeout bounds how long newcomers wait for a canvas snapshot.
const DefaultCanvasTimeout = 30 * time.Second

// noSession never matches a session id.
const noSession = -1

// AuditSink receives session lifecycle events. Implementations must not
// block; they are called from the hub goroutine.
type AuditSink interface {
	SessionJoined(id int, name, color string)
	SessionLeft(id int, name, color string)
	CanvasRelayed(from int, recipients []int, size int)
	CanvasExpired(waiters []int)
}

type nopAudit struct{}

func (nopAudit) SessionJoined(int, string, string) {}
func (nopAudit) SessionLeft(int, string, string)   {}
func (nopAudit) CanvasRelayed(int, []int, int)     {}
func (nopAudit) CanvasExpired([]int)               {}

// Hub owns the session registry, the color pool, the chat history and the
// canvas wait set. A single goroutine (Run) applies every change, one event
// at a time; other goroutines submit closures and wait for them to finish.
type Hub struct {
	sessions *session.Registry
	pool     *colors.Pool
	history  *history.Ring
	canvas   *canvas.Relay

	inbox    chan func()
	stopped  chan struct{}
	stopOnce sync.Once

	palette       []string
	historySize   int
	strictCanvas  bool
	skipWaiting   bool
	canvasTimeout time.Duration
	now           func() time.Time
	audit         AuditSink
	metrics       *metrics.Metrics
	logger        logrus.FieldLogger
}

// HubCfg configures a Hub.
type HubCfg func(*Hub) error

// WithColors sets the color palette.
func WithColors(palette ...string) HubCfg {
	return func(h *Hub) error {
		if len(palette) == 0 {
			return errors.New("color palette is empty")
		}
		h.palette = palette
		return nil
	}
}

// WithHistorySize sets how many chat envelopes are replayed to newcomers.
func WithHistorySize(size int) HubCfg {
	return func(h *Hub) error {
		if size < 1 {
			return errors.Errorf("history size must be positive, got %d", size)
		}
		h.historySize = size
		return nil
	}
}

// WithStrictCanvasSource only accepts canvas snapshots from sessions that
// were asked for one.
func WithStrictCanvasSource(strict bool) HubCfg {
	return func(h *Hub) error {
		h.strictCanvas = strict
		return nil
	}
}

// WithSkipWaitingCanvasSource asks the first session that is not itself
// waiting for a snapshot, instead of simply the first session.
func WithSkipWaitingCanvasSource(skip bool) HubCfg {
	return func(h *Hub) error {
		h.skipWaiting = skip
		return nil
	}
}

// WithCanvasTimeout sets how long newcomers wait for a snapshot before they
// are told none is coming. Zero waits forever.
func WithCanvasTimeout(d time.Duration) HubCfg {
	return func(h *Hub) error {
		if d < 0 {
			return errors.Errorf("canvas timeout must not be negative, got %s", d)
		}
		h.canvasTimeout = d
		return nil
	}
}

// WithAuditSink sets the receiver of lifecycle events.
func WithAuditSink(sink AuditSink) HubCfg {
	return func(h *Hub) error {
		if sink == nil {
			sink = nopAudit{}
		}
		h.audit = sink
		return nil
	}
}

// WithMetrics sets the collectors the hub reports to.
func WithMetrics(m *metrics.Metrics) HubCfg {
	return func(h *Hub) error {
		if m == nil {
			return errors.New("metrics must not be nil")
		}
		h.metrics = m
		return nil
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger logrus.FieldLogger) HubCfg {
	return func(h *Hub) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		h.logger = logger
		return nil
	}
}

// WithClock sets the time source used to stamp envelopes.
func WithClock(now func() time.Time) HubCfg {
	return func(h *Hub) error {
		h.now = now
		return nil
	}
}

// NewHub creates a hub. Call Run before submitting events.
func NewHub(cfgs ...HubCfg) (*Hub, error) {
	h := &Hub{
		inbox:         make(chan func()),
		stopped:       make(chan struct{}),
		palette:       colors.Default,
		historySize:   history.DefaultSize,
		canvasTimeout: DefaultCanvasTimeout,
		now:           time.Now,
		audit:         nopAudit{},
		logger:        logrus.StandardLogger(),
	}
	for _, cfg := range cfgs {
		if err := cfg(h); err != nil {
			return nil, errors.Wrap(err, "apply Hub cfg failed")
		}
	}
	if h.metrics == nil {
		h.metrics = metrics.New(nil)
	}

	h.pool = colors.NewPool(h.palette...)
	if h.pool.Len() == 0 {
		return nil, errors.New("color palette has no usable colors")
	}
	h.sessions = session.NewRegistry(h.pool)
	h.history = history.NewRing(h.historySize)
	h.canvas = canvas.NewRelay(h.strictCanvas)
	h.canvas.SetSkipWaiting(h.skipWaiting)
	return h, nil
}

// Run processes submitted events until ctx is cancelled. It must be called
// exactly once, in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.stopped) })
	h.logger.Info("hub started")
	for {
		select {
		case fn := <-h.inbox:
			h.exec(fn)
		case <-ctx.Done():
			h.logger.WithField("sessions", h.sessions.Len()).Info("hub stopped")
			return
		}
	}
}

func (h *Hub) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithField("panic", r).Error("hub event panicked")
		}
	}()
	fn()
}

// do runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) do(fn func()) error {
	done := make(chan struct{})
	select {
	case h.inbox <- func() {
		defer close(done)
		fn()
	}:
	case <-h.stopped:
		return ErrHubStopped
	}
	<-done
	return nil
}

// broadcast sends an envelope built from the arguments to every named
// session, the author included. Chat envelopes are kept in history.
func (h *Hub) broadcast(kind, authorName, authorColor, rawText string) board.Envelope {
	env := board.NewEnvelope(kind, authorName, authorColor, rawText, h.now().UnixMilli())
	h.fanOut(env, noSession)

	if kind == board.TypeChat {
		h.history.Append(env)
		h.metrics.Broadcasts.WithLabelValues(metrics.ClassChat).Inc()
	} else {
		h.metrics.Broadcasts.WithLabelValues(metrics.ClassCustom).Inc()
	}
	return env
}

// broadcastSystem sends a notice from the system author to every named
// session except the one with id except. text must already be escaped.
// Notices travel as chat envelopes but are never kept in history.
//
// Display names are escaped once, when the session joins, and go into text
// unchanged: a name "<b>" reads "&lt;b&gt; has left the chat", never
// "&amp;lt;b&amp;gt; has left the chat".
func (h *Hub) broadcastSystem(text string, except int) board.Envelope {
	env := board.Envelope{
		Type:   board.TypeChat,
		Time:   h.now().UnixMilli(),
		Text:   text,
		Author: board.SystemAuthor,
		Color:  board.SystemColor,
	}
	h.fanOut(env, except)
	h.metrics.Broadcasts.WithLabelValues(metrics.ClassSystem).Inc()
	return env
}

// fanOut serializes env once and writes the same bytes to every recipient.
func (h *Hub) fanOut(env board.Envelope, except int) {
	payload, err := env.Marshal()
	if err != nil {
		h.logger.WithError(err).WithField("type", env.Type).Error("marshal envelope failed")
		return
	}
	for _, s := range h.sessions.Members() {
		if s.ID == except {
			continue
		}
		h.send(s, payload)
	}
}

// send writes a text frame to one session. A failure is logged and counted
// but never stops the caller's loop.
func (h *Hub) send(s *session.Session, payload []byte) {
	if err := s.Conn.Write(payload); err != nil {
		h.metrics.SendFailures.Inc()
		h.logger.WithError(err).WithField("session_id", s.ID).Warn("write to session failed")
	}
}

func (h *Hub) sendMessage(s *session.Session, msg board.Message) {
	payload, err := msg.Marshal()
	if err != nil {
		h.logger.WithError(err).WithField("type", msg.Type).Error("marshal message failed")
		return
	}
	h.send(s, payload)
}

func (h *Hub) sendBinary(s *session.Session, data []byte) bool {
	if err := s.Conn.WriteBinary(data); err != nil {
		h.metrics.SendFailures.Inc()
		h.logger.WithError(err).WithField("session_id", s.ID).Warn("binary write to session failed")
		return false
	}
	return true
}

// armCanvasTimeout schedules expiry of the canvas request that returned
// generation. The timer goes through the inbox like any other event.
func (h *Hub) armCanvasTimeout(generation uint64) {
	if h.canvasTimeout <= 0 {
		return
	}
	time.AfterFunc(h.canvasTimeout, func() {
		_ = h.do(func() { h.expireCanvas(generation) })
	})
}

func (h *Hub) expireCanvas(generation uint64) {
	waiters := h.canvas.Expire(generation)
	if len(waiters) == 0 {
		return
	}
	h.logger.WithField("waiters", waiters).Warn("canvas request timed out")
	h.metrics.CanvasTimeouts.Inc()
	for _, id := range waiters {
		if s, ok := h.sessions.Get(id); ok {
			h.sendMessage(s, board.CanvasUnavailableMessage())
		}
	}
	h.audit.CanvasExpired(waiters)
}

func (h *Hub) updateGauges() {
	h.metrics.Sessions.Set(float64(h.sessions.Len()))
	h.metrics.Members.Set(float64(h.sessions.NamedLen()))
}

// SessionInfo describes one named session.
type SessionInfo struct {
	ID          int
	Name        string
	Color       string
	ConnectedAt time.Time
	JoinedAt    time.Time
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections     int
	Members         []SessionInfo
	HistoryLen      int
	CanvasWaiting   []int
	AvailableColors int
}

// Stats returns a consistent snapshot taken on the hub goroutine.
func (h *Hub) Stats() (Stats, error) {
	var st Stats
	err := h.do(func() {
		members := h.sessions.Members()
		st.Connections = h.sessions.Len()
		st.Members = make([]SessionInfo, 0, len(members))
		for _, s := range members {
			st.Members = append(st.Members, SessionInfo{
				ID:          s.ID,
				Name:        s.Name,
				Color:       s.Color,
				ConnectedAt: s.ConnectedAt,
				JoinedAt:    s.JoinedAt,
			})
		}
		st.HistoryLen = h.history.Len()
		st.CanvasWaiting = h.canvas.Waiting()
		st.AvailableColors = h.pool.Len()
	})
	return st, err
}

// SessionIDs returns every registered session id in ascending order.
func (h *Hub) SessionIDs() ([]int, error) {
	var ids []int
	err := h.do(func() { ids = h.sessions.AllSessionIDs() })
	return ids, err
}

// History returns the retained chat envelopes, oldest first.
func (h *Hub) History() ([]board.Envelope, error) {
	var envs []board.Envelope
	err := h.do(func() { envs = h.history.Snapshot() })
	return envs, err
}
