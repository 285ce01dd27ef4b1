package websocket

import (
	"realtime-board/internal/canvas"
	"realtime-board/internal/session"
	"realtime-board/pkg/board"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Frame kinds for the inbound frame counter.
const (
	frameText   = "text"
	frameBinary = "binary"
)

// MessageHandler turns connection events into hub state changes. Every
// method blocks until the hub has applied the event, so events from one
// connection are applied in the order they arrived.
type MessageHandler struct {
	hub *Hub
}

func NewMessageHandler(hub *Hub) *MessageHandler {
	return &MessageHandler{hub: hub}
}

// HandleConnect registers conn as a new, unnamed session.
func (mh *MessageHandler) HandleConnect(conn session.Conn) (int, error) {
	var id int
	err := mh.hub.do(func() {
		id = mh.hub.sessions.Register(conn)
		mh.hub.updateGauges()
		mh.hub.logger.WithField("session_id", id).Debug("session connected")
	})
	return id, err
}

// HandleMessage processes a text frame.
func (mh *MessageHandler) HandleMessage(id int, payload []byte) error {
	return mh.hub.do(func() { mh.handleText(id, payload) })
}

// HandleBinary processes a binary frame: a canvas snapshot.
func (mh *MessageHandler) HandleBinary(id int, payload []byte) error {
	return mh.hub.do(func() { mh.handleCanvas(id, payload) })
}

// HandleDisconnect removes the session. Unknown ids are ignored.
func (mh *MessageHandler) HandleDisconnect(id int) error {
	return mh.hub.do(func() { mh.handleLeave(id) })
}

func (mh *MessageHandler) handleText(id int, payload []byte) {
	h := mh.hub
	h.metrics.InboundFrames.WithLabelValues(frameText).Inc()

	s, ok := h.sessions.Get(id)
	if !ok {
		h.logger.WithField("session_id", id).Warn("text frame from unknown session")
		return
	}
	logger := h.logger.WithField("session_id", id)

	frame, err := board.DecodeFrame(payload)
	if err != nil {
		h.metrics.InvalidFrames.Inc()
		logger.WithError(err).WithField("payload", string(payload)).Info("bad message received")
		h.sendMessage(s, board.ErrorMessage(board.ErrTextInvalidJSON))
		return
	}

	switch msg := frame.Classify(s.Named()).(type) {
	case board.JoinRequest:
		mh.handleJoin(s, msg)
	case board.ChatMessage:
		h.broadcast(board.TypeChat, s.Name, s.Color, msg.Text)
	case board.CustomMessage:
		h.broadcast(msg.Type, s.Name, s.Color, msg.Data)
	}
}

func (mh *MessageHandler) handleJoin(s *session.Session, req board.JoinRequest) {
	h := mh.hub
	joined, err := h.sessions.CompleteJoin(s.ID, req.Name)
	if err != nil {
		logger := h.logger.WithField("session_id", s.ID)
		if errors.Is(err, session.ErrNoColorAvailable) {
			h.metrics.JoinRejections.Inc()
			logger.Warn("join rejected, no color available")
			h.sendMessage(s, board.ErrorMessage(board.ErrTextNoColor))
			return
		}
		logger.WithError(err).Error("complete join failed")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"session_id": joined.ID,
		"name":       joined.Name,
		"color":      joined.Color,
	}).Info("session joined")

	h.broadcastSystem(joined.Name+" has joined the chat", joined.ID)
	h.sendMessage(joined, board.ColorMessage(joined.Color))
	if backlog := h.history.Snapshot(); len(backlog) > 0 {
		h.sendMessage(joined, board.HistoryMessage(backlog))
	}
	mh.requestCanvas(joined)

	h.updateGauges()
	h.audit.SessionJoined(joined.ID, joined.Name, joined.Color)
}

// requestCanvas asks an existing session for a snapshot on behalf of
// newcomer. The first session to join has nobody to ask.
func (mh *MessageHandler) requestCanvas(newcomer *session.Session) {
	h := mh.hub
	members := h.sessions.Members()
	ids := make([]int, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}

	sourceID, ok := h.canvas.PickSource(ids, newcomer.ID)
	if !ok {
		return
	}
	source, _ := h.sessions.Get(sourceID)
	h.sendMessage(source, board.CanvasRequest())
	generation := h.canvas.Request(newcomer.ID, sourceID)
	h.armCanvasTimeout(generation)
	h.metrics.CanvasRequests.Inc()

	h.logger.WithFields(logrus.Fields{
		"session_id": newcomer.ID,
		"source_id":  sourceID,
	}).Debug("canvas requested")
}

func (mh *MessageHandler) handleCanvas(from int, data []byte) {
	h := mh.hub
	h.metrics.InboundFrames.WithLabelValues(frameBinary).Inc()
	logger := h.logger.WithFields(logrus.Fields{"session_id": from, "size": len(data)})

	waiters, err := h.canvas.Complete(from)
	switch {
	case errors.Is(err, canvas.ErrNoWaiters):
		logger.Debug("canvas snapshot with nobody waiting dropped")
		return
	case errors.Is(err, canvas.ErrUnsolicitedSnapshot):
		logger.Warn("unsolicited canvas snapshot dropped")
		return
	case err != nil:
		logger.WithError(err).Error("complete canvas request failed")
		return
	}

	delivered := make([]int, 0, len(waiters))
	for _, id := range waiters {
		s, ok := h.sessions.Get(id)
		if !ok {
			continue
		}
		if h.sendBinary(s, data) {
			delivered = append(delivered, id)
			h.metrics.CanvasBytes.Add(float64(len(data)))
		}
	}
	h.metrics.CanvasRelays.Inc()
	logger.WithField("recipients", delivered).Info("canvas relayed")
	h.audit.CanvasRelayed(from, delivered, len(data))
}

func (mh *MessageHandler) handleLeave(id int) {
	h := mh.hub
	s, ok := h.sessions.Remove(id)
	if !ok {
		h.logger.WithField("session_id", id).Debug("disconnect for unknown session ignored")
		return
	}
	h.canvas.Forget(id)
	h.updateGauges()

	if !s.Named() {
		h.logger.WithField("session_id", id).Debug("unnamed session disconnected")
		return
	}
	h.logger.WithFields(logrus.Fields{
		"session_id": id,
		"name":       s.Name,
	}).Info("session left")
	h.broadcastSystem(s.Name+" has left the chat", noSession)
	h.audit.SessionLeft(id, s.Name, s.Color)
}
