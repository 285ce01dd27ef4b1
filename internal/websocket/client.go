package websocket

import (
	"net/http"
	"time"

	"github.com/olahol/melody"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageSize bounds inbound frames. Canvas snapshots are the
	// largest frames clients send.
	DefaultMaxMessageSize = 8 << 20

	// DefaultMessageBufferSize is the per-session outbound queue length.
	DefaultMessageBufferSize = 256
)

// sessionIDKey stores the hub session id on the melody session.
const sessionIDKey = "session_id"

// TransportConfig tunes the melody transport.
type TransportConfig struct {
	MaxMessageSize    int64
	MessageBufferSize int
}

// NewTransport creates a melody instance with the relay's limits. A zero
// field keeps the package default.
func NewTransport(cfg TransportConfig) *melody.Melody {
	m := melody.New()
	m.Config.WriteWait = writeWait
	m.Config.PongWait = pongWait
	m.Config.PingPeriod = pingPeriod
	m.Config.MaxMessageSize = DefaultMaxMessageSize
	m.Config.MessageBufferSize = DefaultMessageBufferSize
	if cfg.MaxMessageSize > 0 {
		m.Config.MaxMessageSize = cfg.MaxMessageSize
	}
	if cfg.MessageBufferSize > 0 {
		m.Config.MessageBufferSize = cfg.MessageBufferSize
	}
	m.Upgrader.CheckOrigin = func(r *http.Request) bool {
		// The board page may be served from anywhere.
		return true
	}
	return m
}

// Bind routes melody's connection events through handler. melody calls the
// connect, message and disconnect handlers of one connection from that
// connection's read goroutine, in order.
func Bind(m *melody.Melody, handler *MessageHandler, logger logrus.FieldLogger) {
	m.HandleConnect(func(s *melody.Session) {
		id, err := handler.HandleConnect(s)
		if err != nil {
			logger.WithError(err).Warn("register connection failed")
			_ = s.Close()
			return
		}
		s.Set(sessionIDKey, id)
		logger.WithFields(logrus.Fields{
			"session_id":  id,
			"remote_addr": s.Request.RemoteAddr,
			"origin":      s.Request.Header.Get("Origin"),
		}).Info("connection accepted")
	})

	m.HandleMessage(func(s *melody.Session, msg []byte) {
		id, ok := sessionID(s)
		if !ok {
			return
		}
		if err := handler.HandleMessage(id, msg); err != nil {
			logger.WithError(err).WithField("session_id", id).Warn("handle message failed")
		}
	})

	m.HandleMessageBinary(func(s *melody.Session, msg []byte) {
		id, ok := sessionID(s)
		if !ok {
			return
		}
		if err := handler.HandleBinary(id, msg); err != nil {
			logger.WithError(err).WithField("session_id", id).Warn("handle binary message failed")
		}
	})

	m.HandleDisconnect(func(s *melody.Session) {
		id, ok := sessionID(s)
		if !ok {
			return
		}
		if err := handler.HandleDisconnect(id); err != nil {
			logger.WithError(err).WithField("session_id", id).Warn("handle disconnect failed")
			return
		}
		logger.WithField("session_id", id).Info("connection closed")
	})

	m.HandleError(func(s *melody.Session, err error) {
		id, _ := sessionID(s)
		logger.WithError(err).WithField("session_id", id).Debug("websocket error")
	})
}

func sessionID(s *melody.Session) (int, bool) {
	v, ok := s.Get(sessionIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}
