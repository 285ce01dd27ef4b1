package api

import (
	"net/http"
	"time"

	"realtime-board/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type WebSocketHandler struct {
	hub    *websocket.Hub
	melody *melody.Melody
	runID  string
	logger logrus.FieldLogger
}

func NewWebSocketHandler(hub *websocket.Hub, m *melody.Melody, runID string, logger logrus.FieldLogger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		melody: m,
		runID:  runID,
		logger: logger,
	}
}

// @Summary WebSocket connection endpoint
// @Description Upgrade HTTP connection to WebSocket for the shared board
// @Tags websocket
// @Success 101 {string} string "Switching Protocols"
// @Failure 400 {object} ErrorResponse "Bad Request"
// @Failure 429 {object} ErrorResponse "Rate limit exceeded"
// @Router /ws [get]
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	if err := h.melody.HandleRequest(c.Writer, c.Request); err != nil {
		h.logger.WithError(err).WithField("remote_addr", c.Request.RemoteAddr).Info("websocket upgrade failed")
		if !c.Writer.Written() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "WebSocket upgrade failed"})
		}
	}
}

// @Summary Get WebSocket connection info
// @Description Get information about connected sessions, history and pending canvas requests
// @Tags websocket
// @Produce json
// @Success 200 {object} WebSocketInfoResponse
// @Failure 503 {object} ErrorResponse "Hub stopped"
// @Router /ws/info [get]
func (h *WebSocketHandler) GetConnectionInfo(c *gin.Context) {
	st, err := h.hub.Stats()
	if err != nil {
		if errors.Is(err, websocket.ErrHubStopped) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Server is shutting down"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read hub state"})
		return
	}

	users := make([]WebSocketUserInfo, 0, len(st.Members))
	for _, m := range st.Members {
		users = append(users, WebSocketUserInfo{
			SessionID:   m.ID,
			Name:        m.Name,
			Color:       m.Color,
			ConnectedAt: m.ConnectedAt.Format(time.RFC3339),
			JoinedAt:    m.JoinedAt.Format(time.RFC3339),
		})
	}

	waiting := st.CanvasWaiting
	if waiting == nil {
		waiting = []int{}
	}

	c.JSON(http.StatusOK, WebSocketInfoResponse{
		TotalConnections: st.Connections,
		ActiveUsers:      users,
		HistoryLength:    st.HistoryLen,
		CanvasWaiting:    waiting,
		AvailableColors:  st.AvailableColors,
		ServerTime:       time.Now().Format(time.RFC3339),
		RunID:            h.runID,
	})
}

type WebSocketInfoResponse struct {
	TotalConnections int                 `json:"total_connections"`
	ActiveUsers      []WebSocketUserInfo `json:"active_users"`
	HistoryLength    int                 `json:"history_length"`
	CanvasWaiting    []int               `json:"canvas_waiting"`
	AvailableColors  int                 `json:"available_colors"`
	ServerTime       string              `json:"server_time"`
	RunID            string              `json:"run_id"`
}

type WebSocketUserInfo struct {
	SessionID   int    `json:"session_id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	ConnectedAt string `json:"connected_at"`
	JoinedAt    string `json:"joined_at"`
}

type ErrorResponse struct {
	Error string `json:"error" example:"Bad request"`
}
