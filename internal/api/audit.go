package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	a "realtime-board/internal/audit"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AuditHandlers struct {
	service *a.AuditService
	logger  logrus.FieldLogger
}

func NewAuditHandlers(service *a.AuditService, logger logrus.FieldLogger) *AuditHandlers {
	return &AuditHandlers{
		service: service,
		logger:  logger,
	}
}

type AuditLogResponse struct {
	ID          string                 `json:"id" example:"V1StGXR8_Z5j"`
	RunID       string                 `json:"run_id" example:"3f1c..."`
	Action      string                 `json:"action" example:"SESSION_JOIN"`
	SessionID   int                    `json:"session_id" example:"3"`
	Name        string                 `json:"name,omitempty" example:"alice"`
	Color       string                 `json:"color,omitempty" example:"red"`
	Description string                 `json:"description" example:"Joined as 'alice' with color red"`
	Metadata    map[string]interface{} `json:"metadata"`
	CreatedAt   string                 `json:"created_at" example:"2023-01-01T00:00:00Z"`
}

type AuditLogsResponse struct {
	Logs  []AuditLogResponse `json:"logs"`
	Total int64              `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}

// GetAuditLogsHandler gets audit logs with filtering options
// @Summary Get audit logs with filtering
// @Description Get the session lifecycle audit trail, newest first. Defaults to the current run.
// @Tags Audit Logs
// @Produce json
// @Param run_id query string false "Filter by run ID, 'all' for every run"
// @Param action query string false "Filter by action type"
// @Param page query int false "Page number (default: 1)"
// @Param limit query int false "Number of results per page (default: 20, max: 100)"
// @Success 200 {object} AuditLogsResponse "Audit logs retrieved successfully"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /audit [get]
func (h *AuditHandlers) GetAuditLogsHandler(c *gin.Context) {
	page, limit := parsePagination(c)

	runID := c.DefaultQuery("run_id", h.service.RunID())
	var runFilter *string
	if runID != "all" {
		runFilter = &runID
	}
	var actionFilter *string
	if action := c.Query("action"); action != "" {
		actionFilter = &action
	}

	logs, total, err := h.service.GetAuditLogs(runFilter, actionFilter, limit, (page-1)*limit)
	if err != nil {
		h.logger.WithError(err).Error("get audit logs failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to retrieve audit logs"})
		return
	}

	auditLogs := make([]AuditLogResponse, 0, len(logs))
	for _, log := range logs {
		auditLogs = append(auditLogs, toAuditLogResponse(log))
	}

	c.JSON(http.StatusOK, AuditLogsResponse{
		Logs:  auditLogs,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func parsePagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func toAuditLogResponse(log a.AuditLog) AuditLogResponse {
	metadata := map[string]interface{}{}
	if log.Metadata != "" {
		if err := json.Unmarshal([]byte(log.Metadata), &metadata); err != nil {
			metadata = map[string]interface{}{}
		}
	}

	return AuditLogResponse{
		ID:          log.ID,
		RunID:       log.RunID,
		Action:      log.Action,
		SessionID:   log.SessionID,
		Name:        log.Name,
		Color:       log.Color,
		Description: log.Description,
		Metadata:    metadata,
		CreatedAt:   log.CreatedAt.Format(time.RFC3339),
	}
}
