package audit

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// AuditService writes and reads the audit trail of one server run.
type AuditService struct {
	db    *gorm.DB
	runID string
}

func NewAuditService(db *gorm.DB, runID string) *AuditService {
	return &AuditService{db: db, runID: runID}
}

// Action constants for audit logging
const (
	ActionSessionJoin   = "SESSION_JOIN"
	ActionSessionLeave  = "SESSION_LEAVE"
	ActionCanvasRelay   = "CANVAS_RELAY"
	ActionCanvasExpired = "CANVAS_EXPIRED"
)

type AuditMetadata struct {
	Recipients []int `json:"recipients,omitempty"`
	Waiters    []int `json:"waiters,omitempty"`
	Size       int   `json:"size,omitempty"`
}

// RunID identifies the server run the service writes for.
func (s *AuditService) RunID() string {
	return s.runID
}

// LogSessionJoin logs when a session completes its join
func (s *AuditService) LogSessionJoin(sessionID int, name, color string) error {
	return s.create(AuditLog{
		Action:      ActionSessionJoin,
		SessionID:   sessionID,
		Name:        name,
		Color:       color,
		Description: "Joined as '" + name + "' with color " + color,
		Metadata:    "{}",
	})
}

// LogSessionLeave logs when a named session disconnects
func (s *AuditService) LogSessionLeave(sessionID int, name, color string) error {
	return s.create(AuditLog{
		Action:      ActionSessionLeave,
		SessionID:   sessionID,
		Name:        name,
		Color:       color,
		Description: "Left, color " + color + " returned to the pool",
		Metadata:    "{}",
	})
}

// LogCanvasRelay logs a canvas snapshot handed to waiting sessions
func (s *AuditService) LogCanvasRelay(from int, recipients []int, size int) error {
	metadata := AuditMetadata{
		Recipients: recipients,
		Size:       size,
	}
	metadataJSON, _ := json.Marshal(metadata)

	return s.create(AuditLog{
		Action:      ActionCanvasRelay,
		SessionID:   from,
		Description: fmt.Sprintf("Relayed %d byte canvas to %d sessions", size, len(recipients)),
		Metadata:    string(metadataJSON),
	})
}

// LogCanvasExpired logs a canvas request nobody answered in time
func (s *AuditService) LogCanvasExpired(waiters []int) error {
	metadata := AuditMetadata{
		Waiters: waiters,
	}
	metadataJSON, _ := json.Marshal(metadata)

	return s.create(AuditLog{
		Action:      ActionCanvasExpired,
		SessionID:   -1,
		Description: fmt.Sprintf("Canvas request expired for %d sessions", len(waiters)),
		Metadata:    string(metadataJSON),
	})
}

func (s *AuditService) create(entry AuditLog) error {
	entry.RunID = s.runID
	if err := s.db.Create(&entry).Error; err != nil {
		return errors.Wrapf(err, "create %s audit log failed", entry.Action)
	}
	return nil
}

// GetAuditLogs retrieves audit logs with pagination and filtering, newest first
func (s *AuditService) GetAuditLogs(runID *string, action *string, limit, offset int) ([]AuditLog, int64, error) {
	filtered := func() *gorm.DB {
		query := s.db.Model(&AuditLog{})
		if runID != nil {
			query = query.Where("run_id = ?", *runID)
		}
		if action != nil {
			query = query.Where("action = ?", *action)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count audit logs failed")
	}

	var logs []AuditLog
	err := filtered().
		Order("created_at DESC").
		Order("id").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "find audit logs failed")
	}

	return logs, total, nil
}
