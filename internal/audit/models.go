package audit

import (
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

// AuditLog is one session lifecycle event. Rows are only ever appended.
type AuditLog struct {
	ID          string `gorm:"primaryKey;size:12"`
	RunID       string `gorm:"index;not null"`
	Action      string `gorm:"index;not null"`
	SessionID   int    `gorm:"index"`
	Name        string
	Color       string
	Description string
	Metadata    string
	CreatedAt   time.Time `gorm:"index"`
}

func (l *AuditLog) BeforeCreate(tx *gorm.DB) (err error) {
	if l.ID != "" {
		return nil
	}
	l.ID, err = nanoid.New(12)
	return
}
