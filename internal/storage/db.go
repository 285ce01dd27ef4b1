package storage

import (
	"realtime-board/internal/audit"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DBPath = "board-audit.db"
)

// Connect opens the audit database at path and migrates it. sqlite allows a
// single writer, so the pool is limited to one connection; this also keeps
// ":memory:" databases shared between goroutines.
func Connect(path string) (*gorm.DB, error) {
	return connect(path, migrate)
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&audit.AuditLog{})
}

// connect closes the opened handle whenever it fails after gorm.Open.
func connect(path string, migrate func(*gorm.DB) error) (*gorm.DB, error) {
	if path == "" {
		path = DBPath
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open audit database failed")
	}

	sqlDB, err := db.DB()
	if err != nil {
		if c, ok := db.ConnPool.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return nil, errors.Wrap(err, "get sql database failed")
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "migrate audit database failed")
	}

	return db, nil
}

// Close releases the database handle.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql database failed")
	}
	return sqlDB.Close()
}
