package database

import (
	"fmt"

	"github.com/collabroom/backend/internal/files"
	"github.com/collabroom/backend/internal/messages"
	"github.com/collabroom/backend/internal/rooms"
	"github.com/collabroom/backend/internal/tasks"
	"github.com/collabroom/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// A failure here is fatal at process startup: the entity store is the
// single source of truth and the server cannot run without it.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate applies the schema for all persisted entities.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&users.User{},
		&rooms.Room{},
		&rooms.Member{},
		&tasks.Task{},
		&messages.Message{},
		&files.File{},
	)
}
