package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-chat-api/internal/models"
)

const sqlitePrefix = "sqlite://"

const slowQueryThreshold = 200 * time.Millisecond

// Connect opens the relational store. DSNs prefixed with sqlite:// open a local SQLite file,
// everything else is handed to the PostgreSQL driver. GORM warnings go to log.
func Connect(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn must not be empty")
	}

	cfg := &gorm.Config{
		Logger:         newGormLogger(log),
		TranslateError: true,
	}

	if strings.HasPrefix(dsn, sqlitePrefix) {
		db, err := gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix)), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return db, nil
	}

	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the chat schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Message{},
		&models.Group{},
		&models.GroupMember{},
		&models.Reaction{},
		&models.UploadRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// gormWriter forwards GORM's slow query and error lines at warn level.
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn().Msgf(format, args...)
}

// newGormLogger reports slow queries and failures. Missing rows are an expected outcome of
// lookups and are not logged.
func newGormLogger(log zerolog.Logger) logger.Interface {
	return logger.New(gormWriter{log: log.With().Str("component", "gorm").Logger()}, logger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
