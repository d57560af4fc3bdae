// Package database manages the sqlite connection behind the session
// journal.
package database

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/caststream/caststream/internal/config"
	"github.com/caststream/caststream/internal/models"
)

// DB wraps the GORM connection.
type DB struct {
	*gorm.DB
	logger *slog.Logger
}

// New opens (creating if needed) the sqlite database and runs migrations.
func New(cfg config.DatabaseConfig, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	gormCfg := &gorm.Config{
		Logger:                 gormLogLevel(cfg.LogLevel),
		SkipDefaultTransaction: true,
	}
	db, err := gorm.Open(sqlite.Open(cfg.Path), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	d := &DB{DB: db, logger: log.With(slog.String("component", "database"))}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	d.logger.Debug("database ready", slog.String("path", cfg.Path))
	return d, nil
}

func (d *DB) migrate() error {
	if err := d.AutoMigrate(&models.SessionRecord{}); err != nil {
		return fmt.Errorf("migrating session records: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormLogLevel(level string) logger.Interface {
	switch level {
	case "info":
		return logger.Default.LogMode(logger.Info)
	case "warn":
		return logger.Default.LogMode(logger.Warn)
	case "error":
		return logger.Default.LogMode(logger.Error)
	default:
		return logger.Default.LogMode(logger.Silent)
	}
}
