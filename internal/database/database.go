package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/settler-hq/settler-edge/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps gorm.DB and remembers the database file path for size reporting
type DB struct {
	*gorm.DB
	path string
}

// Open opens (creating if needed) the embedded SQLite database at path.
// One agent process owns one database file exclusively; the connection pool
// is pinned to a single connection so every store operation completes before
// the next begins, matching the single-writer model.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	log.Printf("📦 Local store opened at %s", path)

	return &DB{DB: db, path: path}, nil
}

// OpenMemory opens a private in-memory database. Used by tests; the size and
// path helpers report a zero-byte store.
func OpenMemory() (*DB, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &DB{DB: db, path: ""}, nil
}

// Migrate synchronizes the schema for all persisted entities
func (db *DB) Migrate() error {
	return db.AutoMigrate(
		&models.LocalJob{},
		&models.LocalCandidate{},
		&models.LocalAnomaly{},
		&models.SyncQueueItem{},
	)
}

// Path returns the database file location
func (db *DB) Path() string {
	return db.path
}

// SizeMB returns the approximate on-disk size of the store in megabytes
func (db *DB) SizeMB() float64 {
	info, err := os.Stat(db.path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1024 * 1024)
}

// Close shuts down the underlying connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
