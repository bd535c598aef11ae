// Package journal keeps a local sqlite record of the failures the agent
// logs and otherwise swallows, for later diagnostics.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Time      time.Time `gorm:"not null;index" json:"time"`
	Level     string    `gorm:"size:8;not null" json:"level"`
	Component string    `gorm:"size:64" json:"component,omitempty"`
	Message   string    `gorm:"not null" json:"message"`
	Error     string    `json:"error,omitempty"`
}

func (Entry) TableName() string {
	return "journal_entries"
}

type Journal struct {
	db *gorm.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// sqlite allows one writer
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Record(e *Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if err := j.db.Create(e).Error; err != nil {
		return errors.Wrap(err, "failed to insert journal entry")
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := j.db.Order("time DESC").Order("id DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query journal")
	}
	return entries, nil
}

// Prune deletes entries older than before and reports how many went.
func (j *Journal) Prune(before time.Time) (int64, error) {
	result := j.db.Where("time < ?", before).Delete(&Entry{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to prune journal")
	}
	return result.RowsAffected, nil
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
