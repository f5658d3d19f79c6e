// Package sqlite persists draft queues in a local SQLite file, for
// deployments that run without Redis.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jwalitptl/fieldsync/internal/model"
	"github.com/jwalitptl/fieldsync/internal/repository"
)

// draftSnapshot is the whole serialized queue of one user.
type draftSnapshot struct {
	UserID    string `gorm:"primaryKey;size:128"`
	Body      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (draftSnapshot) TableName() string { return "draft_snapshots" }

type DraftStore struct {
	db *gorm.DB
	// SQLite allows one writer; serializing here avoids busy errors between our own goroutines.
	mu sync.Mutex
}

// Open opens (or creates) the database file and migrates the snapshot table.
func Open(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=FULL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if err := db.AutoMigrate(&draftSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate draft snapshots: %w", err)
	}
	return db, nil
}

func NewDraftStore(db *gorm.DB) repository.DraftStore {
	return &DraftStore{db: db}
}

func (s *DraftStore) Load(ctx context.Context, userID string) ([]*model.Draft, error) {
	return load(s.db.WithContext(ctx), userID)
}

func (s *DraftStore) Update(ctx context.Context, userID string, fn func([]*model.Draft) ([]*model.Draft, error)) ([]*model.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored []*model.Draft
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := load(tx, userID)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}

		if len(next) == 0 {
			if err := tx.Delete(&draftSnapshot{}, "user_id = ?", userID).Error; err != nil {
				return err
			}
			stored = next
			return nil
		}

		body, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode drafts: %w", err)
		}
		row := draftSnapshot{UserID: userID, Body: string(body), UpdatedAt: time.Now().UTC()}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		stored = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *DraftStore) Owners(ctx context.Context) ([]string, error) {
	var owners []string
	err := s.db.WithContext(ctx).Model(&draftSnapshot{}).Order("user_id").Pluck("user_id", &owners).Error
	return owners, err
}

func (s *DraftStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func load(db *gorm.DB, userID string) ([]*model.Draft, error) {
	var row draftSnapshot
	err := db.Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read drafts: %w", err)
	}

	var drafts []*model.Draft
	if err := json.Unmarshal([]byte(row.Body), &drafts); err != nil {
		return nil, fmt.Errorf("failed to decode drafts: %w", err)
	}
	return drafts, nil
}
