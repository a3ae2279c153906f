package sync

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rentloop/crmbridge/internal/database"
	"github.com/rentloop/crmbridge/internal/models"
)

// CursorStore tracks the per-entity-type sync position: the pull cursor
// that delta polls resume from, and the last successful push time.
type CursorStore interface {
	Get(entityType string) (*models.PullCursor, error)
	Commit(entityType string, pulledAt time.Time) error
	CommitPush(entityType string, pushedAt time.Time) error
	RecordFailure(entityType string) (int, error)
	All() ([]models.PullCursor, error)
}

// GormCursorStore is the PostgreSQL-backed CursorStore
type GormCursorStore struct {
	db *database.DB
}

func NewGormCursorStore(db *database.DB) *GormCursorStore {
	return &GormCursorStore{db: db}
}

// Get returns the cursor for an entity type, creating a zero cursor on
// first use so the initial poll fetches everything.
func (s *GormCursorStore) Get(entityType string) (*models.PullCursor, error) {
	var cursor models.PullCursor
	err := s.db.Where("entity_type = ?", entityType).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cursor = models.PullCursor{EntityType: entityType}
		if err := s.db.Create(&cursor).Error; err != nil {
			return nil, fmt.Errorf("failed to create pull cursor for %s: %w", entityType, err)
		}
		return &cursor, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

// Commit advances the cursor after a successful poll and clears the
// failure streak. The cursor never moves backwards.
func (s *GormCursorStore) Commit(entityType string, pulledAt time.Time) error {
	return s.db.Model(&models.PullCursor{}).
		Where("entity_type = ? AND (last_pulled_at IS NULL OR last_pulled_at < ?)", entityType, pulledAt).
		Updates(map[string]interface{}{
			"last_pulled_at":       pulledAt,
			"consecutive_failures": 0,
		}).Error
}

// CommitPush records the last successful push for an entity type. The
// timestamp never moves backwards.
func (s *GormCursorStore) CommitPush(entityType string, pushedAt time.Time) error {
	if _, err := s.Get(entityType); err != nil {
		return err
	}
	return s.db.Model(&models.PullCursor{}).
		Where("entity_type = ? AND (last_push_at IS NULL OR last_push_at < ?)", entityType, pushedAt).
		Update("last_push_at", pushedAt).Error
}

// RecordFailure bumps the failure streak and returns the new count
func (s *GormCursorStore) RecordFailure(entityType string) (int, error) {
	err := s.db.Model(&models.PullCursor{}).
		Where("entity_type = ?", entityType).
		Update("consecutive_failures", gorm.Expr("consecutive_failures + 1")).Error
	if err != nil {
		return 0, err
	}
	cursor, err := s.Get(entityType)
	if err != nil {
		return 0, err
	}
	return cursor.ConsecutiveFailures, nil
}

// All returns every cursor for the status surface
func (s *GormCursorStore) All() ([]models.PullCursor, error) {
	var cursors []models.PullCursor
	if err := s.db.Order("entity_type").Find(&cursors).Error; err != nil {
		return nil, err
	}
	return cursors, nil
}
