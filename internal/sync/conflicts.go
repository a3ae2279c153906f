package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/rentloop/crmbridge/internal/database"
	"github.com/rentloop/crmbridge/internal/models"
)

// ConflictStore persists detector findings and resolver outcomes
type ConflictStore interface {
	RecordResolved(entityType, localID, field string, localVal, remoteVal interface{}, res Resolution) error
	RecordManualReview(entityType, localID, field string, localVal, remoteVal interface{}, severity string) error
	RecordDuplicate(entityType, localID, duplicateLocalID string, score float64, status string) error
	PendingFields(entityType, localID string) ([]string, error)
	ResolveManually(id uint, chosenValue interface{}, resolvedBy string) (*models.SyncConflict, error)
	List(status string, limit int) ([]models.SyncConflict, error)
}

// GormConflictStore is the PostgreSQL-backed ConflictStore
type GormConflictStore struct {
	db *database.DB
}

func NewGormConflictStore(db *database.DB) *GormConflictStore {
	return &GormConflictStore{db: db}
}

func toJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// RecordResolved stores an automatically resolved field conflict for the
// audit trail. The sync itself proceeds with res.Value.
func (s *GormConflictStore) RecordResolved(entityType, localID, field string, localVal, remoteVal interface{}, res Resolution) error {
	now := time.Now().UTC()
	conflict := models.SyncConflict{
		ConflictType:       models.ConflictTypeField,
		EntityType:         entityType,
		LocalID:            localID,
		Field:              field,
		LocalValue:         toJSON(localVal),
		RemoteValue:        toJSON(remoteVal),
		ResolutionStrategy: string(res.Strategy),
		ResolutionReason:   res.Reason,
		ResolvedValue:      toJSON(res.Value),
		Status:             models.ConflictAutoResolved,
		ResolvedAt:         &now,
	}
	return s.db.Create(&conflict).Error
}

// RecordManualReview suspends a field pending operator review. At most one
// pending conflict per (entity, field) is kept open.
func (s *GormConflictStore) RecordManualReview(entityType, localID, field string, localVal, remoteVal interface{}, severity string) error {
	var existing models.SyncConflict
	err := s.db.Where(
		"entity_type = ? AND local_id = ? AND field = ? AND status = ?",
		entityType, localID, field, models.ConflictManualReview,
	).First(&existing).Error
	if err == nil {
		// Refresh the values so the operator sees the latest divergence
		return s.db.Model(&existing).Updates(map[string]interface{}{
			"local_value":  toJSON(localVal),
			"remote_value": toJSON(remoteVal),
			"severity":     severity,
		}).Error
	}

	if severity == "" {
		severity = "normal"
	}
	conflict := models.SyncConflict{
		ConflictType:       models.ConflictTypeField,
		EntityType:         entityType,
		LocalID:            localID,
		Field:              field,
		LocalValue:         toJSON(localVal),
		RemoteValue:        toJSON(remoteVal),
		Severity:           severity,
		ResolutionStrategy: string(StrategyManualReview),
		Status:             models.ConflictManualReview,
	}
	return s.db.Create(&conflict).Error
}

// RecordDuplicate stores a suspected or confirmed duplicate entity pair
func (s *GormConflictStore) RecordDuplicate(entityType, localID, duplicateLocalID string, score float64, status string) error {
	conflict := models.SyncConflict{
		ConflictType:     models.ConflictTypeDuplicate,
		EntityType:       entityType,
		LocalID:          localID,
		DuplicateLocalID: &duplicateLocalID,
		SimilarityScore:  &score,
		Status:           status,
	}
	if status == models.ConflictAutoResolved {
		now := time.Now().UTC()
		conflict.ResolvedAt = &now
		conflict.ResolutionReason = "similarity above auto-merge threshold"
	}
	return s.db.Create(&conflict).Error
}

// PendingFields returns the fields of an entity currently suspended from
// syncing by an open manual review.
func (s *GormConflictStore) PendingFields(entityType, localID string) ([]string, error) {
	var fields []string
	err := s.db.Model(&models.SyncConflict{}).
		Where("entity_type = ? AND local_id = ? AND conflict_type = ? AND status = ?",
			entityType, localID, models.ConflictTypeField, models.ConflictManualReview).
		Pluck("field", &fields).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending conflict fields: %w", err)
	}
	return fields, nil
}

// ResolveManually applies an operator decision to a pending conflict
func (s *GormConflictStore) ResolveManually(id uint, chosenValue interface{}, resolvedBy string) (*models.SyncConflict, error) {
	var conflict models.SyncConflict
	if err := s.db.First(&conflict, id).Error; err != nil {
		return nil, fmt.Errorf("conflict %d not found: %w", id, err)
	}
	if conflict.Status != models.ConflictManualReview && conflict.Status != models.ConflictPending {
		return nil, fmt.Errorf("conflict %d is already %s", id, conflict.Status)
	}

	now := time.Now().UTC()
	err := s.db.Model(&conflict).Updates(map[string]interface{}{
		"resolved_value": toJSON(chosenValue),
		"status":         models.ConflictResolved,
		"resolved_at":    now,
		"resolved_by":    resolvedBy,
	}).Error
	if err != nil {
		return nil, err
	}
	conflict.ResolvedValue = toJSON(chosenValue)
	conflict.Status = models.ConflictResolved
	conflict.ResolvedAt = &now
	conflict.ResolvedBy = &resolvedBy
	return &conflict, nil
}

// List returns conflicts filtered by status, newest first
func (s *GormConflictStore) List(status string, limit int) ([]models.SyncConflict, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := s.db.Order("created_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var conflicts []models.SyncConflict
	if err := query.Find(&conflicts).Error; err != nil {
		return nil, err
	}
	return conflicts, nil
}
