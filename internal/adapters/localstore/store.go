// Package localstore implements the local side of the bridge on the
// shared PostgreSQL database.
package localstore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentloop/crmbridge/internal/database"
	"github.com/rentloop/crmbridge/internal/models"
	"github.com/rentloop/crmbridge/internal/sync"
)

// Store is the gorm-backed local entity store
type Store struct {
	db *database.DB
}

// NewStore creates a local store on the shared database
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Current returns an entity's present field values, or nil when absent
func (s *Store) Current(entityType, localID string) (map[string]interface{}, error) {
	var record models.LocalRecord
	err := s.db.Where("entity_type = ? AND local_id = ?", entityType, localID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}(record.Fields), nil
}

// Apply overlays field values onto an existing entity
func (s *Store) Apply(entityType, localID string, fields map[string]interface{}) error {
	var record models.LocalRecord
	err := s.db.Where("entity_type = ? AND local_id = ?", entityType, localID).First(&record).Error
	if err != nil {
		return fmt.Errorf("local %s:%s not found: %w", entityType, localID, err)
	}

	merged := make(map[string]interface{}, len(record.Fields)+len(fields))
	for k, v := range record.Fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return s.db.Model(&record).Update("fields", models.JSONB(merged)).Error
}

// CreateLocal makes a new entity and returns its generated identifier
func (s *Store) CreateLocal(entityType string, fields map[string]interface{}) (string, error) {
	record := models.LocalRecord{
		EntityType: entityType,
		LocalID:    uuid.New().String(),
		Fields:     models.JSONB(fields),
	}
	if err := s.db.Create(&record).Error; err != nil {
		return "", fmt.Errorf("failed to create local %s: %w", entityType, err)
	}
	return record.LocalID, nil
}

// FindSimilar returns duplicate candidates keyed by local id. Email and
// phone are compared in normalized form, matching the scorer; when neither
// is present the most recently touched records of the type are scored
// instead. The prefilter may be broader than the scorer, never narrower.
func (s *Store) FindSimilar(entityType string, fields map[string]interface{}) (map[string]map[string]interface{}, error) {
	var records []models.LocalRecord

	email, phone := similarityKeys(fields)

	// Stored phones are reduced to digits in SQL; comparing the last ten
	// digits tolerates a stored country prefix.
	const phoneMatch = `RIGHT(regexp_replace(COALESCE(fields->>'phone', ''), '\D', '', 'g'), 10) = RIGHT(?, 10)`

	query := s.db.Where("entity_type = ?", entityType)
	switch {
	case email != "" && phone != "":
		query = query.Where("LOWER(fields->>'email') = ? OR "+phoneMatch, email, phone)
	case email != "":
		query = query.Where("LOWER(fields->>'email') = ?", email)
	case phone != "":
		query = query.Where(phoneMatch, phone)
	default:
		query = query.Order("updated_at DESC").Limit(100)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to scan %s candidates: %w", entityType, err)
	}

	candidates := make(map[string]map[string]interface{}, len(records))
	for _, r := range records {
		candidates[r.LocalID] = map[string]interface{}(r.Fields)
	}
	return candidates, nil
}

// similarityKeys extracts the normalized identity keys the candidate
// query filters on, using the same normalization as the duplicate scorer.
func similarityKeys(fields map[string]interface{}) (email, phone string) {
	rawEmail, _ := fields["email"].(string)
	rawPhone, _ := fields["phone"].(string)
	return sync.NormalizeEmail(rawEmail), sync.NormalizePhone(rawPhone)
}

// Reassign repoints child records from one entity to another during a
// duplicate merge. Children reference their parent via the parent_id
// field in their jsonb document.
func (s *Store) Reassign(entityType, fromLocalID, toLocalID string) error {
	err := s.db.Exec(`
		UPDATE local_records
		SET fields = jsonb_set(fields, '{parent_id}', to_jsonb(?::text))
		WHERE entity_type <> ? AND fields->>'parent_id' = ?`,
		toLocalID, entityType, fromLocalID).Error
	if err != nil {
		return fmt.Errorf("failed to reassign children of %s:%s: %w", entityType, fromLocalID, err)
	}
	return nil
}
