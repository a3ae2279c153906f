package sync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rentloop/crmbridge/internal/database"
	"github.com/rentloop/crmbridge/internal/models"
	"gorm.io/gorm"
)

// ErrNotMapped is returned when no mapping exists for the requested entity
var ErrNotMapped = errors.New("entity not mapped")

// Mapper maintains the correlation between local and remote identities and
// is the sole writer of sync_version.
type Mapper interface {
	Resolve(entityType, localID string) (string, error)
	ResolveReverse(entityType, remoteID string) (string, error)
	Get(entityType, localID string) (*models.EntityMapping, error)
	GetByRemote(entityType, remoteID string) (*models.EntityMapping, error)
	Bind(entityType, localID, remoteID string) (*models.EntityMapping, error)
	BumpVersion(mapping *models.EntityMapping) (int64, error)
	CommitSync(mapping *models.EntityMapping, hash string, snapshot map[string]interface{}, at time.Time) error
	MarkMerged(secondary *models.EntityMapping, primaryID uint) error
	SetPaused(entityType, localID string, paused bool) error
}

// GormMapper is the PostgreSQL-backed Mapper
type GormMapper struct {
	db *database.DB
}

// NewGormMapper creates a mapper on the shared database
func NewGormMapper(db *database.DB) *GormMapper {
	return &GormMapper{db: db}
}

// Resolve returns the remote id mapped to a local entity
func (m *GormMapper) Resolve(entityType, localID string) (string, error) {
	mapping, err := m.Get(entityType, localID)
	if err != nil {
		return "", err
	}
	return mapping.RemoteID, nil
}

// ResolveReverse returns the local id mapped to a remote entity
func (m *GormMapper) ResolveReverse(entityType, remoteID string) (string, error) {
	mapping, err := m.GetByRemote(entityType, remoteID)
	if err != nil {
		return "", err
	}
	return mapping.LocalID, nil
}

// Get fetches the mapping for a local entity. An active mapping is
// preferred; a merged tombstone is returned when it is all that remains,
// so stale pushes against a merged-away entity can be redirected.
func (m *GormMapper) Get(entityType, localID string) (*models.EntityMapping, error) {
	var mapping models.EntityMapping
	// 'active' sorts before 'inactive' and 'merged'
	err := m.db.Where("entity_type = ? AND local_id = ?", entityType, localID).
		Order("status").First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotMapped
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// GetByRemote fetches the active mapping for a remote entity. Merged
// tombstones are invisible here: incoming remote changes must reach the
// surviving local entity.
func (m *GormMapper) GetByRemote(entityType, remoteID string) (*models.EntityMapping, error) {
	var mapping models.EntityMapping
	err := m.db.Where("entity_type = ? AND remote_id = ? AND status = ?",
		entityType, remoteID, models.MappingActive).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotMapped
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// Bind creates the mapping between a local and a remote entity. If either
// side is already bound to a different counterpart it fails with
// DuplicateBindingError so the duplicate-entity path can take over; it
// never silently overwrites.
func (m *GormMapper) Bind(entityType, localID, remoteID string) (*models.EntityMapping, error) {
	if existing, err := m.Get(entityType, localID); err == nil {
		if existing.RemoteID == remoteID {
			return existing, nil
		}
		return nil, &DuplicateBindingError{
			EntityType: entityType,
			LocalID:    localID,
			RemoteID:   remoteID,
			BoundTo:    existing.RemoteID,
		}
	} else if !errors.Is(err, ErrNotMapped) {
		return nil, err
	}

	if existing, err := m.GetByRemote(entityType, remoteID); err == nil {
		return nil, &DuplicateBindingError{
			EntityType: entityType,
			LocalID:    localID,
			RemoteID:   remoteID,
			BoundTo:    existing.LocalID,
		}
	} else if !errors.Is(err, ErrNotMapped) {
		return nil, err
	}

	mapping := models.EntityMapping{
		EntityType: entityType,
		LocalID:    localID,
		RemoteID:   remoteID,
		Status:     models.MappingActive,
		Snapshot:   models.JSONB{},
	}
	if err := m.db.Create(&mapping).Error; err != nil {
		// The unique indexes backstop concurrent bind attempts
		if strings.Contains(err.Error(), "duplicate key") {
			return nil, &DuplicateBindingError{
				EntityType: entityType,
				LocalID:    localID,
				RemoteID:   remoteID,
				BoundTo:    "concurrent binding",
			}
		}
		return nil, fmt.Errorf("failed to create mapping: %w", err)
	}
	return &mapping, nil
}

// BumpVersion atomically increments and returns the sync version. The
// increment runs in SQL so concurrent bumps never produce the same value
// and the version never decreases.
func (m *GormMapper) BumpVersion(mapping *models.EntityMapping) (int64, error) {
	var version int64
	err := m.db.Raw(
		"UPDATE entity_mappings SET sync_version = sync_version + 1, updated_at = ? WHERE id = ? RETURNING sync_version",
		time.Now().UTC(), mapping.ID,
	).Scan(&version).Error
	if err != nil {
		return 0, fmt.Errorf("failed to bump version: %w", err)
	}
	mapping.SyncVersion = version
	return version, nil
}

// CommitSync persists the post-sync snapshot and hash
func (m *GormMapper) CommitSync(mapping *models.EntityMapping, hash string, snapshot map[string]interface{}, at time.Time) error {
	mapping.LastSyncedHash = hash
	mapping.Snapshot = models.JSONB(snapshot)
	mapping.LastSyncedAt = &at

	return m.db.Model(mapping).Updates(map[string]interface{}{
		"last_synced_hash": hash,
		"snapshot":         models.JSONB(snapshot),
		"last_synced_at":   at,
	}).Error
}

// MarkMerged soft-marks a mapping as merged into another; mappings are
// never hard-deleted. primaryID is zero when the surviving entity is
// bound to the remote record only after this call. The pause flag is
// cleared so the tombstone never holds up the remote entity's queue.
func (m *GormMapper) MarkMerged(secondary *models.EntityMapping, primaryID uint) error {
	updates := map[string]interface{}{
		"status":      models.MappingMerged,
		"sync_paused": false,
	}
	secondary.Status = models.MappingMerged
	secondary.SyncPaused = false
	if primaryID != 0 {
		updates["merged_into_id"] = primaryID
		secondary.MergedIntoID = &primaryID
	}
	return m.db.Model(secondary).Updates(updates).Error
}

// SetPaused toggles the sync_paused flag for an entity
func (m *GormMapper) SetPaused(entityType, localID string, paused bool) error {
	res := m.db.Model(&models.EntityMapping{}).
		Where("entity_type = ? AND local_id = ?", entityType, localID).
		Update("sync_paused", paused)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotMapped
	}
	return nil
}
