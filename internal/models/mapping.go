package models

import (
	"time"
)

// Mapping status values
const (
	MappingActive   = "active"
	MappingMerged   = "merged"
	MappingInactive = "inactive"
)

// EntityMapping correlates a local entity with its remote counterpart.
// At most one ACTIVE mapping may exist per (entity_type, local_id) and
// per (entity_type, remote_id); the unique indexes are partial on status
// so mappings retired by a duplicate merge stay on record without
// blocking the surviving entity's binding. Mappings are never
// hard-deleted, only marked merged/inactive.
type EntityMapping struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	EntityType string `gorm:"type:varchar(100);not null;uniqueIndex:idx_local_side;uniqueIndex:idx_remote_side" json:"entityType"`
	LocalID    string `gorm:"type:varchar(255);not null;uniqueIndex:idx_local_side,where:status = 'active'" json:"localId"`
	RemoteID   string `gorm:"type:varchar(255);not null;uniqueIndex:idx_remote_side,where:status = 'active'" json:"remoteId"`

	// SyncVersion is the optimistic-concurrency token attached to outgoing
	// pushes. Strictly monotonic; only the mapper bumps it.
	SyncVersion int64 `gorm:"not null;default:0" json:"syncVersion"`

	LastSyncedAt   *time.Time `json:"lastSyncedAt"`
	LastSyncedHash string     `gorm:"type:varchar(64)" json:"lastSyncedHash"`

	// Snapshot holds the canonical field values as of the last successful
	// sync. The conflict detector diffs both sides against it.
	Snapshot JSONB `gorm:"type:jsonb;default:'{}'" json:"snapshot"`

	Status       string `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	MergedIntoID *uint  `json:"mergedIntoId,omitempty"` // primary mapping after a duplicate merge

	// SyncPaused causes the queue to skip this entity's items without
	// consuming retry attempts (set while a manual review is open).
	SyncPaused bool `gorm:"default:false" json:"syncPaused"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name
func (EntityMapping) TableName() string {
	return "entity_mappings"
}
