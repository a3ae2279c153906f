package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conflict types and statuses
const (
	ConflictTypeField     = "field"
	ConflictTypeDuplicate = "duplicate_entity"

	ConflictPending      = "pending"
	ConflictAutoResolved = "auto_resolved"
	ConflictManualReview = "manual_review"
	ConflictResolved     = "resolved"
)

// SyncConflict records a field-level divergence (or a suspected duplicate
// entity) found by the detector. The resolver is the only writer of
// ResolvedValue.
type SyncConflict struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	ConflictType string `gorm:"type:varchar(30);not null;default:'field'" json:"conflictType"`
	EntityType   string `gorm:"type:varchar(100);not null;index:idx_conflict_entity" json:"entityType"`
	LocalID      string `gorm:"type:varchar(255);not null;index:idx_conflict_entity" json:"localId"`
	Field        string `gorm:"type:varchar(100)" json:"field"`

	LocalValue  datatypes.JSON `json:"localValue"`
	RemoteValue datatypes.JSON `json:"remoteValue"`

	// For duplicate_entity conflicts: the other candidate and its score.
	DuplicateLocalID *string  `gorm:"type:varchar(255)" json:"duplicateLocalId,omitempty"`
	SimilarityScore  *float64 `json:"similarityScore,omitempty"`

	Severity           string         `gorm:"type:varchar(20);default:'normal'" json:"severity"`
	ResolutionStrategy string         `gorm:"type:varchar(50)" json:"resolutionStrategy"`
	ResolutionReason   string         `gorm:"type:text" json:"resolutionReason"`
	ResolvedValue      datatypes.JSON `json:"resolvedValue,omitempty"`

	Status     string     `gorm:"type:varchar(30);not null;default:'pending';index:idx_conflict_pending" json:"status"`
	ResolvedAt *time.Time `json:"resolvedAt"`
	ResolvedBy *string    `gorm:"type:varchar(255)" json:"resolvedBy,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_conflict_pending" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name
func (SyncConflict) TableName() string {
	return "sync_conflicts"
}
