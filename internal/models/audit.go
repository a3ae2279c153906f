package models

import (
	"time"
)

// Audit statuses
const (
	AuditSuccess  = "success"
	AuditFailed   = "failed"
	AuditRejected = "rejected"
	AuditSkipped  = "skipped"
)

// SyncAudit is the append-only record of every sync attempt. Rows are
// immutable once written; there is no update path and no soft delete.
type SyncAudit struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	QueueItemID *uint     `gorm:"index" json:"queueItemId,omitempty"`
	EntityType  string    `gorm:"type:varchar(100);not null;index" json:"entityType"`
	LocalID     string    `gorm:"type:varchar(255)" json:"localId"`
	Direction   string    `gorm:"type:varchar(20);not null" json:"direction"`
	Status      string    `gorm:"type:varchar(20);not null;index" json:"status"`
	Resolution  string    `gorm:"type:varchar(50)" json:"resolution"` // conflict resolution taken, if any
	Error       *string   `gorm:"type:text" json:"error,omitempty"`
	Attempt     int       `gorm:"default:0" json:"attempt"`
	DurationMs  int       `gorm:"column:duration_ms;default:0" json:"durationMs"`
	DebugInfo   JSONB     `gorm:"type:jsonb" json:"debugInfo"` // full error context for AI analysis
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"createdAt"`
}

// TableName specifies the table name
func (SyncAudit) TableName() string {
	return "sync_audit"
}
