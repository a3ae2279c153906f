package models

import (
	"time"
)

// PullCursor tracks per-entity-type sync progress against the remote
// system: the delta cursor for pulls plus the health counters surfaced by
// the status endpoint.
type PullCursor struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	EntityType string `gorm:"type:varchar(100);not null;uniqueIndex" json:"entityType"`

	// LastPulledAt is the since_timestamp handed to fetch_deltas; persisted
	// only after a successful fetch.
	LastPulledAt *time.Time `json:"lastPulledAt"`

	LastPushAt          *time.Time `json:"lastPushAt"`
	ConsecutiveFailures int        `gorm:"default:0" json:"consecutiveFailures"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name
func (PullCursor) TableName() string {
	return "pull_cursors"
}
