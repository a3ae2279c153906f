package models

import (
	"time"
)

// Queue item status values
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueDone       = "done"
	QueueFailed     = "failed"
	QueueCancelled  = "cancelled"
)

// SyncQueueItem is a durable, retryable unit of sync work. The embedded
// change intent (entity identity, direction, payload, origin) is immutable
// once enqueued; only the retry/status columns change afterwards.
type SyncQueueItem struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Change intent (immutable after enqueue)
	EntityType   string    `gorm:"type:varchar(100);not null;index:idx_queue_entity" json:"entityType"`
	LocalID      string    `gorm:"type:varchar(255);index:idx_queue_entity" json:"localId"`
	RemoteID     string    `gorm:"type:varchar(255)" json:"remoteId"`
	Direction    string    `gorm:"type:varchar(20);not null" json:"direction"` // push, pull, bidirectional
	Origin       string    `gorm:"type:varchar(20);not null" json:"origin"`    // local, remote, system
	Payload      JSONB     `gorm:"type:jsonb" json:"payload"`
	PreImageHash string    `gorm:"type:varchar(64)" json:"preImageHash"`
	SubmittedAt  time.Time `gorm:"not null;index:idx_queue_pending" json:"submittedAt"`

	// IdempotencyKey is derived from the change intent identity so a retried
	// push that already committed remotely is a safe no-op.
	IdempotencyKey string `gorm:"type:varchar(64);not null;index" json:"idempotencyKey"`

	// Retry state
	Priority     int        `gorm:"default:1;index:idx_queue_pending" json:"priority"` // 1..3, higher first
	AttemptCount int        `gorm:"default:0" json:"attemptCount"`
	MaxAttempts  int        `gorm:"default:3" json:"maxAttempts"`
	NextRetryAt  *time.Time `gorm:"index:idx_queue_pending" json:"nextRetryAt"`
	Status       string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_queue_pending" json:"status"`
	ErrorMessage *string    `gorm:"type:text" json:"errorMessage,omitempty"`
	ProcessedAt  *time.Time `json:"processedAt"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// EntityKey returns the per-entity ordering key
func (q *SyncQueueItem) EntityKey() string {
	return q.EntityType + ":" + q.LocalID
}
