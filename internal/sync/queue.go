package sync

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rentloop/crmbridge/internal/database"
	"github.com/rentloop/crmbridge/internal/models"
)

// Queue is the durable, priority-ordered work queue of pending sync
// operations. The executor exclusively owns status transitions.
type Queue interface {
	Enqueue(intent *ChangeIntent, priority int) (*models.SyncQueueItem, error)
	DequeueBatch(max int) ([]*models.SyncQueueItem, error)
	MarkDone(item *models.SyncQueueItem) error
	MarkFailed(item *models.SyncQueueItem, cause error, retryable bool) (terminal bool, err error)
	Release(item *models.SyncQueueItem) error
	Stats() (QueueStats, error)
}

// QueueStats feeds the operational status surface
type QueueStats struct {
	Pending          int64         `json:"pending"`
	Processing       int64         `json:"processing"`
	Failed           int64         `json:"failed"`
	OldestPendingAge time.Duration `json:"oldestPendingAgeNs"`
}

// GormQueue is the PostgreSQL-backed Queue
type GormQueue struct {
	db          *database.DB
	backoff     Backoff
	maxAttempts int
}

// NewGormQueue creates a queue on the shared database
func NewGormQueue(db *database.DB, backoff Backoff, maxAttempts int) *GormQueue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &GormQueue{db: db, backoff: backoff, maxAttempts: maxAttempts}
}

// Enqueue validates and stores a change intent. The intent columns are
// immutable afterwards; only retry state changes. A pull intent carrying
// only a remote id is backfilled with the mapped local id so the dequeue
// ordering and pause clauses see both sides of the identity.
func (q *GormQueue) Enqueue(intent *ChangeIntent, priority int) (*models.SyncQueueItem, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if priority < 1 || priority > 3 {
		priority = 1
	}
	if intent.SubmittedAt.IsZero() {
		intent.SubmittedAt = time.Now().UTC()
	}
	if intent.LocalID == "" && intent.RemoteID != "" {
		var mapping models.EntityMapping
		err := q.db.Where("entity_type = ? AND remote_id = ? AND status = ?",
			intent.EntityType, intent.RemoteID, models.MappingActive).First(&mapping).Error
		if err == nil {
			intent.LocalID = mapping.LocalID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to resolve local id for enqueue: %w", err)
		}
	}

	item := models.SyncQueueItem{
		EntityType:     intent.EntityType,
		LocalID:        intent.LocalID,
		RemoteID:       intent.RemoteID,
		Direction:      string(intent.Direction),
		Origin:         string(intent.Origin),
		Payload:        models.JSONB(intent.Fields),
		PreImageHash:   intent.PreImageHash,
		SubmittedAt:    intent.SubmittedAt,
		IdempotencyKey: intent.IdempotencyKey(),
		Priority:       priority,
		MaxAttempts:    q.maxAttempts,
		Status:         models.QueuePending,
	}

	if err := q.db.Create(&item).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue change: %w", err)
	}
	return &item, nil
}

// DequeueBatch returns up to max ready items and marks them processing.
// An item is ready when it is pending, its retry time has passed, its
// entity is not sync_paused, and no earlier item for the same entity is
// still pending or in flight. Items are matched to an entity on either
// identity side, so a push (local id) and a pull (remote id) for the same
// mapped entity never run concurrently and a pause holds both. The sibling
// clause enforces strict per-entity submission order with a single
// in-flight operation per entity: an earlier sibling waiting on backoff
// blocks the whole entity rather than letting writes interleave.
func (q *GormQueue) DequeueBatch(max int) ([]*models.SyncQueueItem, error) {
	now := time.Now().UTC()

	var items []*models.SyncQueueItem
	err := q.db.Raw(`
		SELECT * FROM sync_queue q
		WHERE q.status = 'pending'
		  AND (q.next_retry_at IS NULL OR q.next_retry_at <= ?)
		  AND NOT EXISTS (
			SELECT 1 FROM entity_mappings em
			WHERE em.entity_type = q.entity_type
			  AND em.status = 'active'
			  AND em.sync_paused
			  AND ((q.local_id <> '' AND em.local_id = q.local_id)
			       OR (q.remote_id <> '' AND em.remote_id = q.remote_id))
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM sync_queue prior
			WHERE prior.entity_type = q.entity_type
			  AND ((q.local_id <> '' AND prior.local_id = q.local_id)
			       OR (q.remote_id <> '' AND prior.remote_id = q.remote_id))
			  AND prior.status IN ('pending', 'processing')
			  AND (prior.submitted_at < q.submitted_at
			       OR (prior.submitted_at = q.submitted_at AND prior.id < q.id))
		  )
		ORDER BY q.priority DESC, q.submitted_at ASC
		LIMIT ?`, now, max).Scan(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue batch: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(items))
	for _, item := range items {
		item.Status = models.QueueProcessing
		ids = append(ids, item.ID)
	}
	err = q.db.Model(&models.SyncQueueItem{}).Where("id IN ?", ids).
		Update("status", models.QueueProcessing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}

	return items, nil
}

// MarkDone finishes an item successfully
func (q *GormQueue) MarkDone(item *models.SyncQueueItem) error {
	now := time.Now().UTC()
	item.Status = models.QueueDone
	item.ProcessedAt = &now
	return q.db.Model(item).Updates(map[string]interface{}{
		"status":       models.QueueDone,
		"processed_at": now,
	}).Error
}

// MarkFailed records a failed attempt. Retryable failures under the attempt
// budget go back to pending with an exponential-backoff retry time;
// everything else is terminal. Returns whether the failure was terminal.
func (q *GormQueue) MarkFailed(item *models.SyncQueueItem, cause error, retryable bool) (bool, error) {
	item.AttemptCount++
	msg := cause.Error()
	item.ErrorMessage = &msg

	if retryable && item.AttemptCount < item.MaxAttempts {
		retryAt := time.Now().UTC().Add(q.backoff.Delay(item.AttemptCount))
		item.Status = models.QueuePending
		item.NextRetryAt = &retryAt
		return false, q.db.Model(item).Updates(map[string]interface{}{
			"status":        models.QueuePending,
			"attempt_count": item.AttemptCount,
			"next_retry_at": retryAt,
			"error_message": msg,
		}).Error
	}

	now := time.Now().UTC()
	item.Status = models.QueueFailed
	item.NextRetryAt = nil
	item.ProcessedAt = &now
	return true, q.db.Model(item).Updates(map[string]interface{}{
		"status":        models.QueueFailed,
		"attempt_count": item.AttemptCount,
		"next_retry_at": nil,
		"error_message": msg,
		"processed_at":  now,
	}).Error
}

// Release puts a claimed item back to pending without consuming an
// attempt (lease contention, shutdown mid-batch).
func (q *GormQueue) Release(item *models.SyncQueueItem) error {
	item.Status = models.QueuePending
	return q.db.Model(item).Update("status", models.QueuePending).Error
}

// Stats reports queue depth and the age of the oldest pending item
func (q *GormQueue) Stats() (QueueStats, error) {
	var stats QueueStats

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	err := q.db.Model(&models.SyncQueueItem{}).
		Select("status, count(*) as count").
		Where("status IN ?", []string{models.QueuePending, models.QueueProcessing, models.QueueFailed}).
		Group("status").Scan(&counts).Error
	if err != nil {
		return stats, err
	}
	for _, c := range counts {
		switch c.Status {
		case models.QueuePending:
			stats.Pending = c.Count
		case models.QueueProcessing:
			stats.Processing = c.Count
		case models.QueueFailed:
			stats.Failed = c.Count
		}
	}

	var oldest models.SyncQueueItem
	err = q.db.Where("status = ?", models.QueuePending).
		Order("submitted_at ASC").First(&oldest).Error
	if err == nil {
		stats.OldestPendingAge = time.Since(oldest.SubmittedAt)
	}

	return stats, nil
}
