package sync

import (
	"log"
	"time"

	"github.com/rentloop/crmbridge/internal/database"
	"github.com/rentloop/crmbridge/internal/models"
)

// AuditEntry is one completed sync attempt, success or not
type AuditEntry struct {
	QueueItemID *uint
	EntityType  string
	LocalID     string
	Direction   string
	Status      string
	Resolution  string
	Err         error
	Attempt     int
	Duration    time.Duration
	DebugInfo   map[string]interface{}
}

// AuditStore appends attempt records. Writes never block a sync outcome:
// implementations log and swallow their own storage errors.
type AuditStore interface {
	Record(entry AuditEntry)
	Recent(entityType string, limit int) ([]models.SyncAudit, error)
	FailuresSince(since time.Time) ([]models.SyncAudit, error)
}

// GormAuditStore is the PostgreSQL-backed AuditStore
type GormAuditStore struct {
	db *database.DB
}

func NewGormAuditStore(db *database.DB) *GormAuditStore {
	return &GormAuditStore{db: db}
}

// Record appends one audit row
func (s *GormAuditStore) Record(entry AuditEntry) {
	row := models.SyncAudit{
		QueueItemID: entry.QueueItemID,
		EntityType:  entry.EntityType,
		LocalID:     entry.LocalID,
		Direction:   entry.Direction,
		Status:      entry.Status,
		Resolution:  entry.Resolution,
		Attempt:     entry.Attempt,
		DurationMs:  int(entry.Duration.Milliseconds()),
		DebugInfo:   models.JSONB(entry.DebugInfo),
	}
	if entry.Err != nil {
		msg := entry.Err.Error()
		row.Error = &msg
	}
	if err := s.db.Create(&row).Error; err != nil {
		log.Printf("⚠️ Failed to write sync audit row for %s:%s: %v", entry.EntityType, entry.LocalID, err)
	}
}

// Recent returns the newest audit rows, optionally filtered by entity type
func (s *GormAuditStore) Recent(entityType string, limit int) ([]models.SyncAudit, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.Order("created_at DESC").Limit(limit)
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	var rows []models.SyncAudit
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FailuresSince returns failed attempts newer than the given time
func (s *GormAuditStore) FailuresSince(since time.Time) ([]models.SyncAudit, error) {
	var rows []models.SyncAudit
	err := s.db.Where("status = ? AND created_at > ?", models.AuditFailed, since).
		Order("created_at DESC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
