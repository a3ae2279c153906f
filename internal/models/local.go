package models

import (
	"time"
)

// LocalRecord is the bridge-side copy of a property-management entity
// (lead, contact, tour, communication). Field values live in one jsonb
// document keyed by canonical field names.
type LocalRecord struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	EntityType string `gorm:"type:varchar(100);not null;uniqueIndex:idx_local_record" json:"entityType"`
	LocalID    string `gorm:"type:varchar(255);not null;uniqueIndex:idx_local_record" json:"localId"`
	Fields     JSONB  `gorm:"type:jsonb;default:'{}'" json:"fields"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name
func (LocalRecord) TableName() string {
	return "local_records"
}
