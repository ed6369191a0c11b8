package models

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxMessage is a serialized domain event persisted in the same
// transaction as the aggregate mutation that raised it. The writing
// transaction owns the row until commit; the background worker owns it after.
type OutboxMessage struct {
	// ID mirrors the originating domain event's identifier.
	ID            string         `gorm:"primaryKey;type:uuid" json:"id"`
	AggregateID   string         `gorm:"not null;index" json:"aggregate_id"`
	AggregateType string         `gorm:"not null" json:"aggregate_type"`
	Type          string         `gorm:"not null" json:"type"`
	Content       datatypes.JSON `json:"content"`
	Partition     int            `gorm:"column:partition_no;not null;default:0;index" json:"partition"`

	CreatedAt   time.Time  `gorm:"index:idx_outbox_pending,priority:2" json:"created_at"`
	ProcessedAt *time.Time `gorm:"index:idx_outbox_pending,priority:1" json:"processed_at"`
	Error       string     `json:"error"`
	RetryCount  int        `gorm:"default:0" json:"retry_count"`
}
