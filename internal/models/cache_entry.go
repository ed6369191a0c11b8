package models

import (
	"time"
)

// CacheEntry backs the database cache store used when Redis is not
// configured: secret validation verdicts, session lookups, rate counters,
// and distributed locks all land here.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
