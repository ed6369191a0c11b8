package models

import (
	"strings"
	"time"
)

// AffiliateSecret is an API credential issued to an affiliate. UsedCount is
// mutated only by the usage tracker's batch flush, never on the request path.
type AffiliateSecret struct {
	BaseModel

	AffiliateID string     `gorm:"type:uuid;not null;index" json:"affiliate_id"`
	Affiliate   *Affiliate `gorm:"foreignKey:AffiliateID" json:"affiliate,omitempty"`

	SecretKey      string    `gorm:"uniqueIndex;size:64;not null" json:"-"`
	ExpirationDate time.Time `gorm:"index" json:"expiration_date"`

	// IPRestriction holds allowed caller IPs separated by ',', ';' or '|'.
	// The literal "*" admits any address. Empty means unrestricted.
	IPRestriction string `json:"ip_restriction"`

	IsActive  bool  `gorm:"default:true" json:"is_active"`
	UsedCount int64 `gorm:"default:0" json:"used_count"`
}

// IsExpired reports whether the secret has lapsed at the supplied instant.
func (s *AffiliateSecret) IsExpired(now time.Time) bool {
	return now.After(s.ExpirationDate)
}

// AllowsIP checks the caller address against the restriction list. Entries
// are matched exactly; no CIDR evaluation happens on this path.
func (s *AffiliateSecret) AllowsIP(clientIP string) bool {
	restriction := strings.TrimSpace(s.IPRestriction)
	if restriction == "" || restriction == "*" {
		return true
	}

	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		return true
	}

	entries := strings.FieldsFunc(restriction, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "*" || entry == clientIP {
			return true
		}
	}
	return false
}
