package models

import "time"

// UserPermission is an explicit per-user grant (or revocation) overriding role
// defaults. At most one row may exist per (user, permission) pair, enforced by
// the composite unique index; expiry is evaluated at read time, with lapsed
// rows reclaimed by the maintenance sweep.
type UserPermission struct {
	BaseModel

	UserID       string      `gorm:"type:uuid;not null;uniqueIndex:idx_user_permission_pair" json:"user_id"`
	PermissionID string      `gorm:"type:uuid;not null;uniqueIndex:idx_user_permission_pair" json:"permission_id"`
	Permission   *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`

	IsGranted bool       `gorm:"default:true" json:"is_granted"`
	GrantedAt time.Time  `json:"granted_at"`
	GrantedBy string     `gorm:"type:uuid" json:"granted_by"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// IsExpired reports whether the grant has lapsed at the supplied instant.
func (up *UserPermission) IsExpired(now time.Time) bool {
	return up.ExpiresAt != nil && now.After(*up.ExpiresAt)
}

// IsActive reports whether the row currently contributes to the user's
// effective permission set.
func (up *UserPermission) IsActive(now time.Time) bool {
	return up.IsGranted && !up.IsExpired(now)
}
