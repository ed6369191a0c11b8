package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Well-known role names. Roles are plain strings so that catalog descriptors
// and role-default rows can reference them without a join table.
const (
	RoleAdmin     = "Admin"
	RoleManager   = "Manager"
	RoleUser      = "User"
	RoleAffiliate = "Affiliate"
)

// User describes CRM operators and affiliate owners.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	Role     string `gorm:"not null;index;default:User" json:"role"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	FailedAttempts int        `gorm:"default:0" json:"-"`
	LockedUntil    *time.Time `json:"-"`

	MFAEnabled bool       `gorm:"default:false" json:"mfa_enabled"`
	MFASecret  *MFASecret `gorm:"foreignKey:UserID" json:"-"`

	Permissions []UserPermission `gorm:"foreignKey:UserID" json:"-"`
	Sessions    []Session        `gorm:"foreignKey:UserID" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
