package models

// RoleDefaultPermission grants every user of a role a permission by default.
// Rows are created and removed by catalog sync or administrative action.
type RoleDefaultPermission struct {
	BaseModel

	Role         string      `gorm:"not null;index:idx_role_default,unique" json:"role"`
	PermissionID string      `gorm:"type:uuid;not null;index:idx_role_default,unique" json:"permission_id"`
	Permission   *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
}
