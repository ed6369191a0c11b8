package models

import "strings"

// Permission is a catalog entry. Identity is the (section, title, action type)
// triple; Order is its globally unique bit position in encoded permission
// strings. Rows are only ever created or updated by catalog sync; deleting
// one would shift bit positions and invalidate outstanding tokens.
type Permission struct {
	BaseModel

	Section     string `gorm:"not null;index:idx_permission_identity,unique" json:"section"`
	Title       string `gorm:"not null;index:idx_permission_identity,unique" json:"title"`
	ActionType  string `gorm:"not null;index:idx_permission_identity,unique" json:"action_type"`
	Order       int    `gorm:"column:bit_order;uniqueIndex;not null" json:"order"`
	Description string `json:"description"`

	// AllowedRoles stores the role names granted this permission by default,
	// comma delimited.
	AllowedRoles string `json:"allowed_roles"`
}

// Key returns the canonical lowercase identity key for index lookups.
func (p *Permission) Key() string {
	return PermissionKey(p.Section, p.Title, p.ActionType)
}

// PermissionKey builds the canonical "section:title:actionType" key.
// Comparisons are case-insensitive throughout the permission subsystem.
func PermissionKey(section, title, actionType string) string {
	return strings.ToLower(strings.TrimSpace(section)) + ":" +
		strings.ToLower(strings.TrimSpace(title)) + ":" +
		strings.ToLower(strings.TrimSpace(actionType))
}

// RoleNames splits the delimited AllowedRoles column.
func (p *Permission) RoleNames() []string {
	if strings.TrimSpace(p.AllowedRoles) == "" {
		return nil
	}

	parts := strings.Split(p.AllowedRoles, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
