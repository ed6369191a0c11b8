package models

// Affiliate represents a partner organisation that refers clients and calls
// the partner API using issued secrets.
type Affiliate struct {
	BaseModel

	Name        string  `gorm:"not null" json:"name"`
	CompanyName string  `json:"company_name"`
	OwnerUserID *string `gorm:"type:uuid;index" json:"owner_user_id,omitempty"`
	Owner       *User   `gorm:"foreignKey:OwnerUserID" json:"owner,omitempty"`
	IsActive    bool    `gorm:"default:true" json:"is_active"`

	Secrets []AffiliateSecret `gorm:"foreignKey:AffiliateID" json:"-"`
}

// DisplayName composes the name presented to downstream consumers.
func (a *Affiliate) DisplayName() string {
	if a.CompanyName != "" {
		return a.Name + " (" + a.CompanyName + ")"
	}
	return a.Name
}
