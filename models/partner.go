package models

import "time"

// Partner is the business-side account managing one venue
type Partner struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Email        string `gorm:"size:255;not null;uniqueIndex:uk_partners_email" json:"email"`
	PasswordHash string `gorm:"size:255;not null" json:"-"`
	VenueID      uint   `gorm:"not null;uniqueIndex:uk_partners_venue_id" json:"venue_id"`
	Venue        *Venue `gorm:"foreignKey:VenueID;constraint:OnDelete:CASCADE" json:"venue,omitempty"`
	IsActive     *bool  `gorm:"default:true;index:idx_partners_is_active" json:"is_active"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Partner) TableName() string { return "partners" }

// PartnerFilter provides filter fields for repository queries
type PartnerFilter struct {
	ID       *uint
	Email    *string
	VenueID  *uint
	IsActive *bool
}
