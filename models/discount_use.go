package models

import "time"

const (
	DiscountStatusGenerated = "generated"
	DiscountStatusConfirmed = "confirmed"
	DiscountStatusExpired   = "expired"
)

// DiscountUse is one generated discount code and its redemption state
type DiscountUse struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	VenueID       uint       `gorm:"not null;index:idx_discount_uses_venue_created,priority:1" json:"venue_id"`
	Venue         *Venue     `gorm:"foreignKey:VenueID;constraint:OnDelete:CASCADE" json:"-"`
	UserID        *string    `gorm:"size:64;index:idx_discount_uses_user_id" json:"user_id,omitempty"`
	GeneratedCode string     `gorm:"size:32;not null;uniqueIndex:uk_discount_uses_generated_code" json:"generated_code"`
	QRSlug        string     `gorm:"size:64" json:"qr_slug"`
	Status        string     `gorm:"size:16;not null;default:generated;index:idx_discount_uses_status" json:"status"`
	CreatedAt     time.Time  `gorm:"not null;index:idx_discount_uses_venue_created,priority:2;index:idx_discount_uses_created_at" json:"created_at"`
	ConfirmedAt   *time.Time `gorm:"index:idx_discount_uses_confirmed_at" json:"confirmed_at,omitempty"`
	ExpiresAt     time.Time  `gorm:"not null;index:idx_discount_uses_expires_at" json:"expires_at"`
}

func (DiscountUse) TableName() string { return "discount_uses" }

// Redeemed reports whether the code was confirmed by the partner
func (d DiscountUse) Redeemed() bool {
	return d.Status == DiscountStatusConfirmed && d.ConfirmedAt != nil
}

// DiscountUseFilter provides filter fields for repository queries
type DiscountUseFilter struct {
	VenueID         *uint
	VenueIDs        []uint
	UserID          *string
	Status          *string
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	ConfirmedAfter  *time.Time
	ConfirmedBefore *time.Time
	ExpiresBefore   *time.Time
	AfterID         *uint
}
