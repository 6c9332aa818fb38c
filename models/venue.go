package models

import "time"

// SubscriptionTier gates partner features
type SubscriptionTier string

const (
	TierBasic SubscriptionTier = "BASIC"
	TierPro   SubscriptionTier = "PRO"
	TierMax   SubscriptionTier = "MAX"
)

// Rank orders tiers, unknown tiers rank as BASIC
func (t SubscriptionTier) Rank() int {
	switch t {
	case TierPro:
		return 1
	case TierMax:
		return 2
	default:
		return 0
	}
}

// Includes reports whether t grants everything required grants
func (t SubscriptionTier) Includes(required SubscriptionTier) bool {
	return t.Rank() >= required.Rank()
}

// Venue is a partner business location offering a student discount
type Venue struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	Name             string           `gorm:"size:255;not null" json:"name"`
	City             string           `gorm:"size:128;not null;index:idx_venues_city" json:"city"`
	AvgStudentBill   *float64         `json:"avg_student_bill,omitempty"`
	SubscriptionTier SubscriptionTier `gorm:"size:16;not null;default:BASIC" json:"subscription_tier"`
	IsActive         *bool            `gorm:"default:true;index:idx_venues_is_active" json:"is_active"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Venue) TableName() string { return "venues" }

// VenueFilter provides filter fields for repository queries
type VenueFilter struct {
	ID       *uint
	IDs      []uint
	City     *string
	IsActive *bool
}
