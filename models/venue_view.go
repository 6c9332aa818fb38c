package models

import (
	"fmt"
	"time"
)

// VenueView is one page visit of a venue, append-only
type VenueView struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	VenueID   uint    `gorm:"not null;index:idx_venue_views_venue_created,priority:1" json:"venue_id"`
	Venue     *Venue  `gorm:"foreignKey:VenueID;constraint:OnDelete:CASCADE" json:"-"`
	UserID    *string `gorm:"size:64;index:idx_venue_views_user_id" json:"user_id,omitempty"`
	City      string  `gorm:"size:128" json:"city"`
	UserAgent string  `gorm:"type:text" json:"user_agent"`
	DedupeKey *string `gorm:"size:191;uniqueIndex:uk_venue_views_dedupe_key" json:"-"`

	CreatedAt time.Time `gorm:"not null;index:idx_venue_views_venue_created,priority:2;index:idx_venue_views_created_at" json:"created_at"`
}

func (VenueView) TableName() string { return "venue_views" }

// ViewDedupeKey buckets a view per venue, user (or anonymous) and minute
func ViewDedupeKey(venueID uint, userID *string, at time.Time) string {
	who := "anon"
	if userID != nil && *userID != "" {
		who = *userID
	}
	return fmt.Sprintf("%d:%s:%s", venueID, who, at.UTC().Format("200601021504"))
}

// VenueViewFilter provides filter fields for repository queries
type VenueViewFilter struct {
	VenueID       *uint
	VenueIDs      []uint
	UserID        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	AfterID       *uint
}
