package models

import "time"

// Profile mirrors a student or staff identity issued by the external auth provider
type Profile struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	UserID  string `gorm:"size:64;not null;uniqueIndex:uk_profiles_user_id" json:"user_id"`
	Email   string `gorm:"size:255" json:"email"`
	IsAdmin bool   `gorm:"not null;default:false" json:"is_admin"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (Profile) TableName() string { return "profiles" }
