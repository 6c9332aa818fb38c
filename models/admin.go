// Package models contains domain entities and persistence models for the discounts platform
package models

import (
	"time"
)

type Admin struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Email        string `gorm:"size:255;not null;uniqueIndex:uk_admins_email" json:"email"`
	PasswordHash string `gorm:"size:255;not null" json:"-"`

	IsActive    *bool      `gorm:"default:true;index:idx_admins_is_active" json:"is_active"`
	CreatedAt   time.Time  `gorm:"not null;index:idx_admins_created_at" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `gorm:"index:idx_admins_last_login_at" json:"last_login_at,omitempty"`
}

func (Admin) TableName() string {
	return "admins"
}

// AdminFilter represents filter criteria for admin queries
type AdminFilter struct {
	ID            *uint
	Email         *string
	IsActive      *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
