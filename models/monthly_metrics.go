package models

import "time"

// MonthlyPartnerMetrics is the stored aggregate of one venue for one calendar month
type MonthlyPartnerMetrics struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	VenueID        uint      `gorm:"not null;uniqueIndex:uk_monthly_partner_metrics_venue_period,priority:1" json:"venue_id"`
	Venue          *Venue    `gorm:"foreignKey:VenueID;constraint:OnDelete:CASCADE" json:"venue,omitempty"`
	PeriodStart    time.Time `gorm:"not null;uniqueIndex:uk_monthly_partner_metrics_venue_period,priority:2;index:idx_monthly_partner_metrics_period" json:"period_start"`
	PeriodEnd      time.Time `gorm:"not null" json:"period_end"`
	PageViews      int64     `gorm:"not null;default:0" json:"page_views"`
	QRGenerated    int64     `gorm:"column:qr_generated;not null;default:0" json:"qr_generated"`
	QRRedeemed     int64     `gorm:"column:qr_redeemed;not null;default:0" json:"qr_redeemed"`
	UniqueUsers    int64     `gorm:"not null;default:0" json:"unique_users"`
	RepeatUsers    int64     `gorm:"not null;default:0" json:"repeat_users"`
	ConversionRate float64   `gorm:"not null;default:0" json:"conversion_rate"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MonthlyPartnerMetrics) TableName() string { return "monthly_partner_metrics" }

// MonthlyGlobalMetrics is the stored aggregate of all venues for one calendar month
type MonthlyGlobalMetrics struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	PeriodStart    time.Time `gorm:"not null;uniqueIndex:uk_monthly_global_metrics_period" json:"period_start"`
	PeriodEnd      time.Time `gorm:"not null" json:"period_end"`
	PageViews      int64     `gorm:"not null;default:0" json:"page_views"`
	QRGenerated    int64     `gorm:"column:qr_generated;not null;default:0" json:"qr_generated"`
	QRRedeemed     int64     `gorm:"column:qr_redeemed;not null;default:0" json:"qr_redeemed"`
	UniqueUsers    int64     `gorm:"not null;default:0" json:"unique_users"`
	RepeatUsers    int64     `gorm:"not null;default:0" json:"repeat_users"`
	TotalPartners  int64     `gorm:"not null;default:0" json:"total_partners"`
	ConversionRate float64   `gorm:"not null;default:0" json:"conversion_rate"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MonthlyGlobalMetrics) TableName() string { return "monthly_global_metrics" }

// MonthlyPartnerMetricsFilter provides filter fields for repository queries
type MonthlyPartnerMetricsFilter struct {
	VenueID     *uint
	PeriodStart *time.Time
}
