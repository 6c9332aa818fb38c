package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportSnapshot tracks one rendered PDF/PNG pair of a monthly report
type ReportSnapshot struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	JobID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_report_snapshots_job_id" json:"job_id"`
	Scope        string     `gorm:"size:16;not null;index:idx_report_snapshots_scope_month,priority:1" json:"scope"`
	Month        string     `gorm:"size:7;not null;index:idx_report_snapshots_scope_month,priority:2" json:"month"`
	PartnerID    *uint      `gorm:"index:idx_report_snapshots_partner_id" json:"partner_id,omitempty"`
	VenueID      *uint      `json:"venue_id,omitempty"`
	Status       JobStatus  `gorm:"size:16;not null;default:PENDING" json:"status"`
	PDFPath      *string    `gorm:"column:pdf_path;size:512" json:"pdf_path,omitempty"`
	PNGPath      *string    `gorm:"column:png_path;size:512" json:"png_path,omitempty"`
	MetricsHash  *string    `gorm:"size:32" json:"metrics_hash,omitempty"`
	ErrorMessage *string    `gorm:"size:255" json:"error_message,omitempty"`
	CreatedBy    string     `gorm:"size:64;not null" json:"created_by"`
	CreatedAt    time.Time  `gorm:"not null;index:idx_report_snapshots_created_at" json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (ReportSnapshot) TableName() string { return "report_snapshots" }

// ReportSnapshotFilter provides filter fields for repository queries
type ReportSnapshotFilter struct {
	ID        *uint
	Scope     *string
	Month     *string
	PartnerID *uint
	CreatedBy *string
}
