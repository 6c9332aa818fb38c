package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ExportJob tracks one asynchronous raw-event export
type ExportJob struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Status       JobStatus      `gorm:"size:16;not null;default:PENDING;index:idx_export_jobs_status" json:"status"`
	Format       string         `gorm:"size:8;not null" json:"format"`
	FromDate     time.Time      `gorm:"not null" json:"from_date"`
	ToDate       time.Time      `gorm:"not null" json:"to_date"`
	PartnerID    *uint          `gorm:"index:idx_export_jobs_partner_id" json:"partner_id,omitempty"`
	EventTypes   datatypes.JSON `gorm:"not null" json:"event_types"`
	FiltersJSON  datatypes.JSON `gorm:"column:filters_json" json:"filters_json"`
	RowCount     *int64         `json:"row_count,omitempty"`
	FilePath     *string        `gorm:"size:512" json:"file_path,omitempty"`
	ErrorMessage *string        `gorm:"size:255" json:"error_message,omitempty"`
	CreatedBy    string         `gorm:"size:64;not null;index:idx_export_jobs_created_by" json:"created_by"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_export_jobs_created_at" json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

func (ExportJob) TableName() string { return "export_jobs" }

// ExportJobFilter provides filter fields for repository queries
type ExportJobFilter struct {
	ID        *uuid.UUID
	Status    *JobStatus
	PartnerID *uint
	CreatedBy *string
}
