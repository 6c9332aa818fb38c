package dto

type CreateSnapshotRequest struct {
	Month     string `json:"month,omitempty"`
	Scope     string `json:"scope,omitempty" validate:"omitempty,oneof=admin partner"`
	PartnerID *uint  `json:"partnerId,omitempty" validate:"omitempty,gt=0"`
}

type CreateSnapshotResponse struct {
	SnapshotID uint   `json:"snapshotId" example:"42"`
	JobID      string `json:"jobId" example:"6c1f3b3e-2d0b-4a38-8f5c-1a7a2b0f9e11"`
	Status     string `json:"status" example:"PENDING"`
}

type SnapshotDTO struct {
	ID           uint    `json:"id"`
	JobID        string  `json:"job_id"`
	Scope        string  `json:"scope"`
	Month        string  `json:"month"`
	PartnerID    *uint   `json:"partner_id,omitempty"`
	VenueID      *uint   `json:"venue_id,omitempty"`
	Status       string  `json:"status"`
	MetricsHash  *string `json:"metrics_hash,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedBy    string  `json:"created_by"`
	CreatedAt    string  `json:"created_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	PDFURL       *string `json:"pdf_url,omitempty"`
	PNGURL       *string `json:"png_url,omitempty"`
}

type ListSnapshotsRequest struct {
	Month string `query:"month"`
	Scope string `query:"scope" validate:"omitempty,oneof=admin partner"`
}

type ListSnapshotsResponse struct {
	Snapshots []SnapshotDTO `json:"snapshots"`
}

// PrintReportRequest is what the print route receives from the renderer
type PrintReportRequest struct {
	Scope     string `query:"scope" validate:"required,oneof=admin partner"`
	Month     string `query:"month" validate:"required"`
	Token     string `query:"token" validate:"required"`
	PartnerID *uint  `query:"partnerId"`
}
