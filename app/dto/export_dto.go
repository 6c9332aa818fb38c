package dto

// CreateExportJobRequest asks for an asynchronous raw-event export. Dates are YYYY-MM-DD, to inclusive.
type CreateExportJobRequest struct {
	Format    string   `json:"format" validate:"required,oneof=csv xlsx CSV XLSX"`
	From      string   `json:"from" validate:"required"`
	To        string   `json:"to" validate:"required"`
	PartnerID *uint    `json:"partnerId,omitempty" validate:"omitempty,gt=0"`
	Types     []string `json:"types,omitempty" validate:"omitempty,dive,required"`
	TZ        string   `json:"tz,omitempty" validate:"omitempty,max=64"`
}

type CreateExportJobResponse struct {
	JobID   string `json:"jobId" example:"6c1f3b3e-2d0b-4a38-8f5c-1a7a2b0f9e11"`
	Status  string `json:"status" example:"PENDING"`
	Message string `json:"message" example:"Export job created. Poll for status."`
}

type ExportJobDTO struct {
	ID           string   `json:"id"`
	Status       string   `json:"status"`
	Format       string   `json:"format"`
	FromDate     string   `json:"from_date"`
	ToDate       string   `json:"to_date"`
	PartnerID    *uint    `json:"partner_id,omitempty"`
	EventTypes   []string `json:"event_types"`
	RowCount     *int64   `json:"row_count,omitempty"`
	FilePath     *string  `json:"file_path,omitempty"`
	ErrorMessage *string  `json:"error_message,omitempty"`
	CreatedBy    string   `json:"created_by"`
	CreatedAt    string   `json:"created_at"`
	CompletedAt  *string  `json:"completed_at,omitempty"`
	DownloadURL  *string  `json:"download_url,omitempty"`
}

type ListExportJobsResponse struct {
	Jobs []ExportJobDTO `json:"jobs"`
}

// LegacyExportRequest is the synchronous monthly export query
type LegacyExportRequest struct {
	Type      string `query:"type" validate:"omitempty,oneof=csv json"`
	Scope     string `query:"scope" validate:"omitempty,oneof=admin partner"`
	Month     string `query:"month"`
	PartnerID *uint  `query:"partnerId" validate:"omitempty,gt=0"`
}

type LegacyEventDTO struct {
	EventType  string         `json:"event_type"`
	Timestamp  string         `json:"timestamp"`
	VenueID    uint           `json:"venue_id"`
	VenueName  string         `json:"venue_name"`
	UserIDHash *string        `json:"user_id_hash"`
	Metadata   map[string]any `json:"metadata"`
}

type LegacyExportResponse struct {
	Month       string           `json:"month"`
	Scope       string           `json:"scope"`
	VenueID     *uint            `json:"venue_id"`
	TotalEvents int              `json:"total_events"`
	Events      []LegacyEventDTO `json:"events"`
}
