// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// Window is a time range used by aggregate queries. To is exclusive.
type Window struct {
	From time.Time
	To   time.Time
}

// VenueRepository defines operations for venues
type VenueRepository interface {
	Repository[models.Venue, models.VenueFilter]
	ByIDs(ctx context.Context, ids []uint) (map[uint]*models.Venue, error)
}

// PartnerRepository defines operations for partner accounts
type PartnerRepository interface {
	Repository[models.Partner, models.PartnerFilter]
	ByEmail(ctx context.Context, email string) (*models.Partner, error)
	ByVenueID(ctx context.Context, venueID uint) (*models.Partner, error)
	ByIDWithVenue(ctx context.Context, id uint) (*models.Partner, error)
	ListWithVenue(ctx context.Context) ([]*models.Partner, error)
	VenueIDs(ctx context.Context) ([]uint, error)
	CountActive(ctx context.Context) (int64, error)
}

// AdminRepository defines operations for back-office admins
type AdminRepository interface {
	Repository[models.Admin, models.AdminFilter]
	ByEmail(ctx context.Context, email string) (*models.Admin, error)
	UpdateLastLogin(ctx context.Context, id uint, at time.Time) error
}

// ProfileRepository defines operations for identity-provider profiles
type ProfileRepository interface {
	ByUserID(ctx context.Context, userID string) (*models.Profile, error)
	Save(ctx context.Context, profile *models.Profile) error
}

// VenueViewRepository defines read models over page views
type VenueViewRepository interface {
	Repository[models.VenueView, models.VenueViewFilter]
	SaveDeduped(ctx context.Context, view *models.VenueView) (bool, error)
	CountInWindow(ctx context.Context, venueID *uint, w Window) (int64, error)
	DistinctUserIDs(ctx context.Context, venueID *uint, w Window) ([]string, error)
	ChunkAfter(ctx context.Context, filter models.VenueViewFilter, limit int) ([]*models.VenueView, error)
}

// DiscountUseRepository defines read models over generated discount codes
type DiscountUseRepository interface {
	Repository[models.DiscountUse, models.DiscountUseFilter]
	CountGenerated(ctx context.Context, venueID *uint, w Window) (int64, error)
	CountConfirmed(ctx context.Context, venueID *uint, w Window) (int64, error)
	DistinctUserIDs(ctx context.Context, venueID *uint, w Window) ([]string, error)
	CountRepeatUsers(ctx context.Context, venueID *uint, w Window) (int64, error)
	CountUniqueRedeemers(ctx context.Context, venueID *uint, w Window) (int64, error)
	ConfirmationTimes(ctx context.Context, venueID uint, w Window) ([]time.Time, error)
	ChunkAfter(ctx context.Context, filter models.DiscountUseFilter, limit int) ([]*models.DiscountUse, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// MetricsRepository defines persistence of monthly aggregates
type MetricsRepository interface {
	UpsertPartner(ctx context.Context, row *models.MonthlyPartnerMetrics) error
	UpsertGlobal(ctx context.Context, row *models.MonthlyGlobalMetrics) error
	PartnerByPeriod(ctx context.Context, venueID uint, periodStart time.Time) (*models.MonthlyPartnerMetrics, error)
	GlobalByPeriod(ctx context.Context, periodStart time.Time) (*models.MonthlyGlobalMetrics, error)
	ListPartnersByPeriod(ctx context.Context, periodStart time.Time) ([]*models.MonthlyPartnerMetrics, error)
}

// ExportJobRepository defines the export side of the job ledger
type ExportJobRepository interface {
	ByJobID(ctx context.Context, id uuid.UUID) (*models.ExportJob, error)
	Save(ctx context.Context, job *models.ExportJob) error
	ByFilter(ctx context.Context, filter models.ExportJobFilter, orderBy string, limit, offset int) ([]*models.ExportJob, error)
	MarkReady(ctx context.Context, id uuid.UUID, rowCount int64, filePath string, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string, at time.Time) error
}

// ReportSnapshotRepository defines the snapshot side of the job ledger
type ReportSnapshotRepository interface {
	Repository[models.ReportSnapshot, models.ReportSnapshotFilter]
	ByJobID(ctx context.Context, jobID uuid.UUID) (*models.ReportSnapshot, error)
	MarkReady(ctx context.Context, id uint, pdfPath, pngPath string, at time.Time) error
	MarkFailed(ctx context.Context, id uint, message string, at time.Time) error
}
