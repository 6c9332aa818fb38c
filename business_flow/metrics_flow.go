package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	"github.com/dormup/dormup-discounts/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MetricsFlow aggregates page views and discount uses into daily and monthly metrics.
// Each counter comes from its own query without a surrounding transaction, so a
// result is only consistent when no events land mid-computation.
type MetricsFlow interface {
	ComputeDailyMetrics(ctx context.Context, venueID uint, date time.Time) (*DailyMetrics, error)
	ComputeMonthlyPartnerMetrics(ctx context.Context, venueID uint, month string) (*MonthlyMetrics, error)
	ComputeMonthlyGlobalMetrics(ctx context.Context, month string) (*GlobalMetrics, error)
	UpsertMonthlyPartnerMetrics(ctx context.Context, venueID uint, month string) (*MonthlyMetrics, error)
	UpsertMonthlyGlobalMetrics(ctx context.Context, month string) (*GlobalMetrics, error)
	UpsertAllPartnersForMonth(ctx context.Context, month string) (int, error)
	Backfill(ctx context.Context, months int) (*BackfillResult, error)
}

// MetricsFlowImpl implements MetricsFlow
type MetricsFlowImpl struct {
	db              *gorm.DB
	venueRepo       repository.VenueRepository
	partnerRepo     repository.PartnerRepository
	venueViewRepo   repository.VenueViewRepository
	discountUseRepo repository.DiscountUseRepository
	metricsRepo     repository.MetricsRepository
	logger          *zap.Logger
	now             func() time.Time
}

// NewMetricsFlow creates a new metrics flow
func NewMetricsFlow(
	db *gorm.DB,
	venueRepo repository.VenueRepository,
	partnerRepo repository.PartnerRepository,
	venueViewRepo repository.VenueViewRepository,
	discountUseRepo repository.DiscountUseRepository,
	metricsRepo repository.MetricsRepository,
	logger *zap.Logger,
) MetricsFlow {
	return &MetricsFlowImpl{
		db:              db,
		venueRepo:       venueRepo,
		partnerRepo:     partnerRepo,
		venueViewRepo:   venueViewRepo,
		discountUseRepo: discountUseRepo,
		metricsRepo:     metricsRepo,
		logger:          logger,
		now:             utils.UTCNow,
	}
}

func parseMonthWindow(month string) (time.Time, time.Time, repository.Window, error) {
	start, end, err := utils.MonthBoundsFor(month)
	if err != nil {
		return time.Time{}, time.Time{}, repository.Window{}, NewBusinessError("VALIDATION_ERROR", fmt.Sprintf("Invalid month format: %s. Expected YYYY-MM", month), ErrInvalidMonth)
	}
	return start, end, repository.Window{From: start, To: start.AddDate(0, 1, 0)}, nil
}

func (f *MetricsFlowImpl) counters(ctx context.Context, venueID *uint, w repository.Window) (Counters, error) {
	var c Counters
	var err error

	if c.PageViews, err = f.venueViewRepo.CountInWindow(ctx, venueID, w); err != nil {
		return c, fmt.Errorf("count page views: %w", err)
	}
	if c.QRGenerated, err = f.discountUseRepo.CountGenerated(ctx, venueID, w); err != nil {
		return c, fmt.Errorf("count generated codes: %w", err)
	}
	if c.QRRedeemed, err = f.discountUseRepo.CountConfirmed(ctx, venueID, w); err != nil {
		return c, fmt.Errorf("count redeemed codes: %w", err)
	}

	viewers, err := f.venueViewRepo.DistinctUserIDs(ctx, venueID, w)
	if err != nil {
		return c, fmt.Errorf("list viewers: %w", err)
	}
	generators, err := f.discountUseRepo.DistinctUserIDs(ctx, venueID, w)
	if err != nil {
		return c, fmt.Errorf("list code generators: %w", err)
	}
	users := make(map[string]struct{}, len(viewers)+len(generators))
	for _, id := range viewers {
		users[id] = struct{}{}
	}
	for _, id := range generators {
		users[id] = struct{}{}
	}
	c.UniqueUsers = int64(len(users))

	if c.RepeatUsers, err = f.discountUseRepo.CountRepeatUsers(ctx, venueID, w); err != nil {
		return c, fmt.Errorf("count repeat users: %w", err)
	}
	c.ConversionRate = ConversionRate(c.QRRedeemed, c.QRGenerated)
	return c, nil
}

func (f *MetricsFlowImpl) ComputeDailyMetrics(ctx context.Context, venueID uint, date time.Time) (*DailyMetrics, error) {
	from, to := utils.DayBounds(date)
	c, err := f.counters(ctx, &venueID, repository.Window{From: from, To: to})
	if err != nil {
		return nil, NewBusinessError("METRICS_COMPUTE_FAILED", "Failed to compute daily metrics", err)
	}
	m := &DailyMetrics{
		Kind:     MetricsKindDaily,
		VenueID:  venueID,
		Date:     from.Format(utils.RequestDateLayout),
		Counters: c,
	}
	if err := m.Validate(); err != nil {
		return nil, NewBusinessError("METRICS_INVALID", "Computed daily metrics are invalid", err)
	}
	return m, nil
}

func (f *MetricsFlowImpl) ComputeMonthlyPartnerMetrics(ctx context.Context, venueID uint, month string) (*MonthlyMetrics, error) {
	start, end, w, err := parseMonthWindow(month)
	if err != nil {
		return nil, err
	}
	c, err := f.counters(ctx, &venueID, w)
	if err != nil {
		return nil, NewBusinessError("METRICS_COMPUTE_FAILED", "Failed to compute monthly partner metrics", err)
	}
	m := &MonthlyMetrics{
		Kind:        MetricsKindMonthlyPartner,
		VenueID:     venueID,
		Month:       month,
		PeriodStart: start,
		PeriodEnd:   end,
		Counters:    c,
	}
	if err := m.Validate(); err != nil {
		return nil, NewBusinessError("METRICS_INVALID", "Computed monthly partner metrics are invalid", err)
	}
	return m, nil
}

func (f *MetricsFlowImpl) ComputeMonthlyGlobalMetrics(ctx context.Context, month string) (*GlobalMetrics, error) {
	start, end, w, err := parseMonthWindow(month)
	if err != nil {
		return nil, err
	}
	c, err := f.counters(ctx, nil, w)
	if err != nil {
		return nil, NewBusinessError("METRICS_COMPUTE_FAILED", "Failed to compute global metrics", err)
	}
	partners, err := f.partnerRepo.CountActive(ctx)
	if err != nil {
		return nil, NewBusinessError("METRICS_COMPUTE_FAILED", "Failed to count partners", err)
	}
	m := &GlobalMetrics{
		Kind:          MetricsKindMonthlyGlobal,
		Month:         month,
		PeriodStart:   start,
		PeriodEnd:     end,
		TotalPartners: partners,
		Counters:      c,
	}
	if err := m.Validate(); err != nil {
		return nil, NewBusinessError("METRICS_INVALID", "Computed global metrics are invalid", err)
	}
	return m, nil
}

func (f *MetricsFlowImpl) UpsertMonthlyPartnerMetrics(ctx context.Context, venueID uint, month string) (*MonthlyMetrics, error) {
	exists, err := f.venueRepo.Exists(ctx, models.VenueFilter{ID: &venueID})
	if err != nil {
		return nil, NewBusinessError("VENUE_LOOKUP_FAILED", "Failed to load venue", err)
	}
	if !exists {
		return nil, NewBusinessError("VENUE_NOT_FOUND", "Venue not found", ErrVenueNotFound)
	}

	m, err := f.ComputeMonthlyPartnerMetrics(ctx, venueID, month)
	if err != nil {
		return nil, err
	}

	row := &models.MonthlyPartnerMetrics{
		VenueID:        venueID,
		PeriodStart:    m.PeriodStart,
		PeriodEnd:      m.PeriodEnd,
		PageViews:      m.PageViews,
		QRGenerated:    m.QRGenerated,
		QRRedeemed:     m.QRRedeemed,
		UniqueUsers:    m.UniqueUsers,
		RepeatUsers:    m.RepeatUsers,
		ConversionRate: m.ConversionRate,
		UpdatedAt:      f.now(),
	}
	if err := f.metricsRepo.UpsertPartner(ctx, row); err != nil {
		return nil, NewBusinessError("METRICS_UPSERT_FAILED", "Failed to store monthly partner metrics", err)
	}
	return m, nil
}

func (f *MetricsFlowImpl) UpsertMonthlyGlobalMetrics(ctx context.Context, month string) (*GlobalMetrics, error) {
	m, err := f.ComputeMonthlyGlobalMetrics(ctx, month)
	if err != nil {
		return nil, err
	}

	row := &models.MonthlyGlobalMetrics{
		PeriodStart:    m.PeriodStart,
		PeriodEnd:      m.PeriodEnd,
		PageViews:      m.PageViews,
		QRGenerated:    m.QRGenerated,
		QRRedeemed:     m.QRRedeemed,
		UniqueUsers:    m.UniqueUsers,
		RepeatUsers:    m.RepeatUsers,
		TotalPartners:  m.TotalPartners,
		ConversionRate: m.ConversionRate,
		UpdatedAt:      f.now(),
	}
	if err := f.metricsRepo.UpsertGlobal(ctx, row); err != nil {
		return nil, NewBusinessError("METRICS_UPSERT_FAILED", "Failed to store global metrics", err)
	}
	return m, nil
}

// UpsertAllPartnersForMonth recomputes every active venue with a partner account.
// Rows are written in one transaction: a failure on any venue leaves the month untouched.
func (f *MetricsFlowImpl) UpsertAllPartnersForMonth(ctx context.Context, month string) (int, error) {
	var count int
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		venueIDs, err := f.partnerRepo.VenueIDs(txCtx)
		if err != nil {
			return NewBusinessError("METRICS_COMPUTE_FAILED", "Failed to list partner venues", err)
		}
		for _, id := range venueIDs {
			if err := txCtx.Err(); err != nil {
				return err
			}
			if _, err := f.UpsertMonthlyPartnerMetrics(txCtx, id, month); err != nil {
				return err
			}
		}
		count = len(venueIDs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Backfill recomputes the last n months, current month included
func (f *MetricsFlowImpl) Backfill(ctx context.Context, months int) (*BackfillResult, error) {
	if months <= 0 {
		months = utils.DefaultBackfillMonths
	}
	result := &BackfillResult{}
	for _, month := range utils.RecentMonths(f.now(), months) {
		f.logger.Info("Backfilling monthly metrics", zap.String("month", month))
		if _, err := f.UpsertMonthlyGlobalMetrics(ctx, month); err != nil {
			return nil, err
		}
		n, err := f.UpsertAllPartnersForMonth(ctx, month)
		if err != nil {
			return nil, err
		}
		result.Months = append(result.Months, month)
		result.PartnerRows += n
	}
	f.logger.Info("Backfill complete", zap.Int("months", months), zap.Int("partner_rows", result.PartnerRows))
	return result, nil
}
