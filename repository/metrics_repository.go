package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var metricColumns = []string{
	"period_end",
	"page_views",
	"qr_generated",
	"qr_redeemed",
	"unique_users",
	"repeat_users",
	"conversion_rate",
	"updated_at",
}

// MetricsRepositoryImpl implements MetricsRepository. Upserts rely on the unique
// indexes over (venue_id, period_start) and (period_start) so concurrent
// recomputations of one period converge on a single row.
type MetricsRepositoryImpl struct {
	DB *gorm.DB
}

func NewMetricsRepository(db *gorm.DB) MetricsRepository {
	return &MetricsRepositoryImpl{DB: db}
}

func (r *MetricsRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.DB.WithContext(ctx)
}

// UpsertPartner inserts or fully overwrites the venue-month row
func (r *MetricsRepositoryImpl) UpsertPartner(ctx context.Context, row *models.MonthlyPartnerMetrics) error {
	db := r.getDB(ctx)
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "venue_id"}, {Name: "period_start"}},
		DoUpdates: clause.AssignmentColumns(metricColumns),
	}).Create(row).Error
}

// UpsertGlobal inserts or fully overwrites the month row
func (r *MetricsRepositoryImpl) UpsertGlobal(ctx context.Context, row *models.MonthlyGlobalMetrics) error {
	db := r.getDB(ctx)
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "period_start"}},
		DoUpdates: clause.AssignmentColumns(append([]string{"total_partners"}, metricColumns...)),
	}).Create(row).Error
}

func (r *MetricsRepositoryImpl) PartnerByPeriod(ctx context.Context, venueID uint, periodStart time.Time) (*models.MonthlyPartnerMetrics, error) {
	db := r.getDB(ctx)
	var row models.MonthlyPartnerMetrics
	err := db.Preload("Venue").
		Where("venue_id = ? AND period_start = ?", venueID, periodStart).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *MetricsRepositoryImpl) GlobalByPeriod(ctx context.Context, periodStart time.Time) (*models.MonthlyGlobalMetrics, error) {
	db := r.getDB(ctx)
	var row models.MonthlyGlobalMetrics
	if err := db.Where("period_start = ?", periodStart).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListPartnersByPeriod returns every venue row of the month, most redemptions first
func (r *MetricsRepositoryImpl) ListPartnersByPeriod(ctx context.Context, periodStart time.Time) ([]*models.MonthlyPartnerMetrics, error) {
	db := r.getDB(ctx)
	var rows []*models.MonthlyPartnerMetrics
	err := db.Preload("Venue").
		Where("period_start = ?", periodStart).
		Order("qr_redeemed DESC").
		Order("venue_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
