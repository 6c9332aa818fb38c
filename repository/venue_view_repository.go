package repository

import (
	"context"

	"github.com/dormup/dormup-discounts/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VenueViewRepositoryImpl implements VenueViewRepository
type VenueViewRepositoryImpl struct {
	*BaseRepository[models.VenueView, models.VenueViewFilter]
}

func NewVenueViewRepository(db *gorm.DB) VenueViewRepository {
	return &VenueViewRepositoryImpl{BaseRepository: NewBaseRepository[models.VenueView, models.VenueViewFilter](db)}
}

func (r *VenueViewRepositoryImpl) applyFilter(db *gorm.DB, f models.VenueViewFilter) *gorm.DB {
	if f.VenueID != nil {
		db = db.Where("venue_id = ?", *f.VenueID)
	}
	if len(f.VenueIDs) > 0 {
		db = db.Where("venue_id IN ?", f.VenueIDs)
	}
	if f.UserID != nil {
		db = db.Where("user_id = ?", *f.UserID)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	if f.AfterID != nil {
		db = db.Where("id > ?", *f.AfterID)
	}
	return db
}

func (r *VenueViewRepositoryImpl) ByFilter(ctx context.Context, filter models.VenueViewFilter, orderBy string, limit, offset int) ([]*models.VenueView, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.VenueView{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.VenueView
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *VenueViewRepositoryImpl) Count(ctx context.Context, filter models.VenueViewFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.VenueView{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *VenueViewRepositoryImpl) Exists(ctx context.Context, filter models.VenueViewFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// SaveDeduped inserts the view unless its dedupe key was already recorded; it reports whether a row was written
func (r *VenueViewRepositoryImpl) SaveDeduped(ctx context.Context, view *models.VenueView) (bool, error) {
	db := r.getDB(ctx)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(view)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func windowFilter(venueID *uint, w Window) models.VenueViewFilter {
	return models.VenueViewFilter{VenueID: venueID, CreatedAfter: &w.From, CreatedBefore: &w.To}
}

// CountInWindow counts views of one venue, or of all venues when venueID is nil
func (r *VenueViewRepositoryImpl) CountInWindow(ctx context.Context, venueID *uint, w Window) (int64, error) {
	return r.Count(ctx, windowFilter(venueID, w))
}

// DistinctUserIDs returns the non-null user ids that viewed within the window
func (r *VenueViewRepositoryImpl) DistinctUserIDs(ctx context.Context, venueID *uint, w Window) ([]string, error) {
	db := r.getDB(ctx)
	var ids []string
	err := r.applyFilter(db.Model(&models.VenueView{}), windowFilter(venueID, w)).
		Where("user_id IS NOT NULL").
		Distinct().
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ChunkAfter returns the next page of views with id greater than filter.AfterID, ascending by id
func (r *VenueViewRepositoryImpl) ChunkAfter(ctx context.Context, filter models.VenueViewFilter, limit int) ([]*models.VenueView, error) {
	db := r.getDB(ctx)
	var rows []*models.VenueView
	err := r.applyFilter(db.Model(&models.VenueView{}), filter).
		Preload("Venue").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
