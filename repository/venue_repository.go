package repository

import (
	"context"

	"github.com/dormup/dormup-discounts/models"
	"gorm.io/gorm"
)

// VenueRepositoryImpl implements VenueRepository
type VenueRepositoryImpl struct {
	*BaseRepository[models.Venue, models.VenueFilter]
}

func NewVenueRepository(db *gorm.DB) VenueRepository {
	return &VenueRepositoryImpl{BaseRepository: NewBaseRepository[models.Venue, models.VenueFilter](db)}
}

func (r *VenueRepositoryImpl) applyFilter(db *gorm.DB, f models.VenueFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if len(f.IDs) > 0 {
		db = db.Where("id IN ?", f.IDs)
	}
	if f.City != nil {
		db = db.Where("city = ?", *f.City)
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	return db
}

func (r *VenueRepositoryImpl) ByFilter(ctx context.Context, filter models.VenueFilter, orderBy string, limit, offset int) ([]*models.Venue, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Venue{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Venue
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *VenueRepositoryImpl) Count(ctx context.Context, filter models.VenueFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Venue{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *VenueRepositoryImpl) Exists(ctx context.Context, filter models.VenueFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// ByIDs loads venues keyed by id
func (r *VenueRepositoryImpl) ByIDs(ctx context.Context, ids []uint) (map[uint]*models.Venue, error) {
	out := make(map[uint]*models.Venue, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.ByFilter(ctx, models.VenueFilter{IDs: ids}, "", 0, 0)
	if err != nil {
		return nil, err
	}
	for _, v := range rows {
		out[v.ID] = v
	}
	return out, nil
}
