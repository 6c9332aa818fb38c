package repository

import (
	"context"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"gorm.io/gorm"
)

// DiscountUseRepositoryImpl implements DiscountUseRepository
type DiscountUseRepositoryImpl struct {
	*BaseRepository[models.DiscountUse, models.DiscountUseFilter]
}

func NewDiscountUseRepository(db *gorm.DB) DiscountUseRepository {
	return &DiscountUseRepositoryImpl{BaseRepository: NewBaseRepository[models.DiscountUse, models.DiscountUseFilter](db)}
}

func (r *DiscountUseRepositoryImpl) applyFilter(db *gorm.DB, f models.DiscountUseFilter) *gorm.DB {
	if f.VenueID != nil {
		db = db.Where("venue_id = ?", *f.VenueID)
	}
	if len(f.VenueIDs) > 0 {
		db = db.Where("venue_id IN ?", f.VenueIDs)
	}
	if f.UserID != nil {
		db = db.Where("user_id = ?", *f.UserID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	if f.ConfirmedAfter != nil {
		db = db.Where("confirmed_at >= ?", *f.ConfirmedAfter)
	}
	if f.ConfirmedBefore != nil {
		db = db.Where("confirmed_at < ?", *f.ConfirmedBefore)
	}
	if f.ExpiresBefore != nil {
		db = db.Where("expires_at < ?", *f.ExpiresBefore)
	}
	if f.AfterID != nil {
		db = db.Where("id > ?", *f.AfterID)
	}
	return db
}

func (r *DiscountUseRepositoryImpl) ByFilter(ctx context.Context, filter models.DiscountUseFilter, orderBy string, limit, offset int) ([]*models.DiscountUse, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.DiscountUse{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.DiscountUse
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DiscountUseRepositoryImpl) Count(ctx context.Context, filter models.DiscountUseFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.DiscountUse{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DiscountUseRepositoryImpl) Exists(ctx context.Context, filter models.DiscountUseFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func confirmedFilter(venueID *uint, w Window) models.DiscountUseFilter {
	status := models.DiscountStatusConfirmed
	return models.DiscountUseFilter{
		VenueID:         venueID,
		Status:          &status,
		ConfirmedAfter:  &w.From,
		ConfirmedBefore: &w.To,
	}
}

// CountGenerated counts codes created within the window
func (r *DiscountUseRepositoryImpl) CountGenerated(ctx context.Context, venueID *uint, w Window) (int64, error) {
	return r.Count(ctx, models.DiscountUseFilter{VenueID: venueID, CreatedAfter: &w.From, CreatedBefore: &w.To})
}

// CountConfirmed counts codes confirmed within the window, regardless of when they were created
func (r *DiscountUseRepositoryImpl) CountConfirmed(ctx context.Context, venueID *uint, w Window) (int64, error) {
	return r.Count(ctx, confirmedFilter(venueID, w))
}

// DistinctUserIDs returns the non-null user ids that generated a code within the window
func (r *DiscountUseRepositoryImpl) DistinctUserIDs(ctx context.Context, venueID *uint, w Window) ([]string, error) {
	db := r.getDB(ctx)
	var ids []string
	err := r.applyFilter(db.Model(&models.DiscountUse{}), models.DiscountUseFilter{VenueID: venueID, CreatedAfter: &w.From, CreatedBefore: &w.To}).
		Where("user_id IS NOT NULL").
		Distinct().
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CountRepeatUsers counts users with at least two confirmations within the window
func (r *DiscountUseRepositoryImpl) CountRepeatUsers(ctx context.Context, venueID *uint, w Window) (int64, error) {
	db := r.getDB(ctx)
	sub := r.applyFilter(db.Model(&models.DiscountUse{}), confirmedFilter(venueID, w)).
		Select("user_id").
		Where("user_id IS NOT NULL").
		Group("user_id").
		Having("COUNT(*) >= ?", 2)

	var count int64
	if err := db.Table("(?) AS repeaters", sub).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountUniqueRedeemers counts distinct users with a confirmation within the window
func (r *DiscountUseRepositoryImpl) CountUniqueRedeemers(ctx context.Context, venueID *uint, w Window) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	err := r.applyFilter(db.Model(&models.DiscountUse{}), confirmedFilter(venueID, w)).
		Where("user_id IS NOT NULL").
		Distinct("user_id").
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ConfirmationTimes returns confirmation timestamps of one venue within the window, oldest first
func (r *DiscountUseRepositoryImpl) ConfirmationTimes(ctx context.Context, venueID uint, w Window) ([]time.Time, error) {
	rows, err := r.ByFilter(ctx, confirmedFilter(&venueID, w), "confirmed_at ASC", 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(rows))
	for _, row := range rows {
		if row.ConfirmedAt != nil {
			out = append(out, row.ConfirmedAt.UTC())
		}
	}
	return out, nil
}

// ChunkAfter returns the next page of discount uses with id greater than filter.AfterID, ascending by id
func (r *DiscountUseRepositoryImpl) ChunkAfter(ctx context.Context, filter models.DiscountUseFilter, limit int) ([]*models.DiscountUse, error) {
	db := r.getDB(ctx)
	var rows []*models.DiscountUse
	err := r.applyFilter(db.Model(&models.DiscountUse{}), filter).
		Preload("Venue").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ExpireOverdue flips generated codes whose expiry passed to expired
func (r *DiscountUseRepositoryImpl) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.DiscountUse{}).
		Where("status = ? AND expires_at < ?", models.DiscountStatusGenerated, now).
		Update("status", models.DiscountStatusExpired)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
