package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/dormup/dormup-discounts/models"
	"gorm.io/gorm"
)

// PartnerRepositoryImpl implements PartnerRepository
type PartnerRepositoryImpl struct {
	*BaseRepository[models.Partner, models.PartnerFilter]
}

func NewPartnerRepository(db *gorm.DB) PartnerRepository {
	return &PartnerRepositoryImpl{BaseRepository: NewBaseRepository[models.Partner, models.PartnerFilter](db)}
}

func (r *PartnerRepositoryImpl) applyFilter(db *gorm.DB, f models.PartnerFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.Email != nil {
		db = db.Where("email = ?", strings.ToLower(*f.Email))
	}
	if f.VenueID != nil {
		db = db.Where("venue_id = ?", *f.VenueID)
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	return db
}

func (r *PartnerRepositoryImpl) ByFilter(ctx context.Context, filter models.PartnerFilter, orderBy string, limit, offset int) ([]*models.Partner, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Partner{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Partner
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PartnerRepositoryImpl) Count(ctx context.Context, filter models.PartnerFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Partner{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PartnerRepositoryImpl) Exists(ctx context.Context, filter models.PartnerFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *PartnerRepositoryImpl) first(ctx context.Context, filter models.PartnerFilter) (*models.Partner, error) {
	rows, err := r.ByFilter(ctx, filter, "id DESC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *PartnerRepositoryImpl) ByEmail(ctx context.Context, email string) (*models.Partner, error) {
	return r.first(ctx, models.PartnerFilter{Email: &email})
}

func (r *PartnerRepositoryImpl) ByVenueID(ctx context.Context, venueID uint) (*models.Partner, error) {
	return r.first(ctx, models.PartnerFilter{VenueID: &venueID})
}

// ByIDWithVenue loads a partner together with its venue
func (r *PartnerRepositoryImpl) ByIDWithVenue(ctx context.Context, id uint) (*models.Partner, error) {
	db := r.getDB(ctx)
	var row models.Partner
	if err := db.Preload("Venue").Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListWithVenue returns every partner with its venue preloaded
func (r *PartnerRepositoryImpl) ListWithVenue(ctx context.Context) ([]*models.Partner, error) {
	db := r.getDB(ctx)
	var rows []*models.Partner
	if err := db.Preload("Venue").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// VenueIDs returns the ids of active venues that have a partner account
func (r *PartnerRepositoryImpl) VenueIDs(ctx context.Context) ([]uint, error) {
	db := r.getDB(ctx)
	var ids []uint
	err := db.Model(&models.Partner{}).
		Joins("JOIN venues ON venues.id = partners.venue_id").
		Where("venues.is_active = ?", true).
		Distinct().
		Order("partners.venue_id ASC").
		Pluck("partners.venue_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CountActive counts active partners whose venue is active too
func (r *PartnerRepositoryImpl) CountActive(ctx context.Context) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	err := db.Model(&models.Partner{}).
		Joins("JOIN venues ON venues.id = partners.venue_id").
		Where("partners.is_active = ? AND venues.is_active = ?", true, true).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
