package repository

import (
	"context"
	"strings"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"gorm.io/gorm"
)

// AdminRepositoryImpl implements AdminRepository interface
type AdminRepositoryImpl struct {
	*BaseRepository[models.Admin, models.AdminFilter]
}

// NewAdminRepository creates a new admin repository
func NewAdminRepository(db *gorm.DB) AdminRepository {
	return &AdminRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Admin, models.AdminFilter](db),
	}
}

// ByEmail retrieves an admin by email, case-insensitively
func (r *AdminRepositoryImpl) ByEmail(ctx context.Context, email string) (*models.Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	admins, err := r.ByFilter(ctx, models.AdminFilter{Email: &email}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(admins) == 0 {
		return nil, nil
	}
	return admins[0], nil
}

// UpdateLastLogin stamps the admin's last successful login
func (r *AdminRepositoryImpl) UpdateLastLogin(ctx context.Context, id uint, at time.Time) error {
	db := r.getDB(ctx)
	return db.Model(&models.Admin{}).Where("id = ?", id).Update("last_login_at", at).Error
}

// ByFilter retrieves admins based on filter criteria
func (r *AdminRepositoryImpl) ByFilter(ctx context.Context, filter models.AdminFilter, orderBy string, limit, offset int) ([]*models.Admin, error) {
	db := r.getDB(ctx)

	query := r.applyFilter(db.Model(&models.Admin{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	} else {
		query = query.Order("id DESC")
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var admins []*models.Admin
	if err := query.Find(&admins).Error; err != nil {
		return nil, err
	}
	return admins, nil
}

// Count returns the number of admins matching the filter
func (r *AdminRepositoryImpl) Count(ctx context.Context, filter models.AdminFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	if err := r.applyFilter(db.Model(&models.Admin{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if an admin exists matching the filter
func (r *AdminRepositoryImpl) Exists(ctx context.Context, filter models.AdminFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *AdminRepositoryImpl) applyFilter(query *gorm.DB, filter models.AdminFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.Email != nil {
		query = query.Where("email = ?", *filter.Email)
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}
