package repository

import (
	"context"
	"errors"

	"github.com/dormup/dormup-discounts/models"
	"gorm.io/gorm"
)

// ProfileRepositoryImpl implements ProfileRepository
type ProfileRepositoryImpl struct {
	*BaseRepository[models.Profile, struct{}]
}

func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &ProfileRepositoryImpl{BaseRepository: NewBaseRepository[models.Profile, struct{}](db)}
}

func (r *ProfileRepositoryImpl) ByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	db := r.getDB(ctx)
	var row models.Profile
	if err := db.Where("user_id = ?", userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
