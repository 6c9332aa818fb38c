package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExportJobRepositoryImpl implements ExportJobRepository
type ExportJobRepositoryImpl struct {
	*BaseRepository[models.ExportJob, models.ExportJobFilter]
}

func NewExportJobRepository(db *gorm.DB) ExportJobRepository {
	return &ExportJobRepositoryImpl{BaseRepository: NewBaseRepository[models.ExportJob, models.ExportJobFilter](db)}
}

func (r *ExportJobRepositoryImpl) ByJobID(ctx context.Context, id uuid.UUID) (*models.ExportJob, error) {
	db := r.getDB(ctx)
	var row models.ExportJob
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *ExportJobRepositoryImpl) applyFilter(db *gorm.DB, f models.ExportJobFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.PartnerID != nil {
		db = db.Where("partner_id = ?", *f.PartnerID)
	}
	if f.CreatedBy != nil {
		db = db.Where("created_by = ?", *f.CreatedBy)
	}
	return db
}

func (r *ExportJobRepositoryImpl) ByFilter(ctx context.Context, filter models.ExportJobFilter, orderBy string, limit, offset int) ([]*models.ExportJob, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ExportJob{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.ExportJob
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkReady finalizes a pending job with its output
func (r *ExportJobRepositoryImpl) MarkReady(ctx context.Context, id uuid.UUID, rowCount int64, filePath string, at time.Time) error {
	return r.finishPending(ctx, "id", id, map[string]any{
		"status":       models.JobStatusReady,
		"row_count":    rowCount,
		"file_path":    filePath,
		"completed_at": at,
	})
}

// MarkFailed finalizes a pending job with an error message
func (r *ExportJobRepositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	return r.finishPending(ctx, "id", id, map[string]any{
		"status":        models.JobStatusFailed,
		"error_message": message,
		"completed_at":  at,
	})
}
