package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dormup/dormup-discounts/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReportSnapshotRepositoryImpl implements ReportSnapshotRepository
type ReportSnapshotRepositoryImpl struct {
	*BaseRepository[models.ReportSnapshot, models.ReportSnapshotFilter]
}

func NewReportSnapshotRepository(db *gorm.DB) ReportSnapshotRepository {
	return &ReportSnapshotRepositoryImpl{BaseRepository: NewBaseRepository[models.ReportSnapshot, models.ReportSnapshotFilter](db)}
}

func (r *ReportSnapshotRepositoryImpl) ByJobID(ctx context.Context, jobID uuid.UUID) (*models.ReportSnapshot, error) {
	db := r.getDB(ctx)
	var row models.ReportSnapshot
	if err := db.Where("job_id = ?", jobID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *ReportSnapshotRepositoryImpl) applyFilter(db *gorm.DB, f models.ReportSnapshotFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.Scope != nil {
		db = db.Where("scope = ?", *f.Scope)
	}
	if f.Month != nil {
		db = db.Where("month = ?", *f.Month)
	}
	if f.PartnerID != nil {
		db = db.Where("partner_id = ?", *f.PartnerID)
	}
	if f.CreatedBy != nil {
		db = db.Where("created_by = ?", *f.CreatedBy)
	}
	return db
}

func (r *ReportSnapshotRepositoryImpl) ByFilter(ctx context.Context, filter models.ReportSnapshotFilter, orderBy string, limit, offset int) ([]*models.ReportSnapshot, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ReportSnapshot{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.ReportSnapshot
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ReportSnapshotRepositoryImpl) Count(ctx context.Context, filter models.ReportSnapshotFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.ReportSnapshot{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ReportSnapshotRepositoryImpl) Exists(ctx context.Context, filter models.ReportSnapshotFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// MarkReady finalizes a pending snapshot with its artifact paths
func (r *ReportSnapshotRepositoryImpl) MarkReady(ctx context.Context, id uint, pdfPath, pngPath string, at time.Time) error {
	return r.finishPending(ctx, "id", id, map[string]any{
		"status":       models.JobStatusReady,
		"pdf_path":     pdfPath,
		"png_path":     pngPath,
		"completed_at": at,
	})
}

// MarkFailed finalizes a pending snapshot with a short error
func (r *ReportSnapshotRepositoryImpl) MarkFailed(ctx context.Context, id uint, message string, at time.Time) error {
	return r.finishPending(ctx, "id", id, map[string]any{
		"status":        models.JobStatusFailed,
		"error_message": message,
		"completed_at":  at,
	})
}
