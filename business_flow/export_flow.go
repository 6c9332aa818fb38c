package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dormup/dormup-discounts/app/dto"
	"github.com/dormup/dormup-discounts/app/services"
	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ExportConfig bounds and shapes raw-event exports
type ExportConfig struct {
	MaxDateRangeDays  int
	XLSXMaxRows       int64
	CSVLargeThreshold int64
	TempDir           string
	DefaultTimezone   string
}

// ExportFlow handles asynchronous raw-event export jobs
type ExportFlow interface {
	CreateExportJob(ctx context.Context, actor Actor, req *dto.CreateExportJobRequest) (*dto.CreateExportJobResponse, error)
	ProcessExportJob(ctx context.Context, jobID uuid.UUID) error
	ListExportJobs(ctx context.Context, actor Actor) (*dto.ListExportJobsResponse, error)
	GetExportJob(ctx context.Context, actor Actor, jobID string) (*dto.ExportJobDTO, error)
}

// ExportFlowImpl implements ExportFlow
type ExportFlowImpl struct {
	exportJobRepo repository.ExportJobRepository
	partnerRepo   repository.PartnerRepository
	source        *EventSource
	storage       services.ObjectStorage
	runner        services.JobRunner
	cfg           ExportConfig
	logger        *zap.Logger
	now           func() time.Time
}

// exportFilters is the normalized request persisted in filters_json
type exportFilters struct {
	Format    string   `json:"format"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	PartnerID *uint    `json:"partnerId,omitempty"`
	Types     []string `json:"types"`
	TZ        string   `json:"tz"`
}

func NewExportFlow(
	exportJobRepo repository.ExportJobRepository,
	partnerRepo repository.PartnerRepository,
	source *EventSource,
	storage services.ObjectStorage,
	runner services.JobRunner,
	cfg ExportConfig,
	logger *zap.Logger,
) ExportFlow {
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = utils.DefaultExportTimezone
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &ExportFlowImpl{
		exportJobRepo: exportJobRepo,
		partnerRepo:   partnerRepo,
		source:        source,
		storage:       storage,
		runner:        runner,
		cfg:           cfg,
		logger:        logger,
		now:           utils.UTCNow,
	}
}

func validationError(message string, err error) error {
	return NewBusinessError("VALIDATION_ERROR", message, err)
}

func parseRequestDate(value string) (time.Time, error) {
	d, err := time.ParseInLocation(utils.RequestDateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, validationError(fmt.Sprintf("Invalid date format: %s. Use YYYY-MM-DD", value), ErrInvalidDate)
	}
	return d, nil
}

// normalizeEventTypes upper-cases and de-duplicates; an empty list means every type
func normalizeEventTypes(types []string) ([]string, error) {
	if len(types) == 0 {
		return append([]string(nil), models.AllEventTypes...), nil
	}
	seen := make(map[string]bool, len(types))
	out := make([]string, 0, len(types))
	for _, raw := range types {
		t := strings.ToUpper(strings.TrimSpace(raw))
		valid := false
		for _, known := range models.AllEventTypes {
			if t == known {
				valid = true
				break
			}
		}
		if !valid {
			return nil, validationError(fmt.Sprintf("Invalid event type: %s. Valid types: %s", raw, strings.Join(models.AllEventTypes, ", ")), ErrInvalidEventType)
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *ExportFlowImpl) normalize(ctx context.Context, actor Actor, req *dto.CreateExportJobRequest) (*exportFilters, time.Time, time.Time, error) {
	var zero time.Time
	if req == nil {
		return nil, zero, zero, validationError("Request body is required", ErrInvalidExportFormat)
	}

	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format != models.ExportFormatCSV && format != models.ExportFormatXLSX {
		return nil, zero, zero, validationError("Invalid format. Use csv or xlsx", ErrInvalidExportFormat)
	}

	from, err := parseRequestDate(req.From)
	if err != nil {
		return nil, zero, zero, err
	}
	to, err := parseRequestDate(req.To)
	if err != nil {
		return nil, zero, zero, err
	}
	if from.After(to) {
		return nil, zero, zero, validationError("from date must be before or equal to to date", ErrInvalidDateRange)
	}
	// both ends are whole days
	days := int(to.AddDate(0, 0, 1).Sub(from).Hours() / 24)
	if f.cfg.MaxDateRangeDays > 0 && days > f.cfg.MaxDateRangeDays {
		return nil, zero, zero, NewBusinessErrorf("VALIDATION_ERROR",
			"Date range cannot exceed %d days. Requested: %d days", ErrDateRangeTooLong, f.cfg.MaxDateRangeDays, days)
	}

	types, err := normalizeEventTypes(req.Types)
	if err != nil {
		return nil, zero, zero, err
	}

	tz := strings.TrimSpace(req.TZ)
	if tz == "" {
		tz = f.cfg.DefaultTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, zero, zero, validationError(fmt.Sprintf("Invalid timezone: %s", tz), ErrInvalidTimezone)
	}

	partnerID := req.PartnerID
	if actor.IsPartner() {
		partnerID = actor.PartnerID
	} else if partnerID != nil {
		partner, err := f.partnerRepo.ByID(ctx, *partnerID)
		if err != nil {
			return nil, zero, zero, NewBusinessError("PARTNER_LOOKUP_FAILED", "Failed to load partner", err)
		}
		if partner == nil {
			return nil, zero, zero, NewBusinessError("PARTNER_NOT_FOUND", "Partner not found", ErrPartnerNotFound)
		}
	}

	return &exportFilters{
		Format:    format,
		From:      from.Format(utils.RequestDateLayout),
		To:        to.Format(utils.RequestDateLayout),
		PartnerID: partnerID,
		Types:     types,
		TZ:        tz,
	}, from, to, nil
}

func (f *ExportFlowImpl) CreateExportJob(ctx context.Context, actor Actor, req *dto.CreateExportJobRequest) (*dto.CreateExportJobResponse, error) {
	if err := requireTier(actor, models.TierMax, "Raw event export"); err != nil {
		return nil, err
	}

	filters, from, to, err := f.normalize(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	typesJSON, err := json.Marshal(filters.Types)
	if err != nil {
		return nil, NewBusinessError("EXPORT_JOB_CREATE_FAILED", "Failed to encode event types", err)
	}
	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, NewBusinessError("EXPORT_JOB_CREATE_FAILED", "Failed to encode filters", err)
	}

	job := &models.ExportJob{
		ID:          uuid.New(),
		Status:      models.JobStatusPending,
		Format:      filters.Format,
		FromDate:    from,
		ToDate:      to,
		PartnerID:   filters.PartnerID,
		EventTypes:  datatypes.JSON(typesJSON),
		FiltersJSON: datatypes.JSON(filtersJSON),
		CreatedBy:   actor.Ref(),
		CreatedAt:   f.now(),
	}
	if err := f.exportJobRepo.Save(ctx, job); err != nil {
		return nil, NewBusinessError("EXPORT_JOB_CREATE_FAILED", "Failed to create export job", err)
	}

	jobID := job.ID
	err = f.runner.Submit("export", jobID.String(), func(ctx context.Context) error {
		return f.ProcessExportJob(ctx, jobID)
	})
	if err != nil {
		msg := "export queue is full"
		if !errors.Is(err, services.ErrQueueFull) {
			msg = utils.TruncateWithEllipsis(err.Error(), utils.ExportErrorMaxLength)
		}
		if markErr := f.exportJobRepo.MarkFailed(ctx, jobID, msg, f.now()); markErr != nil {
			f.logger.Error("Failed to mark rejected export job", zap.String("job_id", jobID.String()), zap.Error(markErr))
		}
		return nil, NewBusinessError("QUEUE_FULL", "Too many exports in progress, try again shortly", ErrQueueFull)
	}

	f.logger.Info("Export job created",
		zap.String("job_id", jobID.String()),
		zap.String("format", filters.Format),
		zap.String("from", filters.From),
		zap.String("to", filters.To),
		zap.Strings("types", filters.Types),
		zap.String("created_by", job.CreatedBy))

	return &dto.CreateExportJobResponse{
		JobID:   jobID.String(),
		Status:  string(models.JobStatusPending),
		Message: "Export job created. Poll for status.",
	}, nil
}

// ProcessExportJob generates, uploads and finalizes one PENDING job. Jobs in a
// terminal state are left untouched.
func (f *ExportFlowImpl) ProcessExportJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := f.exportJobRepo.ByJobID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load export job: %w", err)
	}
	if job == nil {
		return ErrExportJobNotFound
	}
	if job.Status != models.JobStatusPending {
		f.logger.Info("Export job already finalized", zap.String("job_id", jobID.String()), zap.String("status", string(job.Status)))
		return nil
	}

	rows, objectPath, genErr := f.generateRecovered(ctx, job)
	if genErr != nil {
		msg := utils.TruncateWithEllipsis(failureMessage(genErr), utils.ExportErrorMaxLength)
		if err := f.exportJobRepo.MarkFailed(context.WithoutCancel(ctx), jobID, msg, f.now()); err != nil {
			f.logger.Error("Failed to mark export job failed", zap.String("job_id", jobID.String()), zap.Error(err))
		}
		return genErr
	}

	if err := f.exportJobRepo.MarkReady(ctx, jobID, rows, objectPath, f.now()); err != nil {
		if errors.Is(err, repository.ErrJobNotPending) {
			f.logger.Warn("Export job finalized concurrently", zap.String("job_id", jobID.String()))
			return nil
		}
		return fmt.Errorf("mark export job ready: %w", err)
	}

	f.logger.Info("Export job ready",
		zap.String("job_id", jobID.String()),
		zap.Int64("rows", rows),
		zap.String("path", objectPath))
	return nil
}

func (f *ExportFlowImpl) generateRecovered(ctx context.Context, job *models.ExportJob) (rows int64, objectPath string, err error) {
	defer recoverJob(f.logger, "export", job.ID.String(), &err)
	return f.generate(ctx, job)
}

// recoverJob turns a panic in a job step into an error so the row still reaches a terminal state
func recoverJob(logger *zap.Logger, kind, id string, err *error) {
	p := recover()
	if p == nil {
		return
	}
	logger.Error("Job step panicked", zap.String("kind", kind), zap.String("job_id", id), zap.Any("panic", p))
	*err = NewBusinessError("INTERNAL_ERROR", "Internal error", fmt.Errorf("panic: %v", p))
}

// failureMessage prefers the user-facing message of a BusinessError
func failureMessage(err error) string {
	if be, ok := AsBusinessError(err); ok && be.Message != "" {
		return be.Message
	}
	return err.Error()
}

// ExportFileName is the download name for an export covering [from, to]
func ExportFileName(from, to time.Time, format string) string {
	return fmt.Sprintf("dormup-events-%s-%s.%s", from.Format(utils.ExportFileDateLayout), to.Format(utils.ExportFileDateLayout), format)
}

func (f *ExportFlowImpl) eventFilter(ctx context.Context, job *models.ExportJob) (EventFilter, error) {
	var filters exportFilters
	if len(job.FiltersJSON) > 0 {
		if err := json.Unmarshal(job.FiltersJSON, &filters); err != nil {
			return EventFilter{}, fmt.Errorf("decode filters: %w", err)
		}
	}
	if len(filters.Types) == 0 && len(job.EventTypes) > 0 {
		if err := json.Unmarshal(job.EventTypes, &filters.Types); err != nil {
			return EventFilter{}, fmt.Errorf("decode event types: %w", err)
		}
	}
	tz := filters.TZ
	if tz == "" {
		tz = f.cfg.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return EventFilter{}, fmt.Errorf("load timezone %s: %w", tz, err)
	}

	from, _ := utils.DayBounds(job.FromDate)
	_, to := utils.DayBounds(job.ToDate)
	filter := EventFilter{From: from, To: to, Types: filters.Types, Location: loc}

	if job.PartnerID != nil {
		partner, err := f.partnerRepo.ByID(ctx, *job.PartnerID)
		if err != nil {
			return EventFilter{}, fmt.Errorf("load partner: %w", err)
		}
		if partner == nil {
			return EventFilter{}, NewBusinessError("PARTNER_NOT_FOUND", "Partner not found", ErrPartnerNotFound)
		}
		filter.VenueIDs = []uint{partner.VenueID}
	}
	return filter, nil
}

func (f *ExportFlowImpl) generate(ctx context.Context, job *models.ExportJob) (int64, string, error) {
	filter, err := f.eventFilter(ctx, job)
	if err != nil {
		return 0, "", err
	}

	tmpPath := filepath.Join(f.cfg.TempDir, fmt.Sprintf("export-%s.%s", job.ID, job.Format))
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("Failed to remove export temp file", zap.String("path", tmpPath), zap.Error(err))
		}
	}()

	writer, err := newEventWriter(job.Format, tmpPath, f.cfg.XLSXMaxRows)
	if err != nil {
		return 0, "", err
	}
	if err := f.source.Chunks(ctx, filter, writer.Write); err != nil {
		_ = writer.Close()
		return 0, "", err
	}
	if err := writer.Close(); err != nil {
		return 0, "", err
	}

	rows := writer.Rows()
	if job.Format == models.ExportFormatCSV && f.cfg.CSVLargeThreshold > 0 && rows > f.cfg.CSVLargeThreshold {
		f.logger.Warn("Large CSV export",
			zap.String("job_id", job.ID.String()),
			zap.Int64("rows", rows),
			zap.Int64("threshold", f.cfg.CSVLargeThreshold))
	}

	objectPath := fmt.Sprintf("exports/%s/%s", job.ID, ExportFileName(job.FromDate, job.ToDate, job.Format))
	file, err := os.Open(tmpPath)
	if err != nil {
		return 0, "", fmt.Errorf("open export file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := f.storage.Upload(ctx, utils.ExportsBucket, objectPath, writer.ContentType(), file); err != nil {
		return 0, "", fmt.Errorf("upload failed: %w", err)
	}
	return rows, objectPath, nil
}

func (f *ExportFlowImpl) toDTO(ctx context.Context, job *models.ExportJob) dto.ExportJobDTO {
	out := dto.ExportJobDTO{
		ID:           job.ID.String(),
		Status:       string(job.Status),
		Format:       job.Format,
		FromDate:     job.FromDate.Format(utils.RequestDateLayout),
		ToDate:       job.ToDate.Format(utils.RequestDateLayout),
		PartnerID:    job.PartnerID,
		EventTypes:   []string{},
		RowCount:     job.RowCount,
		FilePath:     job.FilePath,
		ErrorMessage: job.ErrorMessage,
		CreatedBy:    job.CreatedBy,
		CreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if len(job.EventTypes) > 0 {
		_ = json.Unmarshal(job.EventTypes, &out.EventTypes)
	}
	if job.CompletedAt != nil {
		s := job.CompletedAt.UTC().Format(time.RFC3339)
		out.CompletedAt = &s
	}
	if job.Status == models.JobStatusReady && job.FilePath != nil {
		u, err := f.storage.SignedURL(ctx, utils.ExportsBucket, *job.FilePath, utils.SignedURLTTL)
		if err != nil {
			f.logger.Warn("Failed to sign export download url", zap.String("job_id", out.ID), zap.Error(err))
		} else {
			out.DownloadURL = &u
		}
	}
	return out
}

// ListExportJobs returns the latest jobs; partners only see their own
func (f *ExportFlowImpl) ListExportJobs(ctx context.Context, actor Actor) (*dto.ListExportJobsResponse, error) {
	filter := models.ExportJobFilter{}
	switch {
	case actor.IsAdmin():
	case actor.IsPartner():
		filter.PartnerID = actor.PartnerID
	default:
		return nil, NewBusinessError("FORBIDDEN", "Access denied", ErrAccessDenied)
	}

	jobs, err := f.exportJobRepo.ByFilter(ctx, filter, "created_at DESC", utils.ExportJobListLimit, 0)
	if err != nil {
		return nil, NewBusinessError("EXPORT_JOBS_LIST_FAILED", "Failed to list export jobs", err)
	}
	resp := &dto.ListExportJobsResponse{Jobs: make([]dto.ExportJobDTO, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, f.toDTO(ctx, job))
	}
	return resp, nil
}

// GetExportJob is the polling endpoint of a single job
func (f *ExportFlowImpl) GetExportJob(ctx context.Context, actor Actor, jobID string) (*dto.ExportJobDTO, error) {
	id, err := uuid.Parse(strings.TrimSpace(jobID))
	if err != nil {
		return nil, NewBusinessError("EXPORT_JOB_NOT_FOUND", "Export job not found", ErrExportJobNotFound)
	}
	job, err := f.exportJobRepo.ByJobID(ctx, id)
	if err != nil {
		return nil, NewBusinessError("EXPORT_JOB_LOOKUP_FAILED", "Failed to load export job", err)
	}
	if job == nil {
		return nil, NewBusinessError("EXPORT_JOB_NOT_FOUND", "Export job not found", ErrExportJobNotFound)
	}
	if !actor.IsAdmin() {
		if !actor.IsPartner() || job.PartnerID == nil || *job.PartnerID != *actor.PartnerID {
			return nil, NewBusinessError("EXPORT_JOB_NOT_FOUND", "Export job not found", ErrExportJobNotFound)
		}
	}
	out := f.toDTO(ctx, job)
	return &out, nil
}
