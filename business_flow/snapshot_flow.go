package businessflow

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dormup/dormup-discounts/app/dto"
	"github.com/dormup/dormup-discounts/app/services"
	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/repository"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PrintReport is what the print route renders for a verified report token
type PrintReport struct {
	Scope   string         `json:"scope"`
	Month   string         `json:"month"`
	Admin   *AdminReport   `json:"admin,omitempty"`
	Partner *PartnerReport `json:"partner,omitempty"`
}

// SnapshotFlow renders monthly reports to PDF and PNG in the background
type SnapshotFlow interface {
	CreateSnapshot(ctx context.Context, actor Actor, req *dto.CreateSnapshotRequest) (*dto.CreateSnapshotResponse, error)
	ProcessSnapshot(ctx context.Context, snapshotID uint) error
	RetrySnapshot(ctx context.Context, actor Actor, snapshotID uint) (*dto.CreateSnapshotResponse, error)
	ListSnapshots(ctx context.Context, actor Actor, req *dto.ListSnapshotsRequest) (*dto.ListSnapshotsResponse, error)
	GetPrintReport(ctx context.Context, req *dto.PrintReportRequest) (*PrintReport, error)
}

// SnapshotFlowImpl implements SnapshotFlow
type SnapshotFlowImpl struct {
	snapshotRepo repository.ReportSnapshotRepository
	partnerRepo  repository.PartnerRepository
	metricsRepo  repository.MetricsRepository
	reportFlow   ReportFlow
	tokenService services.TokenService
	renderer     services.ReportRenderer
	storage      services.ObjectStorage
	runner       services.JobRunner
	appBaseURL   string
	logger       *zap.Logger
	now          func() time.Time
}

func NewSnapshotFlow(
	snapshotRepo repository.ReportSnapshotRepository,
	partnerRepo repository.PartnerRepository,
	metricsRepo repository.MetricsRepository,
	reportFlow ReportFlow,
	tokenService services.TokenService,
	renderer services.ReportRenderer,
	storage services.ObjectStorage,
	runner services.JobRunner,
	appBaseURL string,
	logger *zap.Logger,
) SnapshotFlow {
	return &SnapshotFlowImpl{
		snapshotRepo: snapshotRepo,
		partnerRepo:  partnerRepo,
		metricsRepo:  metricsRepo,
		reportFlow:   reportFlow,
		tokenService: tokenService,
		renderer:     renderer,
		storage:      storage,
		runner:       runner,
		appBaseURL:   strings.TrimRight(appBaseURL, "/"),
		logger:       logger,
		now:          utils.UTCNow,
	}
}

type snapshotTarget struct {
	scope     string
	month     string
	partnerID *uint
	venueID   *uint
}

func (f *SnapshotFlowImpl) resolveTarget(ctx context.Context, actor Actor, req *dto.CreateSnapshotRequest) (*snapshotTarget, error) {
	if req == nil {
		return nil, validationError("Request body is required", ErrInvalidMonth)
	}
	month := strings.TrimSpace(req.Month)
	if month == "" {
		month = utils.FormatMonth(f.now())
	}
	if _, _, err := utils.ParseMonth(month); err != nil {
		return nil, validationError(fmt.Sprintf("Invalid month format: %s. Expected YYYY-MM", req.Month), ErrInvalidMonth)
	}

	scope := strings.ToLower(strings.TrimSpace(req.Scope))
	if scope == "" {
		scope = models.ReportScopePartner
		if actor.IsAdmin() {
			scope = models.ReportScopeAdmin
		}
	}
	if scope != models.ReportScopeAdmin && scope != models.ReportScopePartner {
		return nil, validationError("Invalid scope. Must be \"admin\" or \"partner\"", ErrInvalidScope)
	}
	if scope == models.ReportScopeAdmin && !actor.IsAdmin() {
		return nil, NewBusinessError("FORBIDDEN", "Only admins can create admin snapshots", ErrAdminScopeForbidden)
	}
	if err := requireTier(actor, models.TierPro, "PDF reports"); err != nil {
		return nil, err
	}

	target := &snapshotTarget{scope: scope, month: month}
	if scope == models.ReportScopeAdmin {
		return target, nil
	}

	partnerID := req.PartnerID
	if actor.IsPartner() {
		partnerID = actor.PartnerID
	}
	if partnerID == nil {
		return nil, validationError("partnerId required for partner scope", ErrPartnerIDRequired)
	}
	partner, err := f.partnerRepo.ByID(ctx, *partnerID)
	if err != nil {
		return nil, NewBusinessError("PARTNER_LOOKUP_FAILED", "Failed to load partner", err)
	}
	if partner == nil {
		return nil, NewBusinessError("PARTNER_NOT_FOUND", "Partner not found", ErrPartnerNotFound)
	}
	target.partnerID = utils.ToPtr(partner.ID)
	target.venueID = utils.ToPtr(partner.VenueID)
	return target, nil
}

// metricsHash fingerprints the counters of the stored metrics row the snapshot is based on,
// nil when none exists yet. Row timestamps are left out so a recompute with unchanged counts
// keeps the hash.
func (f *SnapshotFlowImpl) metricsHash(ctx context.Context, t *snapshotTarget) (*string, error) {
	start, _, err := utils.MonthBoundsFor(t.month)
	if err != nil {
		return nil, err
	}

	var row any
	if t.scope == models.ReportScopeAdmin {
		global, err := f.metricsRepo.GlobalByPeriod(ctx, start)
		if err != nil {
			return nil, err
		}
		if global != nil {
			row = struct {
				Counters
				TotalPartners int64 `json:"total_partners"`
			}{countersOf(global.PageViews, global.QRGenerated, global.QRRedeemed, global.UniqueUsers, global.RepeatUsers, global.ConversionRate), global.TotalPartners}
		}
	} else {
		partner, err := f.metricsRepo.PartnerByPeriod(ctx, *t.venueID, start)
		if err != nil {
			return nil, err
		}
		if partner != nil {
			row = countersOf(partner.PageViews, partner.QRGenerated, partner.QRRedeemed, partner.UniqueUsers, partner.RepeatUsers, partner.ConversionRate)
		}
	}
	if row == nil {
		return nil, nil
	}

	raw, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(raw)
	h := hex.EncodeToString(sum[:])
	return &h, nil
}

func (f *SnapshotFlowImpl) enqueue(ctx context.Context, actor Actor, t *snapshotTarget) (*dto.CreateSnapshotResponse, error) {
	hash, err := f.metricsHash(ctx, t)
	if err != nil {
		return nil, NewBusinessError("SNAPSHOT_CREATE_FAILED", "Failed to read metrics", err)
	}

	snap := &models.ReportSnapshot{
		JobID:       uuid.New(),
		Scope:       t.scope,
		Month:       t.month,
		PartnerID:   t.partnerID,
		VenueID:     t.venueID,
		Status:      models.JobStatusPending,
		MetricsHash: hash,
		CreatedBy:   actor.Ref(),
		CreatedAt:   f.now(),
	}
	if err := f.snapshotRepo.Save(ctx, snap); err != nil {
		return nil, NewBusinessError("SNAPSHOT_CREATE_FAILED", "Failed to create snapshot", err)
	}

	id := snap.ID
	err = f.runner.Submit("snapshot", snap.JobID.String(), func(ctx context.Context) error {
		return f.ProcessSnapshot(ctx, id)
	})
	if err != nil {
		msg := "snapshot queue is full"
		if !errors.Is(err, services.ErrQueueFull) {
			msg = utils.TruncateWithEllipsis(err.Error(), utils.SnapshotErrorMaxLength)
		}
		if markErr := f.snapshotRepo.MarkFailed(ctx, id, msg, f.now()); markErr != nil {
			f.logger.Error("Failed to mark rejected snapshot", zap.Uint("snapshot_id", id), zap.Error(markErr))
		}
		return nil, NewBusinessError("QUEUE_FULL", "Too many reports in progress, try again shortly", ErrQueueFull)
	}

	f.logger.Info("Snapshot queued",
		zap.Uint("snapshot_id", id),
		zap.String("job_id", snap.JobID.String()),
		zap.String("scope", snap.Scope),
		zap.String("month", snap.Month))

	return &dto.CreateSnapshotResponse{
		SnapshotID: id,
		JobID:      snap.JobID.String(),
		Status:     string(models.JobStatusPending),
	}, nil
}

func countersOf(pageViews, generated, redeemed, unique, repeat int64, conversion float64) Counters {
	return Counters{
		PageViews:      pageViews,
		QRGenerated:    generated,
		QRRedeemed:     redeemed,
		UniqueUsers:    unique,
		RepeatUsers:    repeat,
		ConversionRate: conversion,
	}
}

func (f *SnapshotFlowImpl) CreateSnapshot(ctx context.Context, actor Actor, req *dto.CreateSnapshotRequest) (*dto.CreateSnapshotResponse, error) {
	target, err := f.resolveTarget(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	return f.enqueue(ctx, actor, target)
}

// RetrySnapshot queues a fresh job for the target of an earlier snapshot; the earlier row is kept as is
func (f *SnapshotFlowImpl) RetrySnapshot(ctx context.Context, actor Actor, snapshotID uint) (*dto.CreateSnapshotResponse, error) {
	orig, err := f.snapshotRepo.ByID(ctx, snapshotID)
	if err != nil {
		return nil, NewBusinessError("SNAPSHOT_LOOKUP_FAILED", "Failed to load snapshot", err)
	}
	if orig == nil || !canSeeSnapshot(actor, orig) {
		return nil, NewBusinessError("SNAPSHOT_NOT_FOUND", "Snapshot not found", ErrSnapshotNotFound)
	}
	if err := requireTier(actor, models.TierPro, "PDF reports"); err != nil {
		return nil, err
	}
	return f.enqueue(ctx, actor, &snapshotTarget{
		scope:     orig.Scope,
		month:     orig.Month,
		partnerID: orig.PartnerID,
		venueID:   orig.VenueID,
	})
}

func canSeeSnapshot(actor Actor, s *models.ReportSnapshot) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.IsPartner() && s.Scope == models.ReportScopePartner && s.PartnerID != nil && *s.PartnerID == *actor.PartnerID
}

// SnapshotObjectBase is the storage path of a snapshot without extension
func SnapshotObjectBase(scope, month string, venueID *uint, at time.Time) string {
	venueKey, venueSeg := "global", "global"
	if venueID != nil {
		venueKey = fmt.Sprintf("%d", *venueID)
		venueSeg = fmt.Sprintf("venue-%d", *venueID)
	}
	ts := at.UnixMilli()
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%s-%s-%d", scope, month, venueKey, ts)))
	hash8 := hex.EncodeToString(sum[:])[:8]
	return fmt.Sprintf("reports/%s/%s/%s/%d-%s", scope, month, venueSeg, ts, hash8)
}

// ProcessSnapshot renders, uploads and finalizes one PENDING snapshot
func (f *SnapshotFlowImpl) ProcessSnapshot(ctx context.Context, snapshotID uint) error {
	snap, err := f.snapshotRepo.ByID(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		return ErrSnapshotNotFound
	}
	if snap.Status != models.JobStatusPending {
		f.logger.Info("Snapshot already finalized", zap.Uint("snapshot_id", snapshotID), zap.String("status", string(snap.Status)))
		return nil
	}

	pdfPath, pngPath, genErr := f.generateRecovered(ctx, snap)
	if genErr != nil {
		msg := failureMessage(genErr)
		if msg == "" {
			msg = "Generation failed"
		}
		msg = utils.TruncateWithEllipsis(msg, utils.SnapshotErrorMaxLength)
		if err := f.snapshotRepo.MarkFailed(context.WithoutCancel(ctx), snapshotID, msg, f.now()); err != nil {
			f.logger.Error("Failed to mark snapshot failed", zap.Uint("snapshot_id", snapshotID), zap.Error(err))
		}
		return genErr
	}

	if err := f.snapshotRepo.MarkReady(ctx, snapshotID, pdfPath, pngPath, f.now()); err != nil {
		if errors.Is(err, repository.ErrJobNotPending) {
			f.logger.Warn("Snapshot finalized concurrently", zap.Uint("snapshot_id", snapshotID))
			return nil
		}
		return fmt.Errorf("mark snapshot ready: %w", err)
	}
	f.logger.Info("Snapshot ready", zap.Uint("snapshot_id", snapshotID), zap.String("pdf", pdfPath))
	return nil
}

func (f *SnapshotFlowImpl) printURL(snap *models.ReportSnapshot, token string) string {
	q := url.Values{}
	q.Set("scope", snap.Scope)
	q.Set("month", snap.Month)
	q.Set("token", token)
	if snap.PartnerID != nil {
		q.Set("partnerId", fmt.Sprintf("%d", *snap.PartnerID))
	}
	return f.appBaseURL + "/reports/print?" + q.Encode()
}

func actorType(createdBy string) string {
	if strings.HasPrefix(createdBy, string(RolePartner)+":") {
		return string(RolePartner)
	}
	return string(RoleAdmin)
}

func (f *SnapshotFlowImpl) generateRecovered(ctx context.Context, snap *models.ReportSnapshot) (pdfPath, pngPath string, err error) {
	defer recoverJob(f.logger, "snapshot", snap.JobID.String(), &err)
	return f.generate(ctx, snap)
}

func (f *SnapshotFlowImpl) generate(ctx context.Context, snap *models.ReportSnapshot) (string, string, error) {
	if f.renderer == nil {
		return "", "", ErrRendererNotReady
	}

	token, err := f.tokenService.GenerateReportToken(services.ReportTokenPayload{
		Scope:     snap.Scope,
		Month:     snap.Month,
		PartnerID: snap.PartnerID,
		VenueID:   snap.VenueID,
		UserID:    snap.CreatedBy,
		Type:      actorType(snap.CreatedBy),
	})
	if err != nil {
		return "", "", fmt.Errorf("report token: %w", err)
	}

	report, err := f.compile(ctx, snap.Scope, snap.Month, snap.VenueID)
	if err != nil {
		return "", "", err
	}

	rendered, err := f.renderer.Render(ctx, services.RenderRequest{
		PrintURL: f.printURL(snap, token),
		Document: reportDocument(report),
	})
	if err != nil {
		return "", "", err
	}

	base := SnapshotObjectBase(snap.Scope, snap.Month, snap.VenueID, f.now())
	pdfPath, pngPath := base+".pdf", base+".png"
	if err := f.storage.Upload(ctx, utils.ReportsBucket, pdfPath, "application/pdf", bytes.NewReader(rendered.PDF)); err != nil {
		return "", "", fmt.Errorf("PDF upload failed: %w", err)
	}
	if err := f.storage.Upload(ctx, utils.ReportsBucket, pngPath, "image/png", bytes.NewReader(rendered.PNG)); err != nil {
		return "", "", fmt.Errorf("PNG upload failed: %w", err)
	}
	return pdfPath, pngPath, nil
}

func (f *SnapshotFlowImpl) compile(ctx context.Context, scope, month string, venueID *uint) (*PrintReport, error) {
	out := &PrintReport{Scope: scope, Month: month}
	if scope == models.ReportScopeAdmin {
		report, err := f.reportFlow.GetMonthlyAdminReport(ctx, month)
		if err != nil {
			return nil, err
		}
		out.Admin = report
		return out, nil
	}
	if venueID == nil {
		return nil, ErrPartnerIDRequired
	}
	report, err := f.reportFlow.GetMonthlyPartnerReport(ctx, *venueID, month)
	if err != nil {
		return nil, err
	}
	out.Partner = report
	return out, nil
}

func reportDocument(r *PrintReport) services.ReportDocument {
	if r.Admin != nil {
		g := r.Admin.Global
		doc := services.ReportDocument{
			Title:    "DormUp monthly report",
			Subtitle: "All partners, " + r.Month,
			Rows: []services.ReportRow{
				{Label: "Active partners", Value: fmt.Sprintf("%d", g.TotalPartners)},
				{Label: "Page views", Value: fmt.Sprintf("%d", g.PageViews)},
				{Label: "Codes generated", Value: fmt.Sprintf("%d", g.QRGenerated)},
				{Label: "Codes redeemed", Value: fmt.Sprintf("%d", g.QRRedeemed)},
				{Label: "Unique students", Value: fmt.Sprintf("%d", g.UniqueUsers)},
				{Label: "Returning students", Value: fmt.Sprintf("%d", g.RepeatUsers)},
				{Label: "Conversion rate", Value: fmt.Sprintf("%.1f%%", g.ConversionRate)},
			},
		}
		for _, a := range r.Admin.Anomalies {
			doc.Notes = append(doc.Notes, a.Venue+": "+a.Message)
		}
		return doc
	}

	p := r.Partner
	m := p.Metrics
	doc := services.ReportDocument{
		Title:    p.VenueName + " monthly report",
		Subtitle: strings.TrimSpace(p.City + " " + r.Month),
		Rows: []services.ReportRow{
			{Label: "Page views", Value: fmt.Sprintf("%d", m.PageViews)},
			{Label: "Codes generated", Value: fmt.Sprintf("%d", m.QRGenerated)},
			{Label: "Codes redeemed", Value: fmt.Sprintf("%d", m.QRRedeemed)},
			{Label: "Unique customers", Value: fmt.Sprintf("%d", p.ImpactSummary.UniqueCustomers)},
			{Label: "Returning customers", Value: fmt.Sprintf("%d", m.RepeatUsers)},
			{Label: "Conversion rate", Value: fmt.Sprintf("%.1f%%", m.ConversionRate)},
		},
		Notes: p.Insights,
	}
	if p.ImpactSummary.EstimatedImpact != nil {
		doc.Rows = append(doc.Rows, services.ReportRow{Label: "Estimated impact", Value: fmt.Sprintf("EUR %.2f", *p.ImpactSummary.EstimatedImpact)})
	}
	if p.ImpactSummary.BestTime != nil {
		doc.Rows = append(doc.Rows, services.ReportRow{Label: "Best time", Value: *p.ImpactSummary.BestTime})
	}
	return doc
}

func (f *SnapshotFlowImpl) signed(ctx context.Context, path *string) *string {
	if path == nil {
		return nil
	}
	u, err := f.storage.SignedURL(ctx, utils.ReportsBucket, *path, utils.SignedURLTTL)
	if err != nil {
		f.logger.Warn("Failed to sign snapshot url", zap.String("path", *path), zap.Error(err))
		return nil
	}
	return &u
}

func (f *SnapshotFlowImpl) ListSnapshots(ctx context.Context, actor Actor, req *dto.ListSnapshotsRequest) (*dto.ListSnapshotsResponse, error) {
	filter := models.ReportSnapshotFilter{}
	switch {
	case actor.IsAdmin():
	case actor.IsPartner():
		filter.PartnerID = actor.PartnerID
		filter.Scope = utils.ToPtr(models.ReportScopePartner)
	default:
		return nil, NewBusinessError("FORBIDDEN", "Access denied", ErrAccessDenied)
	}
	if req != nil {
		if req.Month != "" {
			if _, _, err := utils.ParseMonth(req.Month); err != nil {
				return nil, validationError(fmt.Sprintf("Invalid month format: %s. Expected YYYY-MM", req.Month), ErrInvalidMonth)
			}
			filter.Month = utils.ToPtr(req.Month)
		}
		if req.Scope != "" && filter.Scope == nil {
			filter.Scope = utils.ToPtr(req.Scope)
		}
	}

	rows, err := f.snapshotRepo.ByFilter(ctx, filter, "created_at DESC, id DESC", utils.SnapshotListLimit, 0)
	if err != nil {
		return nil, NewBusinessError("SNAPSHOT_LIST_FAILED", "Failed to list snapshots", err)
	}

	resp := &dto.ListSnapshotsResponse{Snapshots: make([]dto.SnapshotDTO, 0, len(rows))}
	for _, s := range rows {
		item := dto.SnapshotDTO{
			ID:           s.ID,
			JobID:        s.JobID.String(),
			Scope:        s.Scope,
			Month:        s.Month,
			PartnerID:    s.PartnerID,
			VenueID:      s.VenueID,
			Status:       string(s.Status),
			MetricsHash:  s.MetricsHash,
			ErrorMessage: s.ErrorMessage,
			CreatedBy:    s.CreatedBy,
			CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
		}
		if s.CompletedAt != nil {
			item.CompletedAt = utils.ToPtr(s.CompletedAt.UTC().Format(time.RFC3339))
		}
		if s.Status == models.JobStatusReady {
			item.PDFURL = f.signed(ctx, s.PDFPath)
			item.PNGURL = f.signed(ctx, s.PNGPath)
		}
		resp.Snapshots = append(resp.Snapshots, item)
	}
	return resp, nil
}

// GetPrintReport verifies the report token against the query and compiles the report it grants
func (f *SnapshotFlowImpl) GetPrintReport(ctx context.Context, req *dto.PrintReportRequest) (*PrintReport, error) {
	if req == nil || req.Token == "" {
		return nil, NewBusinessError("INVALID_REPORT_TOKEN", "Missing report token", ErrInvalidReportToken)
	}
	claims, err := f.tokenService.ValidateReportToken(req.Token)
	if err != nil {
		return nil, NewBusinessError("INVALID_REPORT_TOKEN", "Invalid or expired report token", ErrInvalidReportToken)
	}
	if claims.Scope != req.Scope || claims.Month != req.Month {
		return nil, NewBusinessError("REPORT_TOKEN_MISMATCH", "Report token does not match the request", ErrReportTokenMismatch)
	}
	if req.PartnerID != nil && (claims.PartnerID == nil || *claims.PartnerID != *req.PartnerID) {
		return nil, NewBusinessError("REPORT_TOKEN_MISMATCH", "Report token does not match the request", ErrReportTokenMismatch)
	}
	return f.compile(ctx, claims.Scope, claims.Month, claims.VenueID)
}
