package handlers

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/dormup/dormup-discounts/app/dto"
	businessflow "github.com/dormup/dormup-discounts/business_flow"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

type ReportHandlerInterface interface {
	AdminMonthlyReport(c fiber.Ctx) error
	PartnerMonthlyReport(c fiber.Ctx) error
	PartnerDailyMetrics(c fiber.Ctx) error
	BackfillMetrics(c fiber.Ctx) error
	LegacyExport(c fiber.Ctx) error
}

type ReportHandler struct {
	baseHandler
	reportFlow  businessflow.ReportFlow
	metricsFlow businessflow.MetricsFlow
	legacyFlow  businessflow.LegacyExportFlow
}

func NewReportHandler(
	reportFlow businessflow.ReportFlow,
	metricsFlow businessflow.MetricsFlow,
	legacyFlow businessflow.LegacyExportFlow,
	logger *zap.Logger,
) ReportHandlerInterface {
	return &ReportHandler{
		baseHandler: newBaseHandler(logger),
		reportFlow:  reportFlow,
		metricsFlow: metricsFlow,
		legacyFlow:  legacyFlow,
	}
}

// AdminMonthlyReport returns global and per-venue metrics for a month
// @Summary Admin monthly report
// @Tags Reports
// @Produce json
// @Param month query string false "Month (YYYY-MM), defaults to the current month"
// @Success 200 {object} dto.APIResponse "Admin report"
// @Failure 400 {object} dto.APIResponse "Invalid month"
// @Router /api/v1/admin/reports/monthly [get]
func (h *ReportHandler) AdminMonthlyReport(c fiber.Ctx) error {
	month := c.Query("month")
	if month == "" {
		month = utils.CurrentMonth()
	}

	ctx, cancel := h.requestContextWithTimeout(c, "/api/v1/admin/reports/monthly", 60*time.Second)
	defer cancel()

	report, err := h.reportFlow.GetMonthlyAdminReport(ctx, month)
	if err != nil {
		return h.flowError(c, err, "Failed to compile report", "REPORT_COMPILE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Report retrieved", report)
}

// PartnerMonthlyReport returns the caller's venue report for a month
// @Summary Partner monthly report
// @Tags Reports
// @Produce json
// @Param month query string false "Month (YYYY-MM), defaults to the current month"
// @Success 200 {object} dto.APIResponse "Partner report"
// @Failure 400 {object} dto.APIResponse "Invalid month"
// @Router /api/v1/partner/reports/monthly [get]
func (h *ReportHandler) PartnerMonthlyReport(c fiber.Ctx) error {
	actor, ok, err := h.actor(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/partner/reports/monthly")
	defer cancel()

	report, err := h.reportFlow.GetPartnerMonthlyReport(ctx, utils.Deref(actor.PartnerID), c.Query("month"))
	if err != nil {
		return h.flowError(c, err, "Failed to compile report", "REPORT_COMPILE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Report retrieved", report)
}

// PartnerDailyMetrics returns the caller's venue counters for one day
// @Summary Partner daily metrics
// @Tags Reports
// @Produce json
// @Param date query string false "Date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} dto.APIResponse "Daily metrics"
// @Failure 400 {object} dto.APIResponse "Invalid date"
// @Router /api/v1/partner/metrics/daily [get]
func (h *ReportHandler) PartnerDailyMetrics(c fiber.Ctx) error {
	actor, ok, err := h.actor(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/partner/metrics/daily")
	defer cancel()

	metrics, err := h.reportFlow.GetPartnerDailyMetrics(ctx, utils.Deref(actor.PartnerID), c.Query("date"))
	if err != nil {
		return h.flowError(c, err, "Failed to compute metrics", "METRICS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Metrics retrieved", metrics)
}

// BackfillMetrics recomputes and stores monthly metrics for the most recent months
// @Summary Backfill monthly metrics
// @Tags Reports
// @Produce json
// @Param months query int false "Number of months, 1 to 24"
// @Success 200 {object} dto.APIResponse "Backfill result"
// @Failure 400 {object} dto.APIResponse "Invalid months"
// @Router /api/v1/admin/metrics/backfill [post]
func (h *ReportHandler) BackfillMetrics(c fiber.Ctx) error {
	req := dto.BackfillRequest{Months: utils.DefaultBackfillMonths}
	if raw := c.Query("months"); raw != "" {
		months, err := strconv.Atoi(raw)
		if err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "months must be a number", "VALIDATION_ERROR", nil)
		}
		req.Months = months
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContextWithTimeout(c, "/api/v1/admin/metrics/backfill", 10*time.Minute)
	defer cancel()

	result, err := h.metricsFlow.Backfill(ctx, req.Months)
	if err != nil {
		return h.flowError(c, err, "Metrics backfill failed", "BACKFILL_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Metrics backfilled", result)
}

// LegacyExport returns the month's raw events synchronously as CSV or JSON
// @Summary Monthly event export
// @Tags Reports
// @Produce json
// @Produce text/csv
// @Param type query string false "csv or json"
// @Param scope query string false "admin or partner"
// @Param month query string false "Month (YYYY-MM)"
// @Param partnerId query int false "Partner id for admin callers"
// @Success 200 {object} dto.APIResponse{data=dto.LegacyExportResponse} "Events"
// @Failure 403 {object} dto.APIResponse "MAX plan required"
// @Router /api/v1/reports/export [get]
func (h *ReportHandler) LegacyExport(c fiber.Ctx) error {
	actor, ok, err := h.actor(c)
	if !ok {
		return err
	}

	var req dto.LegacyExportRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContextWithTimeout(c, "/api/v1/reports/export", 60*time.Second)
	defer cancel()

	resp, err := h.legacyFlow.Export(ctx, actor, &req)
	if err != nil {
		return h.flowError(c, err, "Export failed", "EXPORT_FAILED")
	}

	if req.Type != "csv" {
		return h.SuccessResponse(c, fiber.StatusOK, "Export generated", resp)
	}

	var buf bytes.Buffer
	if err := businessflow.WriteLegacyCSV(&buf, resp.Events); err != nil {
		return h.flowError(c, err, "Export failed", "EXPORT_FAILED")
	}
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=\"dormup-export-%s-%s.csv\"", resp.Scope, resp.Month))
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}
