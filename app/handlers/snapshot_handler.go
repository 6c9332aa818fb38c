package handlers

import (
	"strconv"

	"github.com/dormup/dormup-discounts/app/dto"
	businessflow "github.com/dormup/dormup-discounts/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

type SnapshotHandlerInterface interface {
	CreateSnapshot(c fiber.Ctx) error
	ListSnapshots(c fiber.Ctx) error
	RetrySnapshot(c fiber.Ctx) error
	PrintReport(c fiber.Ctx) error
}

type SnapshotHandler struct {
	baseHandler
	flow businessflow.SnapshotFlow
}

func NewSnapshotHandler(flow businessflow.SnapshotFlow, logger *zap.Logger) SnapshotHandlerInterface {
	return &SnapshotHandler{
		baseHandler: newBaseHandler(logger),
		flow:        flow,
	}
}

// CreateSnapshot queues a PDF/PNG snapshot of a monthly report
// @Summary Create report snapshot
// @Tags Snapshots
// @Accept json
// @Produce json
// @Param request body dto.CreateSnapshotRequest true "Snapshot target"
// @Success 202 {object} dto.APIResponse{data=dto.CreateSnapshotResponse} "Snapshot queued"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 403 {object} dto.APIResponse "Forbidden or PRO plan required"
// @Failure 404 {object} dto.APIResponse "Partner not found"
// @Failure 429 {object} dto.APIResponse "Snapshot queue is full"
// @Router /api/v1/reports/snapshots [post]
func (h *SnapshotHandler) CreateSnapshot(c fiber.Ctx) error {
	actor, ok, err := h.actor(c)
	if !ok {
		return err
	}

	var req dto.CreateSnapshotRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/reports/snapshots")
	defer cancel()

	resp, err := h.flow.CreateSnapshot(ctx, actor, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to create snapshot", "SNAPSHOT_CREATE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusAccepted, "Snapshot queued", resp)
}

// ListSnapshots lists recent snapshots visible to the caller
// @Summary List report snapshots
// @Tags Snapshots
// @Produce json
// @Param month query string false "Month (YYYY-MM)"
// @Param scope query string false "admin or partner"
// @Success 200 {object} dto.APIResponse{data=dto.ListSnapshotsResponse} "Snapshots"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Router /api/v1/reports/snapshots [get]
func (h *SnapshotHandler) ListSnapshots(c fiber.Ctx) error {
	actor, ok, err := h.actor(c)
	if !ok {
		return err
	}

	var req dto.ListSnapshotsRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/reports/snapshots")
	defer cancel()

	resp, err := h.flow.ListSnapshots(ctx, actor, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to list snapshots", "SNAPSHOT_LIST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Snapshots retrieved", resp)
}

// RetrySnapshot queues a fresh snapshot for the same target as an earlier one
// @Summary Retry report snapshot
// @Tags Snapshots
// @Produce json
// @Param id path int true "Snapshot id"
// @Success 202 {object} dto.APIResponse{data=dto.CreateSnapshotResponse} "Snapshot queued"
// @Failure 404 {object} dto.APIResponse "Snapshot not found"
// @Router /api/v1/reports/snapshots/{id}/retry [post]
func (h *SnapshotHandler) RetrySnapshot(c fiber.Ctx) error {
	actor, ok, err := h.actor(c)
	if !ok {
		return err
	}

	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid snapshot id", "VALIDATION_ERROR", nil)
	}

	ctx, cancel := h.requestContext(c, "/api/v1/reports/snapshots/:id/retry")
	defer cancel()

	resp, err := h.flow.RetrySnapshot(ctx, actor, uint(id))
	if err != nil {
		return h.flowError(c, err, "Failed to retry snapshot", "SNAPSHOT_RETRY_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusAccepted, "Snapshot queued", resp)
}

// PrintReport serves the report data to the print page loaded by the renderer
// @Summary Print report data
// @Description Authenticated by the short-lived report token minted for a snapshot job.
// @Tags Snapshots
// @Produce json
// @Param scope query string true "admin or partner"
// @Param month query string true "Month (YYYY-MM)"
// @Param token query string true "Report token"
// @Param partnerId query int false "Partner id for partner scope"
// @Success 200 {object} dto.APIResponse "Report"
// @Failure 401 {object} dto.APIResponse "Invalid report token"
// @Failure 403 {object} dto.APIResponse "Token does not match request"
// @Router /api/v1/reports/print [get]
func (h *SnapshotHandler) PrintReport(c fiber.Ctx) error {
	var req dto.PrintReportRequest
	if err := c.Bind().Query(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/reports/print")
	defer cancel()

	report, err := h.flow.GetPrintReport(ctx, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to load report", "REPORT_LOAD_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Report retrieved", report)
}
