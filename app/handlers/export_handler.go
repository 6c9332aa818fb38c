package handlers

import (
	"github.com/dormup/dormup-discounts/app/dto"
	businessflow "github.com/dormup/dormup-discounts/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

type ExportHandlerInterface interface {
	CreateExportJob(c fiber.Ctx) error
	ListExportJobs(c fiber.Ctx) error
	GetExportJob(c fiber.Ctx) error
}

type ExportHandler struct {
	baseHandler
	flow businessflow.ExportFlow
}

func NewExportHandler(flow businessflow.ExportFlow, logger *zap.Logger) ExportHandlerInterface {
	return &ExportHandler{
		baseHandler: newBaseHandler(logger),
		flow:        flow,
	}
}

// CreateExportJob queues a raw event export
// @Summary Create raw event export
// @Description Queue a CSV or XLSX export of raw events. Returns 202 with a job id to poll.
// @Tags Exports
// @Accept json
// @Produce json
// @Param request body dto.CreateExportJobRequest true "Export parameters"
// @Success 202 {object} dto.APIResponse{data=dto.CreateExportJobResponse} "Export job created"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 403 {object} dto.APIResponse "MAX plan required"
// @Failure 404 {object} dto.APIResponse "Partner not found"
// @Failure 429 {object} dto.APIResponse "Export queue is full"
// @Router /api/v1/admin/exports [post]
// @Router /api/v1/partner/exports [post]
func (h *ExportHandler) CreateExportJob(c fiber.Ctx) error {
	actor, ok, err := h.actor(c)
	if !ok {
		return err
	}

	var req dto.CreateExportJobRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, c.Path())
	defer cancel()

	resp, err := h.flow.CreateExportJob(ctx, actor, &req)
	if err != nil {
		return h.flowError(c, err, "Failed to create export job", "EXPORT_CREATE_FAILED")
	}

	h.logger.Info("Export job created",
		zap.String("job_id", resp.JobID),
		zap.String("actor", actor.Ref()),
		zap.String("format", req.Format),
	)
	return h.SuccessResponse(c, fiber.StatusAccepted, resp.Message, resp)
}

// ListExportJobs lists the caller's most recent export jobs
// @Summary List export jobs
// @Tags Exports
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.ListExportJobsResponse} "Export jobs"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Router /api/v1/admin/exports [get]
// @Router /api/v1/partner/exports [get]
func (h *ExportHandler) ListExportJobs(c fiber.Ctx) error {
	actor, ok, err := h.actor(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, c.Path())
	defer cancel()

	resp, err := h.flow.ListExportJobs(ctx, actor)
	if err != nil {
		return h.flowError(c, err, "Failed to list export jobs", "EXPORT_LIST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Export jobs retrieved", resp)
}

// GetExportJob returns one export job, including a fresh download link when it is ready
// @Summary Get export job
// @Tags Exports
// @Produce json
// @Param id path string true "Export job id"
// @Success 200 {object} dto.APIResponse{data=dto.ExportJobDTO} "Export job"
// @Failure 404 {object} dto.APIResponse "Export job not found"
// @Router /api/v1/admin/exports/jobs/{id} [get]
// @Router /api/v1/partner/exports/jobs/{id} [get]
func (h *ExportHandler) GetExportJob(c fiber.Ctx) error {
	actor, ok, err := h.actor(c)
	if !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, c.Path())
	defer cancel()

	job, err := h.flow.GetExportJob(ctx, actor, c.Params("id"))
	if err != nil {
		return h.flowError(c, err, "Failed to get export job", "EXPORT_GET_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Export job retrieved", job)
}
