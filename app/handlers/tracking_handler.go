package handlers

import (
	"strconv"

	"github.com/dormup/dormup-discounts/app/dto"
	"github.com/dormup/dormup-discounts/app/middleware"
	businessflow "github.com/dormup/dormup-discounts/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

type TrackingHandlerInterface interface {
	TrackView(c fiber.Ctx) error
}

type TrackingHandler struct {
	baseHandler
	flow businessflow.TrackingFlow
}

func NewTrackingHandler(flow businessflow.TrackingFlow, logger *zap.Logger) TrackingHandlerInterface {
	return &TrackingHandler{
		baseHandler: newBaseHandler(logger),
		flow:        flow,
	}
}

// TrackView records a venue page view. Repeated views within the same minute are collapsed.
// @Summary Track venue view
// @Tags Tracking
// @Accept json
// @Produce json
// @Param id path int true "Venue id"
// @Param request body dto.TrackViewRequest false "Optional city"
// @Success 200 {object} dto.APIResponse{data=dto.TrackViewResponse} "View tracked"
// @Failure 404 {object} dto.APIResponse "Venue not found"
// @Router /api/v1/venues/{id}/views [post]
func (h *TrackingHandler) TrackView(c fiber.Ctx) error {
	var req dto.TrackViewRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	venueID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid venue id", "VALIDATION_ERROR", nil)
	}
	req.VenueID = uint(venueID)
	if ok, err := h.validate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/venues/:id/views")
	defer cancel()

	recorded, err := h.flow.TrackView(ctx, req.VenueID, middleware.GetUserIDFromContext(c), req.City, c.Get("User-Agent"))
	if err != nil {
		return h.flowError(c, err, "Failed to track view", "VIEW_TRACK_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "View tracked", dto.TrackViewResponse{Recorded: recorded})
}
