// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dormup/dormup-discounts/app/dto"
	"github.com/dormup/dormup-discounts/app/middleware"
	businessflow "github.com/dormup/dormup-discounts/business_flow"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 30 * time.Second

// baseHandler holds what every handler needs to answer in the API envelope
type baseHandler struct {
	validator *validator.Validate
	logger    *zap.Logger
}

func newBaseHandler(logger *zap.Logger) baseHandler {
	return baseHandler{validator: validator.New(), logger: logger}
}

// ErrorResponse standard JSON error
func (h *baseHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

// SuccessResponse standard JSON success
func (h *baseHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and writes the 400 response when it fails
func (h *baseHandler) validate(c fiber.Ctx, req any) (bool, error) {
	err := h.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", messages)
}

// actor returns the authenticated caller or writes a 401
func (h *baseHandler) actor(c fiber.Ctx) (businessflow.Actor, bool, error) {
	actor, ok := middleware.GetActorFromContext(c)
	if !ok {
		return actor, false, h.ErrorResponse(c, fiber.StatusUnauthorized, "Unauthorized", "UNAUTHORIZED", nil)
	}
	return actor, true, nil
}

// flowError maps business errors onto HTTP statuses. Anything unrecognised is logged and becomes a 500.
func (h *baseHandler) flowError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	be, ok := businessflow.AsBusinessError(err)
	message, code := fallbackMessage, fallbackCode
	if ok {
		message, code = be.Message, be.Code
	}

	var status int
	switch {
	case businessflow.IsValidationError(err):
		status = fiber.StatusBadRequest
	case businessflow.IsPartnerNotFound(err), businessflow.IsVenueNotFound(err),
		businessflow.IsExportJobNotFound(err), businessflow.IsSnapshotNotFound(err),
		businessflow.IsMetricsNotComputed(err), businessflow.IsAdminNotFound(err):
		status = fiber.StatusNotFound
	case errors.Is(err, businessflow.ErrReportTokenMismatch):
		status = fiber.StatusForbidden
	case businessflow.IsInvalidReportToken(err), businessflow.IsInvalidCredentials(err):
		status = fiber.StatusUnauthorized
	case businessflow.IsTierRequired(err), businessflow.IsAccessDenied(err),
		businessflow.IsAdminScopeForbidden(err), businessflow.IsAccountInactive(err):
		status = fiber.StatusForbidden
	case businessflow.IsQueueFull(err):
		status = fiber.StatusTooManyRequests
	default:
		h.logger.Error(fallbackMessage,
			zap.String("path", c.Path()),
			zap.String("request_id", c.Get("X-Request-ID")),
			zap.Error(err),
		)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
	}
	return h.ErrorResponse(c, status, message, code, nil)
}

// requestContext carries request-scoped values into the flows. The caller must call cancel.
func (h *baseHandler) requestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	return h.requestContextWithTimeout(c, endpoint, defaultRequestTimeout)
}

func (h *baseHandler) requestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	return ctx, cancel
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
