package handlers

import (
	"errors"
	"mime"
	"path"

	"github.com/dormup/dormup-discounts/app/services"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

type FileHandlerInterface interface {
	Download(c fiber.Ctx) error
}

// FileHandler serves objects of the local storage backend behind signed links
type FileHandler struct {
	baseHandler
	storage *services.LocalStorage
}

func NewFileHandler(storage *services.LocalStorage, logger *zap.Logger) FileHandlerInterface {
	return &FileHandler{
		baseHandler: newBaseHandler(logger),
		storage:     storage,
	}
}

// Download streams a stored export or snapshot
// @Summary Download stored file
// @Tags Files
// @Produce octet-stream
// @Param bucket path string true "Bucket"
// @Param expires query int true "Link expiry (unix seconds)"
// @Param sig query string true "Link signature"
// @Success 200 {file} file "File contents"
// @Failure 403 {object} dto.APIResponse "Link expired or invalid"
// @Failure 404 {object} dto.APIResponse "File not found"
// @Router /api/v1/files/{bucket}/{path} [get]
func (h *FileHandler) Download(c fiber.Ctx) error {
	objectPath := c.Params("*")
	f, err := h.storage.Open(c.Params("bucket"), objectPath, c.Query("expires"), c.Query("sig"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrLinkExpired):
			return h.ErrorResponse(c, fiber.StatusForbidden, "Download link expired", "LINK_EXPIRED", nil)
		case errors.Is(err, services.ErrLinkSignature), errors.Is(err, services.ErrInvalidObjectPath),
			errors.Is(err, services.ErrUnknownBucket):
			return h.ErrorResponse(c, fiber.StatusForbidden, "Invalid download link", "LINK_INVALID", nil)
		default:
			h.logger.Warn("Stored file unavailable", zap.String("path", objectPath), zap.Error(err))
			return h.ErrorResponse(c, fiber.StatusNotFound, "File not found", "FILE_NOT_FOUND", nil)
		}
	}

	if contentType := mime.TypeByExtension(path.Ext(objectPath)); contentType != "" {
		c.Set(fiber.HeaderContentType, contentType)
	}
	c.Set(fiber.HeaderContentDisposition, "attachment; filename=\""+path.Base(objectPath)+"\"")
	return c.SendStream(f)
}
