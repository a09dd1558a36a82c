package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/service"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// UploadHandler accepts chat attachments.
type UploadHandler struct {
	service service.UploadService
	logger  zerolog.Logger
}

// NewUploadHandler constructs an upload handler.
func NewUploadHandler(service service.UploadService, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		service: service,
		logger:  logger.With().Str("component", "upload_handler").Logger(),
	}
}

// Register wires upload routes.
func (h *UploadHandler) Register(router fiber.Router) {
	router.Post("", h.upload)
}

func (h *UploadHandler) upload(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return unauthorized(c)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}

	result, err := h.service.Upload(requestContext(c), file, userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "upload successful", result)
}
