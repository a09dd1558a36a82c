package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/service"
	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// respondError maps service failures onto HTTP statuses. Unknown errors are logged and hidden.
func respondError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	switch {
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	case errors.Is(err, service.ErrUploadTooLarge):
		return utils.Fail(c, fiber.StatusRequestEntityTooLarge, err.Error(), nil)
	case errors.Is(err, service.ErrUploadTypeNotAllowed):
		return utils.Fail(c, fiber.StatusUnsupportedMediaType, err.Error(), nil)
	case errors.Is(err, service.ErrValidation):
		return utils.Fail(c, fiber.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, service.ErrNotFound):
		return utils.Fail(c, fiber.StatusNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrForbidden):
		return utils.Fail(c, fiber.StatusForbidden, err.Error(), nil)
	case errors.Is(err, service.ErrConflict):
		return utils.Fail(c, fiber.StatusConflict, err.Error(), nil)
	default:
		requestLogger(logger, c).Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return utils.Fail(c, fiber.StatusInternalServerError, "internal server error", nil)
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return utils.Fail(c, fiber.StatusBadRequest, message, nil)
}

func unauthorized(c *fiber.Ctx) error {
	return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
}
