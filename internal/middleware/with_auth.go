package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	// AllowAnonymous lets requests without a principal through.
	AllowAnonymous bool
	// RequireUpgrade rejects requests that are not websocket upgrades.
	RequireUpgrade bool
}

// WithAuth wraps a handler with principal and transport guards.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		if strings.TrimSpace(userID) == "" && !opts.AllowAnonymous {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		if opts.RequireUpgrade && !websocket.IsWebSocketUpgrade(c) {
			return utils.Fail(c, fiber.StatusUpgradeRequired, "websocket upgrade required", nil)
		}

		return handler(c)
	}
}
