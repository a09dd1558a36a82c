package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-chat-api/internal/config"
	"github.com/noah-isme/gema-chat-api/internal/handler"
	"github.com/noah-isme/gema-chat-api/internal/middleware"
	"github.com/noah-isme/gema-chat-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	MessageHandler      *handler.MessageHandler
	ConversationHandler *handler.ConversationHandler
	GroupHandler        *handler.GroupHandler
	UploadHandler       *handler.UploadHandler
	JWTMiddleware       fiber.Handler
	HealthProbes        []handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	v2 := app.Group("/api/v2", jwtMiddleware)

	if deps.ChatHandler != nil {
		deps.ChatHandler.Register(v2.Group("/chat"))
		deps.ChatHandler.RegisterPresence(v2.Group("/presence"))
	}

	if deps.MessageHandler != nil {
		messages := v2.Group("/messages")
		messages.Post("", middleware.RateLimit("messages", 30, 10*time.Second))
		deps.MessageHandler.Register(messages)
	}

	if deps.ConversationHandler != nil {
		deps.ConversationHandler.Register(v2.Group("/conversations"))
	}

	if deps.GroupHandler != nil {
		groups := v2.Group("/groups")
		groups.Post("/:id/invite", middleware.RateLimit("group_invites", 10, time.Minute))
		deps.GroupHandler.Register(groups)
	}

	if deps.UploadHandler != nil {
		uploads := v2.Group("/uploads")
		uploads.Post("", middleware.RateLimit("uploads", 10, time.Minute))
		deps.UploadHandler.Register(uploads)
	}
}
