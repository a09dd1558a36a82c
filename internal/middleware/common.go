package middleware

import (
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

const accessLogFormat = "${time} ${status} ${method} ${path} ${latency} cid=${locals:correlation_id}\n"

// Config customises the chat API middleware chain.
type Config struct {
	Logger *zerolog.Logger
	// AllowOrigins is a comma separated CORS origin list. Empty allows every origin.
	AllowOrigins string
}

// Register installs recovery, correlation ids, metrics, access logging and CORS.
func Register(app *fiber.App, cfg Config) {
	requestLogger := zerolog.New(io.Discard)
	if cfg.Logger != nil {
		requestLogger = *cfg.Logger
	}

	origins := strings.TrimSpace(cfg.AllowOrigins)
	if origins == "" {
		origins = "*"
	}

	app.Use(recover.New())
	app.Use(CorrelationID())
	app.Use(Observability(requestLogger))
	app.Use(logger.New(logger.Config{Format: accessLogFormat}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, " + HeaderCorrelationID,
		AllowMethods:  "GET,POST,PATCH,DELETE,OPTIONS",
		ExposeHeaders: HeaderCorrelationID,
	}))
}
