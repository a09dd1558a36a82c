package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Correlation id sources. Browsers cannot set headers on a websocket upgrade, so the
// query parameter is accepted as a fallback.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	headerRequestID     = "X-Request-ID"
	CorrelationQuery    = "correlation_id"
	LocalCorrelationID  = "correlation_id"
	maxCorrelationIDLen = 128
)

type correlationIDKey struct{}

// CorrelationID tags every request and socket session with an id that follows it into logs
// and realtime error payloads.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := firstCorrelationID(
			c.Get(HeaderCorrelationID),
			c.Get(headerRequestID),
			c.Query(CorrelationQuery),
		)
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(LocalCorrelationID, id)
		c.Set(HeaderCorrelationID, id)
		c.SetUserContext(ContextWithCorrelation(c.UserContext(), id))

		return c.Next()
	}
}

func firstCorrelationID(candidates ...string) string {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate != "" && len(candidate) <= maxCorrelationIDLen {
			return candidate
		}
	}
	return ""
}

func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// GetCorrelationID returns the id bound to the request, falling back to its user context.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(LocalCorrelationID).(string); ok && id != "" {
		return id
	}
	return CorrelationIDFromContext(c.UserContext())
}

// ContextWithCorrelation binds id to ctx. Blank ids leave ctx unchanged.
func ContextWithCorrelation(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey{}, id)
}
