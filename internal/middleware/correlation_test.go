package middleware_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/middleware"
)

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func correlationApp() *fiber.App {
	app := fiber.New()
	app.Use(middleware.CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(middleware.GetCorrelationID(c) + "|" + middleware.CorrelationIDFromContext(c.UserContext()))
	})
	return app
}

func TestCorrelationIDPrefersHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?correlation_id=from-query", nil)
	req.Header.Set(middleware.HeaderCorrelationID, "from-header")

	resp := perform(t, correlationApp(), req)
	require.Equal(t, "from-header", resp.Header.Get(middleware.HeaderCorrelationID))
	require.Equal(t, "from-header|from-header", readBody(t, resp))
}

func TestCorrelationIDFallsBackToQueryForSockets(t *testing.T) {
	resp := perform(t, correlationApp(), httptest.NewRequest(http.MethodGet, "/?correlation_id=ws-1", nil))
	require.Equal(t, "ws-1", resp.Header.Get(middleware.HeaderCorrelationID))
}

func TestCorrelationIDGeneratesWhenMissingOrOversized(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.HeaderCorrelationID, strings.Repeat("x", 200))

	resp := perform(t, correlationApp(), req)
	id := resp.Header.Get(middleware.HeaderCorrelationID)
	require.Len(t, id, 36)
}
