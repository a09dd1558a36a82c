package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesChatCollectors(t *testing.T) {
	ChatMessagesSent().WithLabelValues("direct", "text").Inc()
	ChatReactionToggles().WithLabelValues("added").Inc()

	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "chat_messages_sent_total")
	require.Contains(t, string(body), "chat_reaction_toggles_total")
}
