package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/middleware"
)

func withUser(userID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		return c.Next()
	}
}

func TestWithAuthRequiresUserByDefault(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}, middleware.AuthOptions{}))

	resp := perform(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWithAuthAllowsAuthenticatedUser(t *testing.T) {
	app := fiber.New()
	app.Use(withUser("alice"))
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	}, middleware.AuthOptions{}))

	resp := perform(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestWithAuthAllowsAnonymousWhenOptedIn(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}, middleware.AuthOptions{AllowAnonymous: true}))

	resp := perform(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWithAuthRequiresWebsocketUpgrade(t *testing.T) {
	app := fiber.New()
	app.Use(withUser("alice"))
	app.Get("/ws", middleware.WithAuth(func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}, middleware.AuthOptions{RequireUpgrade: true}))

	resp := perform(t, app, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	resp = perform(t, app, req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func perform(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}
