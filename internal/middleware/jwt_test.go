package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/middleware"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func jwtApp() *fiber.App {
	app := fiber.New()
	app.Use(middleware.JWTProtected(testSecret))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})
	return app
}

func TestJWTProtectedAcceptsBearerToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"sub": "user-42", "exp": time.Now().Add(time.Hour).Unix()}, testSecret)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)

	resp := perform(t, jwtApp(), req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := make([]byte, 16)
	n, _ := resp.Body.Read(body)
	require.Equal(t, "user-42", string(body[:n]))
}

func TestJWTProtectedAcceptsQueryTokenAndNumericSubject(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"user_id": 7}, testSecret)
	req := httptest.NewRequest(http.MethodGet, "/?access_token="+token, nil)

	resp := perform(t, jwtApp(), req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJWTProtectedRejectsInvalidTokens(t *testing.T) {
	cases := map[string]string{
		"missing":      "",
		"malformed":    "Token abc",
		"wrong secret": "Bearer " + signToken(t, jwt.MapClaims{"sub": "u"}, "other"),
		"no subject":   "Bearer " + signToken(t, jwt.MapClaims{"name": "u"}, testSecret),
		"expired":      "Bearer " + signToken(t, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Hour).Unix()}, testSecret),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp := perform(t, jwtApp(), req)
			require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}
