package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-chat-api/internal/utils"
)

// AccessTokenQuery is the query parameter browsers use to pass a token on websocket upgrades.
const AccessTokenQuery = "access_token"

// JWTProtected returns a middleware that validates HMAC-signed bearer tokens and stores
// the principal's user id in the "user_id" local.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, err := bearerToken(c)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token claims")
		}

		userID := extractUserIDFromClaims(claims)
		if userID == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "token has no subject")
		}
		c.Locals("user_id", userID)

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authorization := strings.TrimSpace(c.Get("Authorization"))
	if authorization == "" {
		if token := strings.TrimSpace(c.Query(AccessTokenQuery)); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("authorization header missing")
	}

	const bearer = "Bearer "
	if len(authorization) < len(bearer) || !strings.EqualFold(authorization[:len(bearer)], bearer) {
		return "", fmt.Errorf("invalid authorization header")
	}

	token := strings.TrimSpace(authorization[len(bearer):])
	if token == "" {
		return "", fmt.Errorf("invalid token")
	}
	return token, nil
}

func extractUserIDFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"sub", "user_id", "id"} {
		if value, ok := claims[key]; ok {
			if normalized := normalizeUserID(value); normalized != "" {
				return normalized
			}
		}
	}
	return ""
}

func normalizeUserID(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return ""
		}
		return strconv.FormatInt(int64(v), 10)
	case int:
		if v < 0 {
			return ""
		}
		return strconv.Itoa(v)
	default:
		return ""
	}
}
