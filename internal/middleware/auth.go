package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-realtime-hub/internal/httpx"
	"github.com/noteduco342/om-realtime-hub/internal/models"
)

// BridgeAuth admits callers that present the hub's own session token, as
// a bearer header or, for websocket upgrades from a browser, the token
// query parameter.
func BridgeAuth(session models.Session) fiber.Handler {
	want := []byte(session.Token)
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		var tokenString string
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return httpx.Unauthorized(c, "invalid_authorization", "Invalid authorization format")
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			return httpx.Unauthorized(c, "missing_access_token", "Missing access token")
		}
		if subtle.ConstantTimeCompare([]byte(tokenString), want) != 1 {
			return httpx.Unauthorized(c, "invalid_access_token", "Invalid token")
		}

		c.Locals("userID", session.UserID)
		c.Locals("tenantID", session.TenantID)
		return c.Next()
	}
}
