package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"outreach/utils"
)

// Protected requires a valid bearer token and stores the session on the context
func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Try to get token from Authorization header first
		var token string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid authorization format", nil)
			}
			token = tokenParts[1]
		} else {
			// Browsers cannot set headers on websocket upgrades
			token = c.Cookies("access_token")
			if token == "" {
				token = c.Query("token")
			}
			if token == "" {
				return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Authorization required", nil)
			}
		}

		claims, err := utils.ParseJWTToken(token)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid or expired token", nil)
		}

		c.Locals("userID", claims.Subject)
		c.Locals("sessionID", claims.Session())

		return c.Next()
	}
}

// SessionID reads the session stored by Protected
func SessionID(c *fiber.Ctx) string {
	id, _ := c.Locals("sessionID").(string)
	return id
}
