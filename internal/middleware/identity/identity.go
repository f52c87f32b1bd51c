// Package identity resolves a stable caller identity for rate limiting and
// query history. Precedence: X-Session-ID header, then the browser_id
// cookie (minted on first contact), then the client IP.
package identity

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	LocalKey      = "caller_identity"
	SessionHeader = "X-Session-ID"
	CookieName    = "browser_id"
)

// Middleware stores the resolved identity in c.Locals under LocalKey.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(LocalKey, resolve(c))
		return c.Next()
	}
}

// From reads the identity resolved by Middleware, falling back to the
// client IP when the middleware is not installed.
func From(c *fiber.Ctx) string {
	if id, ok := c.Locals(LocalKey).(string); ok && id != "" {
		return id
	}
	return c.IP()
}

func resolve(c *fiber.Ctx) string {
	if session := c.Get(SessionHeader); session != "" {
		return session
	}

	if browserID := c.Cookies(CookieName); browserID != "" {
		return browserID
	}

	browserID := uuid.New().String()
	c.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    browserID,
		Expires:  time.Now().Add(365 * 24 * time.Hour),
		HTTPOnly: true,
		SameSite: "Lax",
	})
	return browserID
}
