package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/bizledger/bizledger/internal/business"
)

const (
	businessIDHeader = "X-Business-ID"
	apiKeyHeader     = "X-API-Key"
	businessIDLocal  = "business_id"
)

// Authenticator checks a business API key.
type Authenticator interface {
	Authenticate(ctx context.Context, id, apiKey string) (business.Business, error)
}

// BusinessAuth authenticates the X-Business-ID / X-API-Key header pair and
// stores the business id in Locals for handlers.
func BusinessAuth(auth Authenticator, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		b, err := auth.Authenticate(c.UserContext(), c.Get(businessIDHeader), c.Get(apiKeyHeader))
		if errors.Is(err, business.ErrInvalidCredentials) {
			return fiber.NewError(http.StatusUnauthorized, "invalid business credentials")
		}
		if err != nil {
			logger.Error("business authentication failed", slog.Any("error", err))
			return fiber.NewError(http.StatusInternalServerError, "authentication unavailable")
		}
		c.Locals(businessIDLocal, b.ID)
		return c.Next()
	}
}

// BusinessID returns the authenticated business, or "" before BusinessAuth ran.
func BusinessID(c *fiber.Ctx) string {
	id, _ := c.Locals(businessIDLocal).(string)
	return id
}
