package middleware

import (
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizledger/bizledger/internal/logging"
)

func TestPayoutRateLimitPerBusiness(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(businessIDLocal, c.Get(businessIDHeader))
		return c.Next()
	})
	app.Post("/payouts", PayoutRateLimit(cache, 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	post := func(business string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/payouts", nil)
		req.Header.Set(businessIDHeader, business)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusCreated, post("biz-a"))
	assert.Equal(t, fiber.StatusCreated, post("biz-a"))
	assert.Equal(t, fiber.StatusTooManyRequests, post("biz-a"))
	assert.Equal(t, fiber.StatusCreated, post("biz-b"))
}

func TestPayoutRateLimitWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Post("/payouts", PayoutRateLimit(nil, 1, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/payouts", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
}
