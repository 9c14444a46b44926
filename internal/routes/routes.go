package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/bizledger/bizledger/internal/business"
	"github.com/bizledger/bizledger/internal/collection"
	"github.com/bizledger/bizledger/internal/middleware"
	"github.com/bizledger/bizledger/internal/payout"
	"github.com/bizledger/bizledger/internal/wallet"
	"github.com/bizledger/bizledger/internal/webhook"
)

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps, s *Services) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDevelopment() {
		// [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Provider callbacks authenticate by signature, not by business key.
	var queue webhook.Enqueuer
	if s.Queue != nil {
		queue = s.Queue
	}
	RegisterWebhookRoutes(app, webhook.NewHandler(s.Providers, queue, s.Reconciler, d.Logger))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	RegisterBusinessRoutes(api, business.NewHandler(s.Businesses))

	protected := api.Group("", middleware.BusinessAuth(s.Businesses, d.Logger))
	RegisterWalletRoutes(protected, wallet.NewHandler(s.Wallets), collection.NewHandler(s.Collections))

	payoutGuards := []fiber.Handler{middleware.PayoutRateLimit(d.Cache, d.Cfg.PayoutRateLimit, d.Logger)}
	if d.Cache != nil {
		payoutGuards = append(payoutGuards, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	} else {
		d.Logger.Warn("no redis configured, payout idempotency keys are not enforced")
	}
	RegisterPayoutRoutes(protected, payout.NewHandler(s.Payouts), payoutGuards...)
}
