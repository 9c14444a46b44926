package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bizledger/bizledger/internal/webhook"
)

// RegisterWebhookRoutes wires provider callbacks.
func RegisterWebhookRoutes(app *fiber.App, h *webhook.Handler) {
	app.Post("/webhooks/:provider", h.Receive)
}
