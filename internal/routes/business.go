package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bizledger/bizledger/internal/business"
)

// RegisterBusinessRoutes wires public onboarding.
func RegisterBusinessRoutes(r fiber.Router, h *business.Handler) {
	r.Post("/businesses", h.Register)
}
