package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bizledger/bizledger/internal/payout"
)

// RegisterPayoutRoutes wires bank lookups and payouts. guards run in front of
// payout creation only.
func RegisterPayoutRoutes(r fiber.Router, h *payout.Handler, guards ...fiber.Handler) {
	r.Get("/banks", h.Banks)
	r.Post("/banks/verify", h.VerifyAccount)

	create := append(guards, h.Create)
	r.Post("/payouts", create...)
	r.Get("/payouts/:reference", h.Get)
	r.Post("/payouts/:reference/requery", h.Requery)
}
