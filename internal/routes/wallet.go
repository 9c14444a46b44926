package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bizledger/bizledger/internal/collection"
	"github.com/bizledger/bizledger/internal/wallet"
)

// RegisterWalletRoutes wires wallet and virtual account endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, va *collection.Handler) {
	r.Post("/wallets", h.Open)
	r.Get("/wallets", h.List)
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Get("/wallets/:walletId/entries", h.Entries)
	r.Get("/wallets/:walletId/reconcile", h.Reconcile)
	r.Post("/wallets/:walletId/virtual-accounts", va.Attach)
	r.Get("/wallets/:walletId/virtual-accounts", va.List)
}
