package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/bizledger/bizledger/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	Type     string `json:"type"`
	Currency string `json:"currency"`
}

type walletResponse struct {
	ID              string    `json:"id"`
	BusinessID      string    `json:"business_id"`
	Type            string    `json:"type"`
	Currency        string    `json:"currency"`
	CurrentBalance  string    `json:"current_balance"`
	PreviousBalance string    `json:"previous_balance"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toResponse(w Wallet) walletResponse {
	return walletResponse{
		ID:              w.ID,
		BusinessID:      w.BusinessID,
		Type:            w.Type,
		Currency:        w.Currency,
		CurrentBalance:  w.CurrentBalance.StringFixed(2),
		PreviousBalance: w.PreviousBalance.StringFixed(2),
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
	}
}

type entryResponse struct {
	ID                   string    `json:"id"`
	TransactionID        string    `json:"transaction_id,omitempty"`
	TransactionType      string    `json:"transaction_type"`
	Amount               string    `json:"amount"`
	BalanceBefore        string    `json:"balance_before"`
	BalanceAfter         string    `json:"balance_after"`
	TransactionReference string    `json:"transaction_reference"`
	CreatedAt            time.Time `json:"created_at"`
}

// Open returns the business's wallet for a type and currency, creating it if needed.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Type == "" {
		req.Type = TypeVendorPayout
	}
	w, err := h.service.GetOrCreate(c.UserContext(), businessID(c), req.Type, req.Currency)
	if err != nil {
		if errors.Is(err, ErrInvalidWallet) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}

// List returns the business's wallets.
func (h *Handler) List(c *fiber.Ctx) error {
	wallets, err := h.service.ListByBusiness(c.UserContext(), businessID(c))
	if err != nil {
		return err
	}
	out := make([]walletResponse, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, toResponse(w))
	}
	return c.JSON(fiber.Map{"data": out})
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	w, err := h.owned(c)
	if err != nil {
		return err
	}
	balance, err := h.service.GetBalance(c.UserContext(), w.ID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": w.ID,
		"currency":  w.Currency,
		"balance":   balance.StringFixed(2),
		"timestamp": time.Now().UTC(),
	})
}

// Entries lists the wallet's ledger entries.
func (h *Handler) Entries(c *fiber.Ctx) error {
	w, err := h.owned(c)
	if err != nil {
		return err
	}

	filter := ledger.Filter{Page: c.QueryInt("page", 1), PerPage: c.QueryInt("per_page", 0)}
	for key, dst := range map[string]**time.Time{"date_from": &filter.DateFrom, "date_to": &filter.DateTo} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, key+" must be an RFC3339 timestamp")
		}
		*dst = &ts
	}

	page, err := h.service.Entries(c.UserContext(), w.ID, filter)
	if err != nil {
		return err
	}
	out := make([]entryResponse, 0, len(page.Entries))
	for _, e := range page.Entries {
		out = append(out, entryResponse{
			ID:                   e.ID,
			TransactionID:        e.TransactionID,
			TransactionType:      e.TransactionType,
			Amount:               e.Amount.StringFixed(2),
			BalanceBefore:        e.BalanceBefore.StringFixed(2),
			BalanceAfter:         e.BalanceAfter.StringFixed(2),
			TransactionReference: e.TransactionReference,
			CreatedAt:            e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{
		"data":     out,
		"page":     page.Page,
		"per_page": page.PerPage,
		"total":    page.Total,
	})
}

// Reconcile reports whether the wallet balance matches its ledger.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	w, err := h.owned(c)
	if err != nil {
		return err
	}
	res, err := h.service.Reconcile(c.UserContext(), w.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"wallet_id":        res.WalletID,
		"is_balanced":      res.IsBalanced,
		"expected_balance": res.ExpectedBalance.StringFixed(2),
		"actual_balance":   res.ActualBalance.StringFixed(2),
		"difference":       res.Difference.StringFixed(2),
		"entry_count":      res.EntryCount,
		"discrepancies":    res.Discrepancies,
		"checked_at":       res.CheckedAt,
	})
}

// owned loads the :walletId wallet and hides wallets of other businesses.
func (h *Handler) owned(c *fiber.Ctx) (Wallet, error) {
	w, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return Wallet{}, fiber.NewError(http.StatusNotFound, err.Error())
		}
		return Wallet{}, err
	}
	if w.BusinessID != businessID(c) {
		return Wallet{}, fiber.NewError(http.StatusNotFound, ErrWalletNotFound.Error())
	}
	return w, nil
}

func businessID(c *fiber.Ctx) string {
	id, _ := c.Locals("business_id").(string)
	return id
}
