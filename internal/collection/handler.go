package collection

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/bizledger/bizledger/internal/provider"
	"github.com/bizledger/bizledger/internal/wallet"
)

// Handler exposes virtual account endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a collection HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type attachRequest struct {
	Provider          string `json:"provider"`
	ProviderReference string `json:"provider_reference"`
}

type virtualAccountResponse struct {
	ID                string `json:"id"`
	WalletID          string `json:"wallet_id"`
	Provider          string `json:"provider"`
	ProviderReference string `json:"provider_reference"`
	AccountNumber     string `json:"account_number"`
	BankName          string `json:"bank_name"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
}

func toResponse(va VirtualAccount) virtualAccountResponse {
	return virtualAccountResponse{
		ID:                va.ID,
		WalletID:          va.WalletID,
		Provider:          va.ProviderSlug,
		ProviderReference: va.ProviderReference,
		AccountNumber:     va.AccountNumber,
		BankName:          va.BankName,
		Currency:          va.Currency,
		Status:            va.Status,
	}
}

// Attach links a provider virtual account to the wallet.
func (h *Handler) Attach(c *fiber.Ctx) error {
	var req attachRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Provider == "" || req.ProviderReference == "" {
		return fiber.NewError(http.StatusBadRequest, "provider and provider_reference are required")
	}

	va, err := h.service.Attach(c.UserContext(), businessID(c), c.Params("walletId"), req.Provider, req.ProviderReference)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(va))
}

// List returns the wallet's virtual accounts.
func (h *Handler) List(c *fiber.Ctx) error {
	accounts, err := h.service.List(c.UserContext(), businessID(c), c.Params("walletId"))
	if err != nil {
		return mapError(err)
	}
	out := make([]virtualAccountResponse, 0, len(accounts))
	for _, va := range accounts {
		out = append(out, toResponse(va))
	}
	return c.JSON(fiber.Map{"data": out})
}

func mapError(err error) error {
	var perr *provider.Error
	switch {
	case errors.Is(err, wallet.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrVirtualAccountExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrCurrencyMismatch), errors.Is(err, ErrUnsupportedProvider),
		errors.Is(err, provider.ErrUnknownProvider), errors.Is(err, provider.ErrProviderInactive):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.As(err, &perr):
		return fiber.NewError(http.StatusBadGateway, perr.Message)
	}
	return err
}

func businessID(c *fiber.Ctx) string {
	id, _ := c.Locals("business_id").(string)
	return id
}
