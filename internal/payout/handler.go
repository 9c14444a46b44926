package payout

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/bizledger/bizledger/internal/provider"
	"github.com/bizledger/bizledger/internal/transaction"
)

// Handler exposes the business-facing payout endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a payout HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New(validator.WithRequiredStructEnabled())}
}

type payoutRequest struct {
	WalletID      string `json:"wallet_id" validate:"required"`
	Amount        string `json:"amount" validate:"required,numeric"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	BankCode      string `json:"bank_code" validate:"required"`
	BankName      string `json:"bank_name"`
	AccountType   string `json:"account_type"`
	Currency      string `json:"currency" validate:"omitempty,len=3,alpha"`
	Narration     string `json:"narration" validate:"max=140"`
	CustomerName  string `json:"customer_name" validate:"max=120"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone string `json:"customer_phone" validate:"omitempty,e164"`
}

type verifyRequest struct {
	Currency      string `json:"currency" validate:"required,len=3,alpha"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=6,max=20"`
	BankCode      string `json:"bank_code" validate:"required"`
	AccountType   string `json:"account_type"`
}

type transactionResponse struct {
	ID                 string         `json:"id"`
	WalletID           string         `json:"wallet_id"`
	Reference          string         `json:"reference"`
	ProcessorReference string         `json:"processor_reference,omitempty"`
	Provider           string         `json:"provider"`
	Category           string         `json:"category"`
	Type               string         `json:"type"`
	Method             string         `json:"method"`
	Status             string         `json:"status"`
	Amount             string         `json:"amount"`
	Currency           string         `json:"currency"`
	BalanceBefore      string         `json:"balance_before"`
	BalanceAfter       string         `json:"balance_after"`
	Data               map[string]any `json:"data,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func toTransactionResponse(t transaction.Transaction) transactionResponse {
	return transactionResponse{
		ID:                 t.ID,
		WalletID:           t.WalletID,
		Reference:          t.Reference,
		ProcessorReference: t.ProcessorReference,
		Provider:           t.Processor,
		Category:           t.Category,
		Type:               t.Type,
		Method:             t.Method,
		Status:             t.Status,
		Amount:             t.Amount.StringFixed(2),
		Currency:           t.Currency,
		BalanceBefore:      t.BalanceBefore.StringFixed(2),
		BalanceAfter:       t.BalanceAfter.StringFixed(2),
		Data:               t.Data,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

// Create initiates a bank payout.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req payoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return validationError(c, err)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return respondError(c, newError(CodeInvalidAmount, "amount must be a decimal number", err))
	}

	res, err := h.service.PayoutToBank(c.UserContext(), Request{
		BusinessID: businessID(c),
		WalletID:   req.WalletID,
		Amount:     amount,
		Bank: provider.BankDetails{
			AccountNumber: req.AccountNumber,
			BankCode:      req.BankCode,
			BankName:      req.BankName,
			Currency:      strings.ToUpper(req.Currency),
			AccountType:   req.AccountType,
		},
		Narration:     req.Narration,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"status":              "success",
		"reference":           res.Reference,
		"processor_reference": res.ProcessorReference,
		"payout_status":       res.Status,
		"amount":              res.Amount.StringFixed(2),
		"currency":            res.Currency,
		"provider":            res.Provider,
		"account_name":        res.AccountName,
	})
}

// Get returns one payout by reference.
func (h *Handler) Get(c *fiber.Ctx) error {
	txn, err := h.service.Get(c.UserContext(), businessID(c), c.Params("reference"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toTransactionResponse(txn))
}

// Requery refreshes a pending payout from the provider.
func (h *Handler) Requery(c *fiber.Ctx) error {
	txn, err := h.service.Requery(c.UserContext(), businessID(c), c.Params("reference"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toTransactionResponse(txn))
}

// Banks lists destination banks for a currency.
func (h *Handler) Banks(c *fiber.Ctx) error {
	currency := strings.ToUpper(c.Query("currency"))
	if len(currency) != 3 {
		return respondError(c, newError("invalid_request", "currency query parameter is required", nil))
	}
	banks, err := h.service.ListBanks(c.UserContext(), c.Query("country"), currency)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "success", "data": banks})
}

// VerifyAccount resolves a bank account holder's name.
func (h *Handler) VerifyAccount(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return validationError(c, err)
	}
	info, err := h.service.VerifyAccount(c.UserContext(), req.Currency, req.AccountNumber, req.BankCode, req.AccountType)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"status":         "success",
		"account_name":   info.AccountName,
		"account_number": info.AccountNumber,
		"bank_code":      info.BankCode,
		"metadata":       info.Data,
	})
}

func validationError(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[strings.ToLower(fe.Field())] = fe.Tag()
		}
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"code":    "invalid_request",
			"message": "request validation failed",
			"fields":  fields,
		})
	}
	return fiber.NewError(http.StatusBadRequest, err.Error())
}

func respondError(c *fiber.Ctx, err error) error {
	var perr *Error
	if !errors.As(err, &perr) {
		return err
	}
	status := http.StatusInternalServerError
	switch {
	case perr.Code == CodeOutcomeUnknown:
		status = http.StatusAccepted
	case perr.Code == CodeWalletNotFound, perr.Code == CodeTransactionNotFound:
		status = http.StatusNotFound
	case perr.Code == "invalid_request", IsValidation(perr.Code):
		status = http.StatusBadRequest
	}
	body := fiber.Map{"status": "error", "code": perr.Code, "message": perr.Message}
	if perr.Reference != "" {
		body["reference"] = perr.Reference
	}
	return c.Status(status).JSON(body)
}

func businessID(c *fiber.Ctx) string {
	id, _ := c.Locals("business_id").(string)
	return id
}
