package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bizledger/bizledger/internal/config"
)

// Fincra implements PayoutProvider, CollectionVerifier, WebhookParser and
// SignatureVerifier against the Fincra API.
type Fincra struct {
	unsupported
	client        *Client
	businessID    string
	webhookSecret string
	logger        *slog.Logger
}

// NewFincra builds a Fincra provider from explicit configuration.
func NewFincra(cfg config.ProviderConfig, logger *slog.Logger) *Fincra {
	if cfg.Slug == "" {
		cfg.Slug = SlugFincra
	}
	headers := map[string]string{"api-key": cfg.APIKey}
	if cfg.BusinessID != "" {
		headers["x-business-id"] = cfg.BusinessID
	}
	return &Fincra{
		unsupported:   unsupported{slug: cfg.Slug},
		client:        NewClient(cfg, headers, logger),
		businessID:    cfg.BusinessID,
		webhookSecret: cfg.WebhookSecret,
		logger:        logger.With("provider", cfg.Slug),
	}
}

type fincraEnvelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (f *Fincra) Slug() string { return f.slug }

func (f *Fincra) rejected(message string, data any) *Error {
	if message == "" {
		message = "request was not successful"
	}
	return &Error{Provider: f.slug, Code: CodeRejected, Message: message, Data: toMap(data)}
}

// ListBanks returns the banks Fincra can pay into for a country and currency.
func (f *Fincra) ListBanks(ctx context.Context, country, currency string) ([]Bank, error) {
	q := url.Values{}
	if currency != "" {
		q.Set("currency", currency)
	}
	if country != "" {
		q.Set("country", country)
	}

	var resp fincraEnvelope[[]struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}]
	if err := f.client.Get(ctx, "/core/banks", q, &resp); err != nil {
		f.logger.Error("list banks failed", "currency", currency, "error", err)
		return nil, err
	}
	if !resp.Success {
		return nil, f.rejected(resp.Message, nil)
	}

	banks := make([]Bank, 0, len(resp.Data))
	for _, b := range resp.Data {
		banks = append(banks, Bank{Code: b.Code, Name: b.Name, Country: country, Currency: currency})
	}
	return banks, nil
}

// VerifyBankAccount resolves the account holder's name.
func (f *Fincra) VerifyBankAccount(ctx context.Context, accountNumber, bankCode, currency, accountType string) (AccountInfo, error) {
	if accountType == "" {
		accountType = "nuban"
	}
	body := map[string]string{
		"accountNumber": accountNumber,
		"bankCode":      bankCode,
		"type":          accountType,
		"currency":      currency,
	}

	var resp fincraEnvelope[map[string]any]
	if err := f.client.Post(ctx, "/core/accounts/resolve", body, &resp); err != nil {
		f.logger.Error("account resolution failed", "bank_code", bankCode, "error", err)
		return AccountInfo{}, err
	}
	name := str(resp.Data["accountName"])
	if !resp.Success || name == "" {
		return AccountInfo{}, f.rejected(resp.Message, resp.Data)
	}
	return AccountInfo{
		AccountName:          name,
		AccountNumber:        firstNonEmpty(str(resp.Data["accountNumber"]), accountNumber),
		BankCode:             bankCode,
		NameEnquiryReference: str(resp.Data["nameEnquiryReference"]),
		Data:                 resp.Data,
	}, nil
}

// BankTransfer submits a payout. Reference is sent as customerReference so
// Fincra rejects a second submission of the same payout.
func (f *Fincra) BankTransfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	first, last := splitName(req.Bank.AccountName)
	beneficiary := map[string]any{
		"firstName":         first,
		"lastName":          last,
		"accountHolderName": req.Bank.AccountName,
		"accountNumber":     req.Bank.AccountNumber,
		"bankCode":          req.Bank.BankCode,
		"type":              "individual",
	}
	if req.Bank.BankName != "" {
		beneficiary["bankName"] = req.Bank.BankName
	}
	if req.Customer.Email != "" {
		beneficiary["email"] = req.Customer.Email
	}
	if req.Customer.Phone != "" {
		beneficiary["phone"] = req.Customer.Phone
	}

	body := map[string]any{
		"amount":              req.Amount.StringFixed(2),
		"business":            f.businessID,
		"customerReference":   req.Reference,
		"description":         req.Narration,
		"narration":           req.Narration,
		"destinationCurrency": req.Currency,
		"sourceCurrency":      req.Currency,
		"paymentDestination":  "bank_account",
		"beneficiary":         beneficiary,
		"sender":              map[string]any{"name": req.Customer.Name, "email": req.Customer.Email},
		"customerName":        req.Customer.Name,
	}
	if req.NameEnquiryReference != "" {
		body["nameEnquiryReference"] = req.NameEnquiryReference
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var resp struct {
		fincraEnvelope[map[string]any]
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	if err := f.client.Submit(ctx, "/disbursements/payouts", body, &resp); err != nil {
		f.logger.Error("payout submission failed",
			"reference", req.Reference, "wallet_id", req.SourceWallet, "ambiguous", IsAmbiguous(err), "error", err)
		return TransferResult{}, err
	}
	if !resp.Success {
		f.logger.Warn("payout rejected", "reference", req.Reference, "wallet_id", req.SourceWallet, "message", resp.Message)
		return TransferResult{}, f.rejected(resp.Message, resp.Data)
	}

	ref := firstNonEmpty(str(resp.Data["reference"]), resp.Reference)
	status := normalizeStatus(firstNonEmpty(str(resp.Data["status"]), resp.Status))
	if status == StatusFailed {
		return TransferResult{}, f.rejected(firstNonEmpty(str(resp.Data["reason"]), resp.Message, "payout failed"), resp.Data)
	}
	return TransferResult{Reference: ref, Status: status, Message: resp.Message, Data: resp.Data}, nil
}

// CheckTransactionStatus reads the payout's authoritative status.
func (f *Fincra) CheckTransactionStatus(ctx context.Context, q StatusQuery) (StatusResult, error) {
	p := endpoint("/disbursements/payouts/%s", q.ProcessorReference)
	if q.ProcessorReference == "" {
		p = endpoint("/disbursements/payouts/customer-reference/%s", q.Reference)
	}

	var resp fincraEnvelope[map[string]any]
	if err := f.client.Get(ctx, p, nil, &resp); err != nil {
		f.logger.Error("payout status check failed", "reference", q.Reference, "processor_reference", q.ProcessorReference, "error", err)
		return StatusResult{}, err
	}
	if !resp.Success {
		return StatusResult{}, f.rejected(resp.Message, resp.Data)
	}
	customerRef := str(resp.Data["customerReference"])
	if customerRef == "" && q.ProcessorReference == "" {
		// looked up by customer reference, so the answer is about q.Reference
		customerRef = q.Reference
	}
	return StatusResult{
		Reference:         firstNonEmpty(str(resp.Data["reference"]), q.ProcessorReference),
		CustomerReference: customerRef,
		Status:            normalizeStatus(str(resp.Data["status"])),
		Message:           resp.Message,
		Amount:            dec(resp.Data["amount"], resp.Data["amountCharged"]),
		Currency:          str(resp.Data["sourceCurrency"]),
		Data:              resp.Data,
	}, nil
}

// VerifyCollection reads an inbound payment by its Fincra reference.
func (f *Fincra) VerifyCollection(ctx context.Context, reference string) (StatusResult, error) {
	var resp fincraEnvelope[map[string]any]
	if err := f.client.Get(ctx, endpoint("/collections/%s", reference), nil, &resp); err != nil {
		f.logger.Error("collection verification failed", "reference", reference, "error", err)
		return StatusResult{}, err
	}
	if !resp.Success {
		return StatusResult{}, f.rejected(resp.Message, resp.Data)
	}
	vaID, accountNumber := fincraCollectionAccount(resp.Data)
	return StatusResult{
		Reference:      reference,
		Status:         normalizeStatus(str(resp.Data["status"])),
		Message:        resp.Message,
		Amount:         dec(resp.Data["destinationAmount"], resp.Data["amountReceived"], resp.Data["amount"]),
		Currency:       firstNonEmpty(str(resp.Data["destinationCurrency"]), str(resp.Data["currency"])),
		VirtualAccount: vaID,
		AccountNumber:  accountNumber,
		Data:           resp.Data,
	}, nil
}

// GetVirtualAccount reads a virtual account by its Fincra id.
func (f *Fincra) GetVirtualAccount(ctx context.Context, providerReference string) (VirtualAccount, error) {
	var resp fincraEnvelope[map[string]any]
	if err := f.client.Get(ctx, endpoint("/profile/virtual-accounts/%s", providerReference), nil, &resp); err != nil {
		f.logger.Error("virtual account lookup failed", "reference", providerReference, "error", err)
		return VirtualAccount{}, err
	}
	if !resp.Success {
		return VirtualAccount{}, f.rejected(resp.Message, resp.Data)
	}

	info, _ := resp.Data["accountInformation"].(map[string]any)
	return VirtualAccount{
		ProviderReference: providerReference,
		Status:            normalizeAccountStatus(str(resp.Data["status"])),
		AccountNumber:     str(info["accountNumber"]),
		BankName:          str(info["bankName"]),
		Currency:          str(resp.Data["currency"]),
	}, nil
}

// SignatureHeader names the header Fincra signs webhooks with.
func (f *Fincra) SignatureHeader() string { return "signature" }

// VerifySignature checks the HMAC-SHA512 of the raw body.
func (f *Fincra) VerifySignature(body []byte, signature string) bool {
	return validHMACSHA512(f.webhookSecret, body, signature)
}

type fincraWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID                     any             `json:"id"`
		Reference              string          `json:"reference"`
		CustomerReference      string          `json:"customerReference"`
		Status                 string          `json:"status"`
		DestinationAmount      decimal.Decimal `json:"destinationAmount"`
		DestinationCurrency    string          `json:"destinationCurrency"`
		SourceAmount           decimal.Decimal `json:"sourceAmount"`
		SourceCurrency         string          `json:"sourceCurrency"`
		SenderAccountName      string          `json:"senderAccountName"`
		SenderAccountNumber    string          `json:"senderAccountNumber"`
		SenderBankName         string          `json:"senderBankName"`
		RecipientAccountNumber string          `json:"recipientAccountNumber"`
		VirtualAccount         string          `json:"virtualAccount"`
		Reason                 string          `json:"reason"`
	} `json:"data"`
}

// ParseWebhook decodes a Fincra webhook body.
func (f *Fincra) ParseWebhook(raw []byte) (WebhookEvent, error) {
	var hook fincraWebhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode fincra webhook: %w", err)
	}
	d := hook.Data
	ev := WebhookEvent{
		Name:                hook.Event,
		Reference:           d.Reference,
		CustomerReference:   d.CustomerReference,
		ClaimedStatus:       normalizeStatus(d.Status),
		Amount:              d.DestinationAmount,
		Currency:            d.DestinationCurrency,
		VirtualAccount:      d.VirtualAccount,
		AccountNumber:       d.RecipientAccountNumber,
		SenderName:          d.SenderAccountName,
		SenderAccountNumber: d.SenderAccountNumber,
		SenderBank:          d.SenderBankName,
		Reason:              d.Reason,
		Raw:                 json.RawMessage(raw),
	}

	event := strings.ToLower(hook.Event)
	switch {
	case strings.HasPrefix(event, "collection."):
		ev.Kind = KindCollection
		ev.ClaimedStatus = claimed(event, d.Status)
	case strings.HasPrefix(event, "payout."):
		ev.Kind = KindPayout
		ev.ClaimedStatus = claimed(event, d.Status)
		ev.Amount, ev.Currency = d.SourceAmount, d.SourceCurrency
	case strings.HasPrefix(event, "virtualaccount."):
		ev.Kind = KindVirtualAccount
		ev.Reference = firstNonEmpty(str(d.ID), d.Reference)
		ev.ClaimedStatus = normalizeAccountStatus(strings.TrimPrefix(event, "virtualaccount."))
	default:
		return ev, fmt.Errorf("%w: %s", ErrUnhandledEvent, hook.Event)
	}
	return ev, nil
}

// claimed prefers the outcome named by the event over the body's status field.
func claimed(event, status string) string {
	if i := strings.LastIndex(event, "."); i >= 0 {
		if s := normalizeStatus(event[i+1:]); s != StatusPending {
			return s
		}
	}
	return normalizeStatus(status)
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], parts[0]
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// fincraCollectionAccount reads the receiving virtual account of a
// collection. Fincra returns it either as an id or as an embedded object.
func fincraCollectionAccount(data map[string]any) (id, accountNumber string) {
	switch va := data["virtualAccount"].(type) {
	case string:
		id = va
	case map[string]any:
		id = firstNonEmpty(str(va["_id"]), str(va["id"]))
		accountNumber = str(va["accountNumber"])
		if info := toMap(va["accountInformation"]); accountNumber == "" && info != nil {
			accountNumber = str(info["accountNumber"])
		}
	}
	return id, firstNonEmpty(accountNumber, str(data["accountNumber"]))
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return decimal.NewFromFloat(t).String()
	default:
		return fmt.Sprint(t)
	}
}

func dec(values ...any) decimal.Decimal {
	for _, v := range values {
		switch t := v.(type) {
		case float64:
			return decimal.NewFromFloat(t)
		case string:
			if d, err := decimal.NewFromString(t); err == nil {
				return d
			}
		}
	}
	return decimal.Zero
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func toMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
