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

var minorUnit = decimal.NewFromInt(100)

var recipientTypes = map[string]string{
	"NGN": "nuban",
	"GHS": "ghipss",
	"KES": "kepss",
	"ZAR": "basa",
}

// Paystack implements PayoutProvider, CollectionVerifier, WebhookParser and
// SignatureVerifier against the Paystack API. Paystack amounts are minor units.
type Paystack struct {
	unsupported
	client    *Client
	secretKey string
	logger    *slog.Logger
}

// NewPaystack builds a Paystack provider from explicit configuration.
func NewPaystack(cfg config.ProviderConfig, logger *slog.Logger) *Paystack {
	if cfg.Slug == "" {
		cfg.Slug = SlugPaystack
	}
	secret := cfg.WebhookSecret
	if secret == "" {
		secret = cfg.APIKey
	}
	return &Paystack{
		unsupported: unsupported{slug: cfg.Slug},
		client:      NewClient(cfg, map[string]string{"Authorization": "Bearer " + cfg.APIKey}, logger),
		secretKey:   secret,
		logger:      logger.With("provider", cfg.Slug),
	}
}

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (p *Paystack) Slug() string { return p.slug }

func (p *Paystack) rejected(message string, data map[string]any) *Error {
	if message == "" {
		message = "request was not successful"
	}
	return &Error{Provider: p.slug, Code: CodeRejected, Message: message, Data: data}
}

// ListBanks returns the banks Paystack supports for a country and currency.
func (p *Paystack) ListBanks(ctx context.Context, country, currency string) ([]Bank, error) {
	q := url.Values{}
	if currency != "" {
		q.Set("currency", currency)
	}
	if country != "" {
		q.Set("country", country)
	}

	var resp paystackEnvelope[[]struct {
		Code     string `json:"code"`
		Name     string `json:"name"`
		Country  string `json:"country"`
		Currency string `json:"currency"`
	}]
	if err := p.client.Get(ctx, "/bank", q, &resp); err != nil {
		p.logger.Error("list banks failed", "currency", currency, "error", err)
		return nil, err
	}
	if !resp.Status {
		return nil, p.rejected(resp.Message, nil)
	}
	banks := make([]Bank, 0, len(resp.Data))
	for _, b := range resp.Data {
		banks = append(banks, Bank{Code: b.Code, Name: b.Name, Country: b.Country, Currency: b.Currency})
	}
	return banks, nil
}

// VerifyBankAccount resolves the account holder's name.
func (p *Paystack) VerifyBankAccount(ctx context.Context, accountNumber, bankCode, _, _ string) (AccountInfo, error) {
	q := url.Values{"account_number": {accountNumber}, "bank_code": {bankCode}}

	var resp paystackEnvelope[map[string]any]
	if err := p.client.Get(ctx, "/bank/resolve", q, &resp); err != nil {
		p.logger.Error("account resolution failed", "bank_code", bankCode, "error", err)
		return AccountInfo{}, err
	}
	name := str(resp.Data["account_name"])
	if !resp.Status || name == "" {
		return AccountInfo{}, p.rejected(resp.Message, resp.Data)
	}
	return AccountInfo{
		AccountName:   name,
		AccountNumber: firstNonEmpty(str(resp.Data["account_number"]), accountNumber),
		BankCode:      bankCode,
		Data:          resp.Data,
	}, nil
}

// BankTransfer creates a transfer recipient, then submits the transfer with
// our reference so Paystack refuses a duplicate.
func (p *Paystack) BankTransfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	recipientType, ok := recipientTypes[strings.ToUpper(req.Currency)]
	if !ok {
		return TransferResult{}, &Error{Provider: p.slug, Code: CodeUnsupported, Message: "unsupported currency " + req.Currency}
	}

	var recipient paystackEnvelope[map[string]any]
	if err := p.client.Post(ctx, "/transferrecipient", map[string]any{
		"type":           recipientType,
		"name":           req.Bank.AccountName,
		"account_number": req.Bank.AccountNumber,
		"bank_code":      req.Bank.BankCode,
		"currency":       req.Currency,
	}, &recipient); err != nil {
		p.logger.Error("transfer recipient failed", "reference", req.Reference, "wallet_id", req.SourceWallet, "error", err)
		return TransferResult{}, err
	}
	code := str(recipient.Data["recipient_code"])
	if !recipient.Status || code == "" {
		return TransferResult{}, p.rejected(recipient.Message, recipient.Data)
	}

	body := map[string]any{
		"source":    "balance",
		"amount":    req.Amount.Mul(minorUnit).Round(0).IntPart(),
		"recipient": code,
		"reference": strings.ToLower(req.Reference),
		"reason":    req.Narration,
		"currency":  req.Currency,
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var resp paystackEnvelope[map[string]any]
	if err := p.client.Submit(ctx, "/transfer", body, &resp); err != nil {
		p.logger.Error("transfer submission failed",
			"reference", req.Reference, "wallet_id", req.SourceWallet, "ambiguous", IsAmbiguous(err), "error", err)
		return TransferResult{}, err
	}
	if !resp.Status {
		p.logger.Warn("transfer rejected", "reference", req.Reference, "wallet_id", req.SourceWallet, "message", resp.Message)
		return TransferResult{}, p.rejected(resp.Message, resp.Data)
	}

	status := normalizeStatus(str(resp.Data["status"]))
	if status == StatusFailed {
		return TransferResult{}, p.rejected(firstNonEmpty(str(resp.Data["reason"]), resp.Message), resp.Data)
	}
	return TransferResult{
		Reference: firstNonEmpty(str(resp.Data["transfer_code"]), str(resp.Data["reference"])),
		Status:    status,
		Message:   resp.Message,
		Data:      resp.Data,
	}, nil
}

// CheckTransactionStatus verifies a transfer by our reference.
func (p *Paystack) CheckTransactionStatus(ctx context.Context, q StatusQuery) (StatusResult, error) {
	ref := strings.ToLower(firstNonEmpty(q.Reference, q.ProcessorReference))
	var resp paystackEnvelope[map[string]any]
	if err := p.client.Get(ctx, endpoint("/transfer/verify/%s", ref), nil, &resp); err != nil {
		p.logger.Error("transfer status check failed", "reference", q.Reference, "error", err)
		return StatusResult{}, err
	}
	if !resp.Status {
		return StatusResult{}, p.rejected(resp.Message, resp.Data)
	}
	customerRef := str(resp.Data["reference"])
	if customerRef == "" && q.Reference != "" {
		// the lookup itself was by q.Reference
		customerRef = q.Reference
	}
	return StatusResult{
		Reference:         firstNonEmpty(str(resp.Data["transfer_code"]), q.ProcessorReference),
		CustomerReference: strings.ToUpper(customerRef),
		Status:            normalizeStatus(str(resp.Data["status"])),
		Message:           resp.Message,
		Amount:            fromMinor(resp.Data["amount"]),
		Currency:          str(resp.Data["currency"]),
		Data:              resp.Data,
	}, nil
}

// VerifyCollection verifies an inbound charge by its reference.
func (p *Paystack) VerifyCollection(ctx context.Context, reference string) (StatusResult, error) {
	var resp paystackEnvelope[map[string]any]
	if err := p.client.Get(ctx, endpoint("/transaction/verify/%s", reference), nil, &resp); err != nil {
		p.logger.Error("charge verification failed", "reference", reference, "error", err)
		return StatusResult{}, err
	}
	if !resp.Status {
		return StatusResult{}, p.rejected(resp.Message, resp.Data)
	}
	vaID, accountNumber := paystackCollectionAccount(resp.Data)
	return StatusResult{
		Reference:      reference,
		Status:         normalizeStatus(str(resp.Data["status"])),
		Message:        resp.Message,
		Amount:         fromMinor(resp.Data["amount"]),
		Currency:       str(resp.Data["currency"]),
		VirtualAccount: vaID,
		AccountNumber:  accountNumber,
		Data:           resp.Data,
	}, nil
}

// paystackCollectionAccount reads the dedicated account a charge was paid
// into, from dedicated_account or the authorization's receiver account.
func paystackCollectionAccount(data map[string]any) (id, accountNumber string) {
	if da := toMap(data["dedicated_account"]); da != nil {
		id = str(da["id"])
		accountNumber = str(da["account_number"])
	}
	if auth := toMap(data["authorization"]); accountNumber == "" && auth != nil {
		accountNumber = str(auth["receiver_bank_account_number"])
	}
	return id, accountNumber
}

// GetVirtualAccount reads a dedicated account by its Paystack id.
func (p *Paystack) GetVirtualAccount(ctx context.Context, providerReference string) (VirtualAccount, error) {
	var resp paystackEnvelope[map[string]any]
	if err := p.client.Get(ctx, endpoint("/dedicated_account/%s", providerReference), nil, &resp); err != nil {
		p.logger.Error("dedicated account lookup failed", "reference", providerReference, "error", err)
		return VirtualAccount{}, err
	}
	if !resp.Status {
		return VirtualAccount{}, p.rejected(resp.Message, resp.Data)
	}

	status := AccountPending
	if active, _ := resp.Data["active"].(bool); active {
		status = AccountActive
	} else if assigned, _ := resp.Data["assigned"].(bool); assigned {
		status = AccountClosed
	}
	bank, _ := resp.Data["bank"].(map[string]any)
	return VirtualAccount{
		ProviderReference: providerReference,
		Status:            status,
		AccountNumber:     str(resp.Data["account_number"]),
		BankName:          str(bank["name"]),
		Currency:          str(resp.Data["currency"]),
	}, nil
}

// SignatureHeader names the header Paystack signs webhooks with.
func (p *Paystack) SignatureHeader() string { return "x-paystack-signature" }

// VerifySignature checks the HMAC-SHA512 of the raw body under the secret key.
func (p *Paystack) VerifySignature(body []byte, signature string) bool {
	return validHMACSHA512(p.secretKey, body, signature)
}

type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID            any    `json:"id"`
		Reference     string `json:"reference"`
		TransferCode  string `json:"transfer_code"`
		Status        string `json:"status"`
		Amount        any    `json:"amount"`
		Currency      string `json:"currency"`
		Reason        string `json:"reason"`
		GatewayResp   string `json:"gateway_response"`
		Authorization struct {
			SenderName                string `json:"sender_name"`
			SenderBank                string `json:"sender_bank"`
			SenderBankAccountNumber   string `json:"sender_bank_account_number"`
			ReceiverBankAccountNumber string `json:"receiver_bank_account_number"`
		} `json:"authorization"`
		DedicatedAccount struct {
			ID            any    `json:"id"`
			AccountNumber string `json:"account_number"`
		} `json:"dedicated_account"`
	} `json:"data"`
}

// ParseWebhook decodes a Paystack webhook body.
func (p *Paystack) ParseWebhook(raw []byte) (WebhookEvent, error) {
	var hook paystackWebhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode paystack webhook: %w", err)
	}
	d := hook.Data
	ev := WebhookEvent{
		Name:     hook.Event,
		Amount:   fromMinor(d.Amount),
		Currency: strings.ToUpper(d.Currency),
		Reason:   firstNonEmpty(d.Reason, d.GatewayResp),
		Raw:      json.RawMessage(raw),
	}

	switch hook.Event {
	case "charge.success":
		ev.Kind = KindCollection
		ev.Reference = d.Reference
		ev.ClaimedStatus = StatusSuccessful
		ev.AccountNumber = d.Authorization.ReceiverBankAccountNumber
		ev.SenderName = d.Authorization.SenderName
		ev.SenderBank = d.Authorization.SenderBank
		ev.SenderAccountNumber = d.Authorization.SenderBankAccountNumber
	case "transfer.success", "transfer.failed", "transfer.reversed":
		ev.Kind = KindPayout
		ev.Reference = d.TransferCode
		ev.CustomerReference = strings.ToUpper(d.Reference)
		ev.ClaimedStatus = normalizeStatus(strings.TrimPrefix(hook.Event, "transfer."))
	case "dedicatedaccount.assign.success", "dedicatedaccount.assign.failed":
		ev.Kind = KindVirtualAccount
		ev.Reference = firstNonEmpty(str(d.DedicatedAccount.ID), str(d.ID))
		ev.AccountNumber = d.DedicatedAccount.AccountNumber
		ev.ClaimedStatus = AccountActive
		if hook.Event == "dedicatedaccount.assign.failed" {
			ev.ClaimedStatus = AccountDeclined
		}
	default:
		return ev, fmt.Errorf("%w: %s", ErrUnhandledEvent, hook.Event)
	}
	return ev, nil
}

func fromMinor(v any) decimal.Decimal {
	return dec(v).Div(minorUnit).Round(2)
}
