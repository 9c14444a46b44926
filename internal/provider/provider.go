// Package provider talks to external payout and collection processors.
// Each processor implements PayoutProvider; the Registry picks one by currency.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Normalized statuses reported by every provider.
const (
	StatusPending    = "pending"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
)

// Slugs of the built-in providers.
const (
	SlugFincra   = "fincra"
	SlugPaystack = "paystack"
)

// Virtual account statuses.
const (
	AccountPending  = "pending"
	AccountActive   = "active"
	AccountDeclined = "declined"
	AccountClosed   = "closed"
)

// Error codes shared across providers.
const (
	CodeUnsupported     = "unsupported"
	CodeRequestFailed   = "request_failed"
	CodeBadResponse     = "bad_response"
	CodeRejected        = "rejected"
	CodeUnavailable     = "provider_unavailable"
	CodeOutcomeUnknown  = "outcome_unknown"
	CodeVerificationErr = "verification_failed"
)

// Error is the normalized provider failure. A nil *Error means success.
// Ambiguous is set when a money movement request may have been processed.
type Error struct {
	Provider   string
	Code       string
	Message    string
	HTTPStatus int
	Ambiguous  bool
	Data       map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (%s, http %d)", e.Provider, e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// IsAmbiguous reports whether err leaves the outcome of a transfer unknown.
func IsAmbiguous(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Ambiguous
}

// Bank is one destination bank a provider can pay into.
type Bank struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Country  string `json:"country,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// BankDetails identifies a destination account.
type BankDetails struct {
	AccountNumber string
	BankCode      string
	BankName      string
	AccountName   string
	Currency      string
	AccountType   string
}

// AccountInfo is the result of a successful account name lookup.
type AccountInfo struct {
	AccountName          string
	AccountNumber        string
	BankCode             string
	NameEnquiryReference string
	Data                 map[string]any
}

// Customer describes the business initiating a payout.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// TransferRequest is a bank payout instruction. Reference is our idempotency key.
type TransferRequest struct {
	SourceWallet         string
	Bank                 BankDetails
	Amount               decimal.Decimal
	Currency             string
	Reference            string
	Narration            string
	Metadata             map[string]any
	NameEnquiryReference string
	Customer             Customer
}

// MobileMoneyRequest is a mobile wallet payout instruction.
type MobileMoneyRequest struct {
	SourceWallet string
	PhoneNumber  string
	Network      string
	Amount       decimal.Decimal
	Currency     string
	Reference    string
	Narration    string
}

// TransferResult is the provider's acknowledgement of a payout.
// Reference is the provider's own identifier.
type TransferResult struct {
	Reference string
	Status    string
	Message   string
	Data      map[string]any
}

// StatusQuery identifies a payout at the provider.
type StatusQuery struct {
	Reference          string
	ProcessorReference string
}

// StatusResult is the authoritative state of a payout or collection.
// Reference is the provider's id for it; CustomerReference is our reference
// as the provider recorded it. VirtualAccount and AccountNumber identify the
// account a collection was paid into.
type StatusResult struct {
	Reference         string
	CustomerReference string
	Status            string
	Message           string
	Amount            decimal.Decimal
	Currency          string
	VirtualAccount    string
	AccountNumber     string
	Data              map[string]any
}

// VirtualAccount is the provider's view of a collection account.
type VirtualAccount struct {
	ProviderReference string
	Status            string
	AccountNumber     string
	BankName          string
	Currency          string
}

// PayoutProvider is implemented by every payout processor.
type PayoutProvider interface {
	Slug() string
	ListBanks(ctx context.Context, country, currency string) ([]Bank, error)
	VerifyBankAccount(ctx context.Context, accountNumber, bankCode, currency, accountType string) (AccountInfo, error)
	BankTransfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	MobileMoneyTransfer(ctx context.Context, req MobileMoneyRequest) (TransferResult, error)
	CheckTransactionStatus(ctx context.Context, q StatusQuery) (StatusResult, error)
}

// CollectionVerifier re-reads inbound payments and virtual accounts.
type CollectionVerifier interface {
	VerifyCollection(ctx context.Context, reference string) (StatusResult, error)
	GetVirtualAccount(ctx context.Context, providerReference string) (VirtualAccount, error)
}

// EventKind groups webhook events by the entity they concern.
type EventKind string

const (
	KindCollection     EventKind = "collection"
	KindPayout         EventKind = "payout"
	KindVirtualAccount EventKind = "virtual_account"
)

// WebhookEvent is a provider callback reduced to the fields settlement needs.
// Everything in it is an unverified claim.
type WebhookEvent struct {
	Kind                EventKind
	Name                string
	Reference           string
	CustomerReference   string
	ClaimedStatus       string
	Amount              decimal.Decimal
	Currency            string
	VirtualAccount      string
	AccountNumber       string
	SenderName          string
	SenderAccountNumber string
	SenderBank          string
	Reason              string
	Raw                 json.RawMessage
}

// ErrUnhandledEvent is returned by ParseWebhook for events that carry nothing to settle.
var ErrUnhandledEvent = errors.New("unhandled webhook event")

// WebhookParser decodes a provider's webhook body.
type WebhookParser interface {
	ParseWebhook(raw []byte) (WebhookEvent, error)
}

// SignatureVerifier checks the authenticity header of a webhook body.
type SignatureVerifier interface {
	SignatureHeader() string
	VerifySignature(body []byte, signature string) bool
}

// unsupported is embedded by providers that cannot pay out to mobile wallets.
type unsupported struct {
	slug string
}

func (u unsupported) MobileMoneyTransfer(context.Context, MobileMoneyRequest) (TransferResult, error) {
	return TransferResult{}, &Error{Provider: u.slug, Code: CodeUnsupported, Message: "mobile money transfers are not supported"}
}
