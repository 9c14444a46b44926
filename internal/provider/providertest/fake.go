// Package providertest offers a scriptable PayoutProvider for tests.
package providertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bizledger/bizledger/internal/provider"
)

// Fake records calls and returns whatever its function fields produce.
// Unset functions fall back to benign defaults.
type Fake struct {
	Name string

	ListBanksFn        func(country, currency string) ([]provider.Bank, error)
	VerifyFn           func(accountNumber, bankCode string) (provider.AccountInfo, error)
	TransferFn         func(req provider.TransferRequest) (provider.TransferResult, error)
	StatusFn           func(q provider.StatusQuery) (provider.StatusResult, error)
	VerifyCollectionFn func(reference string) (provider.StatusResult, error)
	VirtualAccountFn   func(reference string) (provider.VirtualAccount, error)

	mu        sync.Mutex
	transfers []provider.TransferRequest
	calls     map[string]int
}

// New returns a fake that verifies every account as "Jane Doe" and accepts transfers as pending.
func New(name string) *Fake {
	return &Fake{Name: name}
}

func (f *Fake) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

// Calls returns how often op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Transfers returns the submitted transfer requests.
func (f *Fake) Transfers() []provider.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.TransferRequest(nil), f.transfers...)
}

func (f *Fake) Slug() string { return f.Name }

func (f *Fake) ListBanks(_ context.Context, country, currency string) ([]provider.Bank, error) {
	f.record("ListBanks")
	if f.ListBanksFn != nil {
		return f.ListBanksFn(country, currency)
	}
	return []provider.Bank{{Code: "044", Name: "Access Bank", Country: country, Currency: currency}}, nil
}

func (f *Fake) VerifyBankAccount(_ context.Context, accountNumber, bankCode, _, _ string) (provider.AccountInfo, error) {
	f.record("VerifyBankAccount")
	if f.VerifyFn != nil {
		return f.VerifyFn(accountNumber, bankCode)
	}
	return provider.AccountInfo{AccountName: "Jane Doe", AccountNumber: accountNumber, BankCode: bankCode}, nil
}

func (f *Fake) BankTransfer(_ context.Context, req provider.TransferRequest) (provider.TransferResult, error) {
	f.record("BankTransfer")
	f.mu.Lock()
	f.transfers = append(f.transfers, req)
	f.mu.Unlock()
	if f.TransferFn != nil {
		return f.TransferFn(req)
	}
	return provider.TransferResult{Reference: "P-" + req.Reference, Status: provider.StatusPending}, nil
}

func (f *Fake) MobileMoneyTransfer(context.Context, provider.MobileMoneyRequest) (provider.TransferResult, error) {
	f.record("MobileMoneyTransfer")
	return provider.TransferResult{}, &provider.Error{Provider: f.Name, Code: provider.CodeUnsupported, Message: "unsupported"}
}

func (f *Fake) CheckTransactionStatus(_ context.Context, q provider.StatusQuery) (provider.StatusResult, error) {
	f.record("CheckTransactionStatus")
	if f.StatusFn != nil {
		return f.StatusFn(q)
	}
	return provider.StatusResult{Reference: q.ProcessorReference, Status: provider.StatusPending}, nil
}

func (f *Fake) VerifyCollection(_ context.Context, reference string) (provider.StatusResult, error) {
	f.record("VerifyCollection")
	if f.VerifyCollectionFn != nil {
		return f.VerifyCollectionFn(reference)
	}
	return provider.StatusResult{}, &provider.Error{Provider: f.Name, Code: provider.CodeRejected, Message: "unknown collection"}
}

func (f *Fake) GetVirtualAccount(_ context.Context, reference string) (provider.VirtualAccount, error) {
	f.record("GetVirtualAccount")
	if f.VirtualAccountFn != nil {
		return f.VirtualAccountFn(reference)
	}
	return provider.VirtualAccount{}, &provider.Error{Provider: f.Name, Code: provider.CodeRejected, Message: "unknown account"}
}

// Webhook is the JSON shape ParseWebhook accepts.
type Webhook struct {
	Kind              provider.EventKind `json:"kind"`
	Name              string             `json:"event"`
	Reference         string             `json:"reference"`
	CustomerReference string             `json:"customer_reference,omitempty"`
	Status            string             `json:"status"`
	Amount            decimal.Decimal    `json:"amount"`
	Currency          string             `json:"currency"`
	VirtualAccount    string             `json:"virtual_account,omitempty"`
	SenderName        string             `json:"sender_name,omitempty"`
}

// Encode renders w as a webhook body.
func (w Webhook) Encode() []byte {
	raw, err := json.Marshal(w)
	if err != nil {
		panic(err)
	}
	return raw
}

func (f *Fake) ParseWebhook(raw []byte) (provider.WebhookEvent, error) {
	var w Webhook
	if err := json.Unmarshal(raw, &w); err != nil {
		return provider.WebhookEvent{}, err
	}
	if w.Kind == "" {
		return provider.WebhookEvent{}, fmt.Errorf("%w: %s", provider.ErrUnhandledEvent, w.Name)
	}
	return provider.WebhookEvent{
		Kind:              w.Kind,
		Name:              w.Name,
		Reference:         w.Reference,
		CustomerReference: w.CustomerReference,
		ClaimedStatus:     w.Status,
		Amount:            w.Amount,
		Currency:          w.Currency,
		VirtualAccount:    w.VirtualAccount,
		SenderName:        w.SenderName,
		Raw:               raw,
	}, nil
}
