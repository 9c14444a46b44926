// Package collection stores virtual accounts and the deposits received on them.
package collection

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Deposit statuses mirror the normalized provider statuses.
const (
	DepositPending    = "pending"
	DepositSuccessful = "successful"
	DepositFailed     = "failed"
)

var (
	ErrVirtualAccountNotFound = errors.New("virtual account not found")
	ErrVirtualAccountExists   = errors.New("virtual account already registered")
	ErrDepositNotFound        = errors.New("deposit not found")
	ErrNoTransaction          = errors.New("deposit lock requires an active transaction")
)

// VirtualAccount is a provider-issued account number that credits a wallet.
type VirtualAccount struct {
	ID                string
	WalletID          string
	ProviderSlug      string
	ProviderReference string
	AccountNumber     string
	BankName          string
	Currency          string
	Status            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Deposit is the settlement record of one inbound payment, keyed by the
// provider's reference. IsTransactionLogged flips once, when the deposit has
// produced its Transaction (and credit, on success).
type Deposit struct {
	ID                  string
	Reference           string
	Provider            string
	VirtualAccountID    string
	WalletID            string
	Amount              decimal.Decimal
	Currency            string
	Status              string
	IsTransactionLogged bool
	TransactionID       string
	SenderName          string
	SenderAccountNumber string
	SenderBank          string
	Payload             map[string]any
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Repository persists virtual accounts and deposits.
type Repository interface {
	CreateVirtualAccount(ctx context.Context, va VirtualAccount) error
	// FindVirtualAccount matches by provider reference first, then by account number.
	FindVirtualAccount(ctx context.Context, provider, providerReference, accountNumber string) (VirtualAccount, error)
	ListVirtualAccounts(ctx context.Context, walletID string) ([]VirtualAccount, error)
	UpdateVirtualAccountStatus(ctx context.Context, id, status string) error

	// LockOrCreate inserts d unless a deposit with the same reference exists,
	// then returns the stored row locked for the rest of the caller's unit.
	LockOrCreate(ctx context.Context, d Deposit) (Deposit, error)
	MarkLogged(ctx context.Context, id, status, transactionID string) error
	GetDeposit(ctx context.Context, reference string) (Deposit, error)
}
