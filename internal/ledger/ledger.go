package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateEntry indicates the wallet already has an entry for the
	// transaction reference, so the mutation was applied before and must be skipped.
	ErrDuplicateEntry = errors.New("ledger entry already recorded")

	// ErrPersistence wraps any other failure of the underlying store to accept an entry.
	ErrPersistence = errors.New("ledger persistence failure")
)

// Transaction types recorded on entries.
const (
	TypeWithdrawal = "withdrawal"
	TypeDeposit    = "deposit"
	TypeRefund     = "refund"
	TypeAdjustment = "adjustment"
)

// Entry is one immutable balance delta for a wallet.
type Entry struct {
	ID                   string
	Sequence             int64
	WalletID             string
	TransactionID        string
	TransactionType      string
	Amount               decimal.Decimal
	BalanceBefore        decimal.Decimal
	BalanceAfter         decimal.Decimal
	TransactionReference string
	CreatedAt            time.Time
}

// Filter narrows and paginates ListEntries.
type Filter struct {
	DateFrom *time.Time
	DateTo   *time.Time
	Page     int
	PerPage  int
}

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
	return f
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.PerPage
}

// Page is one page of entries in creation order.
type Page struct {
	Entries []Entry
	Page    int
	PerPage int
	Total   int
}

// Reconciliation reports whether a wallet's stored balance matches its entries.
type Reconciliation struct {
	WalletID        string
	IsBalanced      bool
	ExpectedBalance decimal.Decimal
	ActualBalance   decimal.Decimal
	Difference      decimal.Decimal
	EntryCount      int
	Discrepancies   []string
	CheckedAt       time.Time
}

// Repository persists ledger entries. Implementations must return entries in
// creation order and report ErrDuplicateEntry for a repeated (wallet, reference).
type Repository interface {
	Insert(ctx context.Context, entry Entry) (Entry, error)
	Exists(ctx context.Context, walletID, reference string) (bool, error)
	List(ctx context.Context, walletID string, filter Filter) ([]Entry, int, error)
	All(ctx context.Context, walletID string) ([]Entry, error)
}

// BalanceSource exposes the stored wallet balance reconciliation compares against.
type BalanceSource interface {
	CurrentBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
}
