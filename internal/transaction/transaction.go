// Package transaction records financial operations and their settlement status.
package transaction

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// Categories.
const (
	CategoryCredit = "credit"
	CategoryDebit  = "debit"
)

// Types.
const (
	TypeWithdrawal = "withdrawal"
	TypeDeposit    = "deposit"
)

// Methods.
const (
	MethodBankTransfer   = "bank_transfer"
	MethodVirtualAccount = "virtual_account"
)

// Statuses. A transaction moves from pending to exactly one terminal status.
const (
	StatusPending    = "pending"
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
)

var (
	ErrNotFound           = errors.New("transaction not found")
	ErrDuplicateReference = errors.New("transaction reference already exists")
)

// Transaction is one requested financial operation. Amount is signed:
// negative for debits.
type Transaction struct {
	ID                 string
	BusinessID         string
	WalletID           string
	Currency           string
	Category           string
	Type               string
	Method             string
	Reference          string
	Amount             decimal.Decimal
	Processor          string
	ProcessorReference string
	Status             string
	BalanceBefore      decimal.Decimal
	BalanceAfter       decimal.Decimal
	Data               map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsTerminal reports whether the status can no longer change.
func (t Transaction) IsTerminal() bool {
	return t.Status == StatusSuccessful || t.Status == StatusFailed
}

// Merge copies fields into t.Data without aliasing the caller's map.
func (t *Transaction) Merge(fields map[string]any) {
	data := make(map[string]any, len(t.Data)+len(fields))
	maps.Copy(data, t.Data)
	maps.Copy(data, fields)
	t.Data = data
}

// Repository persists transactions. The ForUpdate lookups lock the row for
// the rest of the caller's atomic unit.
type Repository interface {
	Create(ctx context.Context, txn Transaction) error
	GetByReference(ctx context.Context, reference string) (Transaction, error)
	GetByReferenceForUpdate(ctx context.Context, reference string) (Transaction, error)
	GetByProcessorReferenceForUpdate(ctx context.Context, processorReference string) (Transaction, error)
	Update(ctx context.Context, txn Transaction) error
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]Transaction, int, error)
}
