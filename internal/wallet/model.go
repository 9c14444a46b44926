package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet types. A business has at most one wallet per type and currency.
const (
	TypeAdmin        = "admin"
	TypeVendorPayout = "vendor_payout"
	TypeLender       = "lender"
)

// Wallet is a business's spendable balance in one currency. CurrentBalance
// only changes through Service.Credit and Service.Debit.
type Wallet struct {
	ID              string
	BusinessID      string
	Currency        string
	Type            string
	CurrentBalance  decimal.Decimal
	PreviousBalance decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Mutation describes one credit or debit. Reference identifies the logical
// operation; applying the same reference twice to a wallet is a no-op.
type Mutation struct {
	WalletID        string
	Amount          decimal.Decimal
	Reference       string
	TransactionID   string
	TransactionType string
}

func validType(t string) bool {
	switch t {
	case TypeAdmin, TypeVendorPayout, TypeLender:
		return true
	}
	return false
}
