package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bizledger/bizledger/internal/ledger"
	"github.com/bizledger/bizledger/internal/store"
)

var (
	ErrInvalidAmount     = errors.New("amount must be greater than zero with at most two decimal places")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletExists      = errors.New("wallet already exists")
	ErrInvalidWallet     = errors.New("invalid wallet type or currency")
	ErrNoTransaction     = errors.New("wallet lock requires an active transaction")
)

// Ledger is the subset of the ledger store the wallet service writes through.
type Ledger interface {
	RecordEntry(ctx context.Context, in ledger.EntryInput) (ledger.Entry, error)
	HasEntry(ctx context.Context, walletID, reference string) (bool, error)
	ListEntries(ctx context.Context, walletID string, filter ledger.Filter) (ledger.Page, error)
	Reconcile(ctx context.Context, walletID string) (ledger.Reconciliation, error)
}

// Service is the only writer of wallet balances. Every credit or debit locks
// the wallet row and records exactly one ledger entry in the same unit.
type Service struct {
	repo   Repository
	ledger Ledger
	tx     store.Transactor
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledger Ledger, tx store.Transactor) *Service {
	return &Service{repo: repo, ledger: ledger, tx: tx}
}

// GetOrCreate returns the business's wallet for walletType and currency,
// creating an empty one on first use.
func (s *Service) GetOrCreate(ctx context.Context, businessID, walletType, currency string) (Wallet, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !validType(walletType) || len(currency) != 3 || businessID == "" {
		return Wallet{}, ErrInvalidWallet
	}

	w, err := s.repo.FindByOwner(ctx, businessID, walletType, currency)
	if err == nil || !errors.Is(err, ErrWalletNotFound) {
		return w, err
	}

	now := time.Now().UTC()
	w = Wallet{
		ID:              uuid.NewString(),
		BusinessID:      businessID,
		Currency:        currency,
		Type:            walletType,
		CurrentBalance:  decimal.Zero,
		PreviousBalance: decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		if errors.Is(err, ErrWalletExists) {
			// lost a creation race; the other writer's wallet wins
			return s.repo.FindByOwner(ctx, businessID, walletType, currency)
		}
		return Wallet{}, err
	}
	return w, nil
}

// Get retrieves a wallet.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// ListByBusiness returns every wallet owned by the business.
func (s *Service) ListByBusiness(ctx context.Context, businessID string) ([]Wallet, error) {
	return s.repo.ListByBusiness(ctx, businessID)
}

// GetBalance returns the stored balance. It always reads the store.
func (s *Service) GetBalance(ctx context.Context, id string) (decimal.Decimal, error) {
	return s.repo.CurrentBalance(ctx, id)
}

// HasSufficientBalance reports whether the wallet holds at least amount.
func (s *Service) HasSufficientBalance(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	balance, err := s.GetBalance(ctx, id)
	if err != nil {
		return false, err
	}
	return balance.GreaterThanOrEqual(amount), nil
}

// Lock row-locks the wallet for the rest of the caller's atomic unit.
func (s *Service) Lock(ctx context.Context, id string) (Wallet, error) {
	return s.repo.GetForUpdate(ctx, id)
}

// Credit adds m.Amount to the wallet. A reference already applied to the
// wallet yields ledger.ErrDuplicateEntry and leaves the balance untouched.
func (s *Service) Credit(ctx context.Context, m Mutation) (Wallet, error) {
	if !validAmount(m.Amount) {
		return Wallet{}, ErrInvalidAmount
	}
	if m.TransactionType == "" {
		m.TransactionType = ledger.TypeDeposit
	}
	return s.apply(ctx, m, m.Amount)
}

// Debit subtracts m.Amount from the wallet. Sufficiency is checked again
// under the row lock, so concurrent debits cannot overdraw.
func (s *Service) Debit(ctx context.Context, m Mutation) (Wallet, error) {
	if !validAmount(m.Amount) {
		return Wallet{}, ErrInvalidAmount
	}
	if m.TransactionType == "" {
		m.TransactionType = ledger.TypeWithdrawal
	}
	return s.apply(ctx, m, m.Amount.Neg())
}

func (s *Service) apply(ctx context.Context, m Mutation, delta decimal.Decimal) (Wallet, error) {
	if m.Reference == "" {
		return Wallet{}, fmt.Errorf("%w: reference is required", ledger.ErrPersistence)
	}

	var out Wallet
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		w, err := s.repo.GetForUpdate(ctx, m.WalletID)
		if err != nil {
			return err
		}

		applied, err := s.ledger.HasEntry(ctx, w.ID, m.Reference)
		if err != nil {
			return err
		}
		if applied {
			out = w
			return ledger.ErrDuplicateEntry
		}

		next := w.CurrentBalance.Add(delta)
		if next.IsNegative() {
			return ErrInsufficientFunds
		}

		if err := s.repo.UpdateBalance(ctx, w.ID, w.CurrentBalance, next); err != nil {
			return err
		}
		if _, err := s.ledger.RecordEntry(ctx, ledger.EntryInput{
			WalletID:             w.ID,
			TransactionID:        m.TransactionID,
			TransactionType:      m.TransactionType,
			Amount:               delta,
			BalanceBefore:        w.CurrentBalance,
			BalanceAfter:         next,
			TransactionReference: m.Reference,
		}); err != nil {
			return err
		}

		w.PreviousBalance = w.CurrentBalance
		w.CurrentBalance = next
		out = w
		return nil
	})
	return out, err
}

// Reconcile compares the wallet's stored balance with its ledger entries.
func (s *Service) Reconcile(ctx context.Context, id string) (ledger.Reconciliation, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return ledger.Reconciliation{}, err
	}
	return s.ledger.Reconcile(ctx, id)
}

// Entries returns one page of the wallet's ledger.
func (s *Service) Entries(ctx context.Context, id string, filter ledger.Filter) (ledger.Page, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return ledger.Page{}, err
	}
	return s.ledger.ListEntries(ctx, id, filter)
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2))
}
