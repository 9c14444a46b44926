package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bizledger/bizledger/internal/store"
)

// Store is the append-only record of wallet balance changes.
type Store struct {
	repo     Repository
	balances BalanceSource
	tx       store.Transactor
}

// NewStore wires the entry repository with the wallet balance source used by Reconcile.
func NewStore(repo Repository, balances BalanceSource, tx store.Transactor) *Store {
	return &Store{repo: repo, balances: balances, tx: tx}
}

// EntryInput describes one balance mutation to record.
type EntryInput struct {
	WalletID             string
	TransactionID        string
	TransactionType      string
	Amount               decimal.Decimal
	BalanceBefore        decimal.Decimal
	BalanceAfter         decimal.Decimal
	TransactionReference string
}

// RecordEntry inserts one immutable entry. ErrDuplicateEntry means the mutation
// was already applied and the caller should skip it.
func (s *Store) RecordEntry(ctx context.Context, in EntryInput) (Entry, error) {
	if in.WalletID == "" || in.TransactionReference == "" {
		return Entry{}, fmt.Errorf("%w: wallet id and reference are required", ErrPersistence)
	}
	if !in.BalanceBefore.Add(in.Amount).Equal(in.BalanceAfter) {
		return Entry{}, fmt.Errorf("%w: balance_after %s does not follow from %s + (%s)",
			ErrPersistence, in.BalanceAfter, in.BalanceBefore, in.Amount)
	}
	return s.repo.Insert(ctx, Entry{
		WalletID:             in.WalletID,
		TransactionID:        in.TransactionID,
		TransactionType:      in.TransactionType,
		Amount:               in.Amount,
		BalanceBefore:        in.BalanceBefore,
		BalanceAfter:         in.BalanceAfter,
		TransactionReference: in.TransactionReference,
	})
}

// HasEntry reports whether reference was already applied to the wallet.
func (s *Store) HasEntry(ctx context.Context, walletID, reference string) (bool, error) {
	return s.repo.Exists(ctx, walletID, reference)
}

// ListEntries returns one page of the wallet's entries in creation order.
func (s *Store) ListEntries(ctx context.Context, walletID string, filter Filter) (Page, error) {
	filter = filter.normalized()
	entries, total, err := s.repo.List(ctx, walletID, filter)
	if err != nil {
		return Page{}, err
	}
	return Page{Entries: entries, Page: filter.Page, PerPage: filter.PerPage, Total: total}, nil
}

// Reconcile replays the wallet's entries inside a read snapshot and compares the
// result with the stored balance.
func (s *Store) Reconcile(ctx context.Context, walletID string) (Reconciliation, error) {
	var (
		entries []Entry
		actual  decimal.Decimal
	)
	err := s.tx.WithSnapshot(ctx, func(ctx context.Context) error {
		var err error
		if entries, err = s.repo.All(ctx, walletID); err != nil {
			return err
		}
		actual, err = s.balances.CurrentBalance(ctx, walletID)
		return err
	})
	if err != nil {
		return Reconciliation{}, err
	}

	result := Replay(entries)
	result.WalletID = walletID
	result.ActualBalance = actual
	result.Difference = actual.Sub(result.ExpectedBalance)
	result.IsBalanced = result.Difference.IsZero()
	result.CheckedAt = time.Now().UTC()
	return result, nil
}

// Replay sums entries in order starting from the earliest balance_before and
// records every break in the balance_before/balance_after chain.
func Replay(entries []Entry) Reconciliation {
	r := Reconciliation{EntryCount: len(entries), Discrepancies: []string{}}
	if len(entries) == 0 {
		return r
	}

	expected := entries[0].BalanceBefore
	for i, e := range entries {
		if i > 0 && !e.BalanceBefore.Equal(entries[i-1].BalanceAfter) {
			r.Discrepancies = append(r.Discrepancies, fmt.Sprintf(
				"entry %s: balance_before %s does not match previous balance_after %s",
				e.TransactionReference, e.BalanceBefore, entries[i-1].BalanceAfter))
		}
		if !e.BalanceBefore.Add(e.Amount).Equal(e.BalanceAfter) {
			r.Discrepancies = append(r.Discrepancies, fmt.Sprintf(
				"entry %s: %s + (%s) != %s", e.TransactionReference, e.BalanceBefore, e.Amount, e.BalanceAfter))
		}
		expected = expected.Add(e.Amount)
	}
	r.ExpectedBalance = expected
	return r
}
