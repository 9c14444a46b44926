package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bizledger/bizledger/internal/store"
	"github.com/bizledger/bizledger/internal/store/pgtest"
)

func TestPostgresRepository(t *testing.T) {
	pool := pgtest.Pool(t)
	ctx := context.Background()

	walletID := pgtest.CreateWallet(t, pool, pgtest.CreateBusiness(t, pool), "NGN")
	repo := NewPostgresRepository(pool)
	tr := store.NewPostgresTransactor(pool)

	first, err := repo.Insert(ctx, Entry{
		WalletID: walletID, TransactionType: TypeDeposit, TransactionReference: "dep-1",
		Amount: d("100.00"), BalanceBefore: decimal.Zero, BalanceAfter: d("100.00"),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.Sequence == 0 || first.CreatedAt.IsZero() {
		t.Fatalf("expected sequence and timestamp to be assigned: %+v", first)
	}

	_, err = repo.Insert(ctx, Entry{
		WalletID: walletID, TransactionType: TypeDeposit, TransactionReference: "dep-1",
		Amount: d("100.00"), BalanceBefore: d("100.00"), BalanceAfter: d("200.00"),
	})
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("expected duplicate entry, got %v", err)
	}

	err = tr.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := repo.Insert(ctx, Entry{
			WalletID: walletID, TransactionType: TypeWithdrawal, TransactionReference: "wd-rolled-back",
			Amount: d("-10.00"), BalanceBefore: d("100.00"), BalanceAfter: d("90.00"),
		}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected abort")
	}
	if ok, _ := repo.Exists(ctx, walletID, "wd-rolled-back"); ok {
		t.Fatal("rolled back entry must not exist")
	}

	if _, err := repo.Insert(ctx, Entry{
		WalletID: walletID, TransactionType: TypeWithdrawal, TransactionReference: "wd-1",
		Amount: d("-25.50"), BalanceBefore: d("100.00"), BalanceAfter: d("74.50"),
	}); err != nil {
		t.Fatalf("insert withdrawal: %v", err)
	}

	entries, total, err := repo.List(ctx, walletID, Filter{Page: 2, PerPage: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(entries) != 1 || entries[0].TransactionReference != "wd-1" {
		t.Fatalf("unexpected page: total=%d entries=%+v", total, entries)
	}
	if !entries[0].Amount.Equal(d("-25.50")) {
		t.Fatalf("expected signed amount -25.50, got %s", entries[0].Amount)
	}

	all, err := repo.All(ctx, walletID)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	res := Replay(all)
	if !res.ExpectedBalance.Equal(d("74.50")) || len(res.Discrepancies) != 0 {
		t.Fatalf("unexpected replay: %+v", res)
	}
}
