package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bizledger/bizledger/internal/ledger"
	"github.com/bizledger/bizledger/internal/store"
	"github.com/bizledger/bizledger/internal/store/pgtest"
)

func TestPostgresServiceConcurrentDebits(t *testing.T) {
	pool := pgtest.Pool(t)
	ctx := context.Background()

	repo := NewPostgresRepository(pool)
	tr := store.NewPostgresTransactor(pool)
	led := ledger.NewStore(ledger.NewPostgresRepository(pool), repo, tr)
	svc := NewService(repo, led, tr)

	businessID := pgtest.CreateBusiness(t, pool)
	w, err := svc.GetOrCreate(ctx, businessID, TypeVendorPayout, "NGN")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	again, err := svc.GetOrCreate(ctx, businessID, TypeVendorPayout, "NGN")
	if err != nil || again.ID != w.ID {
		t.Fatalf("expected existing wallet %s, got %s (%v)", w.ID, again.ID, err)
	}

	if _, err := svc.Credit(ctx, Mutation{WalletID: w.ID, Amount: amt("1000.00"), Reference: "seed"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Credit(ctx, Mutation{WalletID: w.ID, Amount: amt("1000.00"), Reference: "seed"}); !errors.Is(err, ledger.ErrDuplicateEntry) {
		t.Fatalf("expected duplicate entry, got %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Debit(ctx, Mutation{WalletID: w.ID, Amount: amt("100.00"), Reference: fmt.Sprintf("wd-%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("debit: %v", err)
		}
	}

	balance, err := svc.GetBalance(ctx, w.ID)
	if err != nil || !balance.IsZero() {
		t.Fatalf("expected zero balance, got %s (%v)", balance, err)
	}
	if _, err := svc.Debit(ctx, Mutation{WalletID: w.ID, Amount: amt("0.01"), Reference: "extra"}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	res, err := svc.Reconcile(ctx, w.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.IsBalanced || res.EntryCount != n+1 {
		t.Fatalf("unexpected reconciliation: %+v", res)
	}

	ids, err := repo.IDs(ctx)
	if err != nil || len(ids) == 0 {
		t.Fatalf("expected wallet ids, got %v (%v)", ids, err)
	}
}
