package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bizledger/bizledger/internal/store"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Wallet
}

// NewMemoryRepository constructs an in-memory repository for tests and
// development. Row locks come from store.MemoryTransactor, which serializes units.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Wallet)}
}

func (r *memoryRepository) Create(ctx context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[wallet.ID]; exists {
		return ErrWalletExists
	}
	for _, w := range r.storage {
		if w.BusinessID == wallet.BusinessID && w.Type == wallet.Type && w.Currency == wallet.Currency {
			return ErrWalletExists
		}
	}
	r.storage[wallet.ID] = wallet
	store.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.storage, wallet.ID)
	})
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallet, ok := r.storage[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return wallet, nil
}

func (r *memoryRepository) GetForUpdate(ctx context.Context, id string) (Wallet, error) {
	if !store.InTransaction(ctx) {
		return Wallet{}, ErrNoTransaction
	}
	return r.Get(ctx, id)
}

func (r *memoryRepository) FindByOwner(_ context.Context, businessID, walletType, currency string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.storage {
		if w.BusinessID == businessID && w.Type == walletType && w.Currency == currency {
			return w, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (r *memoryRepository) ListByBusiness(_ context.Context, businessID string) ([]Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wallets := []Wallet{}
	for _, w := range r.storage {
		if w.BusinessID == businessID {
			wallets = append(wallets, w)
		}
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].CreatedAt.Before(wallets[j].CreatedAt) })
	return wallets, nil
}

func (r *memoryRepository) IDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.storage))
	for id := range r.storage {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memoryRepository) UpdateBalance(ctx context.Context, id string, previous, current decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.storage[id]
	if !ok {
		return ErrWalletNotFound
	}
	before := w
	w.PreviousBalance = previous
	w.CurrentBalance = current
	w.UpdatedAt = time.Now().UTC()
	r.storage[id] = w
	store.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.storage[id] = before
	})
	return nil
}

func (r *memoryRepository) CurrentBalance(ctx context.Context, id string) (decimal.Decimal, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return w.CurrentBalance, nil
}
