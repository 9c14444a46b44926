package collection

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bizledger/bizledger/internal/store"
)

type memoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]VirtualAccount
	deposits map[string]Deposit
}

// NewMemoryRepository constructs an in-memory repository. Deposit locks rely
// on store.MemoryTransactor serializing units.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		accounts: make(map[string]VirtualAccount),
		deposits: make(map[string]Deposit),
	}
}

func (r *memoryRepository) CreateVirtualAccount(ctx context.Context, va VirtualAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.ProviderReference == va.ProviderReference {
			return ErrVirtualAccountExists
		}
	}
	if va.ID == "" {
		va.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	va.CreatedAt, va.UpdatedAt = now, now
	r.accounts[va.ID] = va
	store.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.accounts, va.ID)
	})
	return nil
}

func (r *memoryRepository) FindVirtualAccount(_ context.Context, provider, providerReference, accountNumber string) (VirtualAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if providerReference != "" {
		for _, va := range r.accounts {
			if va.ProviderSlug == provider && va.ProviderReference == providerReference {
				return va, nil
			}
		}
	}
	if accountNumber != "" {
		for _, va := range r.accounts {
			if va.ProviderSlug == provider && va.AccountNumber == accountNumber {
				return va, nil
			}
		}
	}
	return VirtualAccount{}, ErrVirtualAccountNotFound
}

func (r *memoryRepository) ListVirtualAccounts(_ context.Context, walletID string) ([]VirtualAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []VirtualAccount
	for _, va := range r.accounts {
		if va.WalletID == walletID {
			out = append(out, va)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) UpdateVirtualAccountStatus(ctx context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.accounts[id]
	if !ok {
		return ErrVirtualAccountNotFound
	}
	next := prev
	next.Status = status
	next.UpdatedAt = time.Now().UTC()
	r.accounts[id] = next
	store.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.accounts[id] = prev
	})
	return nil
}

func (r *memoryRepository) LockOrCreate(ctx context.Context, d Deposit) (Deposit, error) {
	if !store.InTransaction(ctx) {
		return Deposit{}, ErrNoTransaction
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.deposits[d.Reference]; ok {
		return cloneDeposit(existing), nil
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	d.IsTransactionLogged = false
	r.deposits[d.Reference] = cloneDeposit(d)
	store.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.deposits, d.Reference)
	})
	return cloneDeposit(d), nil
}

func (r *memoryRepository) MarkLogged(ctx context.Context, id, status, transactionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref, prev := range r.deposits {
		if prev.ID != id {
			continue
		}
		next := prev
		next.IsTransactionLogged = true
		next.Status = status
		next.TransactionID = transactionID
		next.UpdatedAt = time.Now().UTC()
		r.deposits[ref] = next
		store.OnRollback(ctx, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.deposits[ref] = prev
		})
		return nil
	}
	return ErrDepositNotFound
}

func (r *memoryRepository) GetDeposit(_ context.Context, reference string) (Deposit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deposits[reference]
	if !ok {
		return Deposit{}, ErrDepositNotFound
	}
	return cloneDeposit(d), nil
}

func cloneDeposit(d Deposit) Deposit {
	d.Payload = maps.Clone(d.Payload)
	return d
}
