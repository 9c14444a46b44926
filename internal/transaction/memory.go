package transaction

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
	mu   sync.RWMutex
	byID map[string]Transaction
}

// NewMemoryRepository constructs an in-memory repository for tests and development.
func NewMemoryRepository() Repository {
	return &memoryRepository{byID: make(map[string]Transaction)}
}

func clone(t Transaction) Transaction {
	t.Data = maps.Clone(t.Data)
	if t.Data == nil {
		t.Data = map[string]any{}
	}
	return t
}

func (r *memoryRepository) Create(ctx context.Context, txn Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if t.Reference == txn.Reference {
			return ErrDuplicateReference
		}
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	r.byID[txn.ID] = clone(txn)
	store.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byID, txn.ID)
	})
	return nil
}

func (r *memoryRepository) find(match func(Transaction) bool) (Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.byID {
		if match(t) {
			return clone(t), nil
		}
	}
	return Transaction{}, ErrNotFound
}

func (r *memoryRepository) GetByReference(_ context.Context, reference string) (Transaction, error) {
	return r.find(func(t Transaction) bool { return t.Reference == reference })
}

func (r *memoryRepository) GetByReferenceForUpdate(ctx context.Context, reference string) (Transaction, error) {
	return r.GetByReference(ctx, reference)
}

func (r *memoryRepository) GetByProcessorReferenceForUpdate(_ context.Context, processorReference string) (Transaction, error) {
	if processorReference == "" {
		return Transaction{}, ErrNotFound
	}
	return r.find(func(t Transaction) bool { return t.ProcessorReference == processorReference })
}

func (r *memoryRepository) Update(ctx context.Context, txn Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current Transaction
	found := false
	for _, t := range r.byID {
		if t.Reference == txn.Reference {
			current, found = t, true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	next := current
	next.Processor = txn.Processor
	next.ProcessorReference = txn.ProcessorReference
	next.Status = txn.Status
	next.BalanceAfter = txn.BalanceAfter
	next.Data = maps.Clone(txn.Data)
	next.UpdatedAt = time.Now().UTC()
	r.byID[current.ID] = next

	store.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byID[current.ID] = current
	})
	return nil
}

func (r *memoryRepository) ListByWallet(_ context.Context, walletID string, limit, offset int) ([]Transaction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Transaction
	for _, t := range r.byID {
		if t.WalletID == walletID {
			matched = append(matched, clone(t))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if offset >= total {
		return []Transaction{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
