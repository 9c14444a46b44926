package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bizledger/bizledger/internal/store"
)

type inMemoryRepository struct {
	mu      sync.RWMutex
	seq     int64
	entries map[string][]Entry
	refs    map[string]struct{}
}

// NewInMemory creates a concurrency-safe in-memory entry repository useful for unit tests.
func NewInMemory() Repository {
	return &inMemoryRepository{
		entries: make(map[string][]Entry),
		refs:    make(map[string]struct{}),
	}
}

func refKey(walletID, reference string) string {
	return walletID + "|" + reference
}

func (r *inMemoryRepository) Insert(ctx context.Context, entry Entry) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := refKey(entry.WalletID, entry.TransactionReference)
	if _, exists := r.refs[key]; exists {
		return Entry{}, ErrDuplicateEntry
	}

	r.seq++
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Sequence = r.seq
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.entries[entry.WalletID] = append(r.entries[entry.WalletID], entry)
	r.refs[key] = struct{}{}

	store.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.entries[entry.WalletID]
		for i := len(list) - 1; i >= 0; i-- {
			if list[i].ID == entry.ID {
				r.entries[entry.WalletID] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		delete(r.refs, key)
	})

	return entry, nil
}

func (r *inMemoryRepository) Exists(_ context.Context, walletID, reference string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.refs[refKey(walletID, reference)]
	return ok, nil
}

func (r *inMemoryRepository) List(_ context.Context, walletID string, filter Filter) ([]Entry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Entry
	for _, e := range r.entries[walletID] {
		if filter.DateFrom != nil && e.CreatedAt.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && e.CreatedAt.After(*filter.DateTo) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	start := filter.offset()
	if start >= total {
		return []Entry{}, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	out := make([]Entry, end-start)
	copy(out, matched[start:end])
	return out, total, nil
}

func (r *inMemoryRepository) All(_ context.Context, walletID string) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries[walletID]))
	copy(out, r.entries[walletID])
	return out, nil
}
