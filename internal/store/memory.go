package store

import (
	"context"
	"sync"
)

type memTxKey struct{}

type memTx struct {
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// MemoryTransactor serializes atomic units over in-memory repositories.
// Repositories register compensating closures with OnRollback; they run in
// reverse order when fn fails or panics.
type MemoryTransactor struct {
	mu sync.Mutex
}

// NewMemoryTransactor creates a transactor for in-memory backends.
func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

// WithTransaction runs fn while holding the transactor lock.
func (t *MemoryTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tx := &memTx{}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	if err = fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		tx.rollback()
	}
	return err
}

// WithSnapshot runs fn while holding the transactor lock so no unit interleaves with it.
func (t *MemoryTransactor) WithSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.WithTransaction(ctx, fn)
}

// OnRollback registers undo to run if the in-memory unit bound to ctx rolls back.
// It is a no-op outside a unit.
func OnRollback(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}
