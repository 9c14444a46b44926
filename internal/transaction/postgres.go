package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizledger/bizledger/internal/store"
)

// PostgresRepository stores transactions in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, business_id, wallet_id, currency, category, transaction_type, transaction_method,
        reference, amount, processor, processor_reference, status, balance_before, balance_after,
        data, created_at, updated_at`

// Create inserts a transaction. A reused reference yields ErrDuplicateReference.
func (r *PostgresRepository) Create(ctx context.Context, txn Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.Data == nil {
		txn.Data = map[string]any{}
	}
	_, err := store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO transactions (`+columns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		txn.ID, txn.BusinessID, txn.WalletID, txn.Currency, txn.Category, txn.Type, txn.Method,
		txn.Reference, txn.Amount, txn.Processor, txn.ProcessorReference, txn.Status,
		txn.BalanceBefore, txn.BalanceAfter, txn.Data, txn.CreatedAt.UTC(), txn.UpdatedAt.UTC())
	if store.IsUniqueViolation(err) {
		return ErrDuplicateReference
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByReference fetches a transaction by its internal reference.
func (r *PostgresRepository) GetByReference(ctx context.Context, reference string) (Transaction, error) {
	return r.one(ctx, `SELECT `+columns+` FROM transactions WHERE reference = $1`, reference)
}

// GetByReferenceForUpdate fetches and locks a transaction by its internal reference.
func (r *PostgresRepository) GetByReferenceForUpdate(ctx context.Context, reference string) (Transaction, error) {
	return r.one(ctx, `SELECT `+columns+` FROM transactions WHERE reference = $1 FOR UPDATE`, reference)
}

// GetByProcessorReferenceForUpdate fetches and locks a transaction by the provider's reference.
func (r *PostgresRepository) GetByProcessorReferenceForUpdate(ctx context.Context, processorReference string) (Transaction, error) {
	if processorReference == "" {
		return Transaction{}, ErrNotFound
	}
	return r.one(ctx, `SELECT `+columns+` FROM transactions WHERE processor_reference = $1
        ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, processorReference)
}

// Update stores the mutable fields of a transaction.
func (r *PostgresRepository) Update(ctx context.Context, txn Transaction) error {
	if txn.Data == nil {
		txn.Data = map[string]any{}
	}
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `UPDATE transactions SET
        processor = $2, processor_reference = $3, status = $4, balance_after = $5, data = $6, updated_at = NOW()
        WHERE reference = $1`,
		txn.Reference, txn.Processor, txn.ProcessorReference, txn.Status, txn.BalanceAfter, txn.Data)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByWallet returns the wallet's transactions, newest first, plus the total count.
func (r *PostgresRepository) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]Transaction, int, error) {
	conn := store.Conn(ctx, r.db)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE wallet_id = $1`, walletID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+columns+` FROM transactions WHERE wallet_id = $1
        ORDER BY created_at DESC LIMIT $2 OFFSET $3`, walletID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	txns := []Transaction{}
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		txns = append(txns, t)
	}
	return txns, total, rows.Err()
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (Transaction, error) {
	t, err := scan(store.Conn(ctx, r.db).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return t, err
}

func scan(row pgx.Row) (Transaction, error) {
	var t Transaction
	if err := row.Scan(&t.ID, &t.BusinessID, &t.WalletID, &t.Currency, &t.Category, &t.Type, &t.Method,
		&t.Reference, &t.Amount, &t.Processor, &t.ProcessorReference, &t.Status,
		&t.BalanceBefore, &t.BalanceAfter, &t.Data, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
