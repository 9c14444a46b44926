package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizledger/bizledger/internal/store"
)

// PostgresRepository persists ledger entries in PostgreSQL. Writes join the
// atomic unit bound to the context, if any.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository constructs a Postgres-backed entry repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const entryColumns = `id, seq, wallet_id, COALESCE(transaction_id::text, ''), transaction_type,
        amount, balance_before, balance_after, transaction_reference, created_at`

// Insert appends an entry. A repeated (wallet, reference) yields ErrDuplicateEntry.
func (r *PostgresRepository) Insert(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var txID any
	if entry.TransactionID != "" {
		txID = entry.TransactionID
	}

	const query = `INSERT INTO ledger_entries
        (id, wallet_id, transaction_id, transaction_type, amount, balance_before, balance_after, transaction_reference)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING seq, created_at`
	row := store.Conn(ctx, r.db).QueryRow(ctx, query,
		entry.ID, entry.WalletID, txID, entry.TransactionType,
		entry.Amount, entry.BalanceBefore, entry.BalanceAfter, entry.TransactionReference)
	if err := row.Scan(&entry.Sequence, &entry.CreatedAt); err != nil {
		if store.IsUniqueViolation(err) {
			return Entry{}, ErrDuplicateEntry
		}
		return Entry{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}

// Exists reports whether the wallet already has an entry for reference.
func (r *PostgresRepository) Exists(ctx context.Context, walletID, reference string) (bool, error) {
	var exists bool
	err := store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE wallet_id = $1 AND transaction_reference = $2)`,
		walletID, reference).Scan(&exists)
	return exists, err
}

// List returns one page of entries in creation order plus the filtered total.
func (r *PostgresRepository) List(ctx context.Context, walletID string, filter Filter) ([]Entry, int, error) {
	conn := store.Conn(ctx, r.db)

	const where = `WHERE wallet_id = $1
        AND ($2::timestamptz IS NULL OR created_at >= $2)
        AND ($3::timestamptz IS NULL OR created_at <= $3)`

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries `+where,
		walletID, filter.DateFrom, filter.DateTo).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries `+where+`
        ORDER BY seq LIMIT $4 OFFSET $5`,
		walletID, filter.DateFrom, filter.DateTo, filter.PerPage, filter.offset())
	if err != nil {
		return nil, 0, err
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// All returns every entry of the wallet in creation order.
func (r *PostgresRepository) All(ctx context.Context, walletID string) ([]Entry, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE wallet_id = $1 ORDER BY seq`, walletID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Sequence, &e.WalletID, &e.TransactionID, &e.TransactionType,
			&e.Amount, &e.BalanceBefore, &e.BalanceAfter, &e.TransactionReference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
