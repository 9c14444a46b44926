package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bizledger/bizledger/internal/store"
)

// Repository persists wallets. GetForUpdate must be called inside an atomic
// unit and holds the row lock until that unit ends.
type Repository interface {
	Create(ctx context.Context, wallet Wallet) error
	Get(ctx context.Context, id string) (Wallet, error)
	GetForUpdate(ctx context.Context, id string) (Wallet, error)
	FindByOwner(ctx context.Context, businessID, walletType, currency string) (Wallet, error)
	ListByBusiness(ctx context.Context, businessID string) ([]Wallet, error)
	IDs(ctx context.Context) ([]string, error)
	UpdateBalance(ctx context.Context, id string, previous, current decimal.Decimal) error
	CurrentBalance(ctx context.Context, id string) (decimal.Decimal, error)
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const walletColumns = `id, business_id, currency, wallet_type, current_balance, previous_balance, created_at, updated_at`

// Create inserts a wallet record. An existing wallet for the same owner,
// type and currency yields ErrWalletExists.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) error {
	if _, err := uuid.Parse(wallet.ID); err != nil {
		return err
	}
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO wallets
        (id, business_id, currency, wallet_type, current_balance, previous_balance, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (business_id, wallet_type, currency) DO NOTHING`,
		wallet.ID, wallet.BusinessID, wallet.Currency, wallet.Type,
		wallet.CurrentBalance, wallet.PreviousBalance, wallet.CreatedAt.UTC(), wallet.UpdatedAt.UTC())
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrWalletExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletExists
	}
	return nil
}

// Get fetches a wallet by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Wallet, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return r.scanOne(store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
}

// GetForUpdate reads the wallet and locks its row for the rest of the unit.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (Wallet, error) {
	if !store.InTransaction(ctx) {
		return Wallet{}, ErrNoTransaction
	}
	if _, err := uuid.Parse(id); err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return r.scanOne(store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
}

// FindByOwner returns the business's wallet of the given type and currency.
func (r *PostgresRepository) FindByOwner(ctx context.Context, businessID, walletType, currency string) (Wallet, error) {
	if _, err := uuid.Parse(businessID); err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return r.scanOne(store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE business_id = $1 AND wallet_type = $2 AND currency = $3`,
		businessID, walletType, currency))
}

// ListByBusiness returns all wallets of a business.
func (r *PostgresRepository) ListByBusiness(ctx context.Context, businessID string) ([]Wallet, error) {
	if _, err := uuid.Parse(businessID); err != nil {
		return []Wallet{}, nil
	}
	rows, err := store.Conn(ctx, r.db).Query(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE business_id = $1 ORDER BY created_at`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wallets := []Wallet{}
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// IDs lists every wallet identifier.
func (r *PostgresRepository) IDs(ctx context.Context) ([]string, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT id::text FROM wallets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpdateBalance stores the new balance pair.
func (r *PostgresRepository) UpdateBalance(ctx context.Context, id string, previous, current decimal.Decimal) error {
	tag, err := store.Conn(ctx, r.db).Exec(ctx,
		`UPDATE wallets SET previous_balance = $2, current_balance = $3, updated_at = NOW() WHERE id = $1`,
		id, previous, current)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// CurrentBalance reads the stored balance without locking.
func (r *PostgresRepository) CurrentBalance(ctx context.Context, id string) (decimal.Decimal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return decimal.Zero, ErrWalletNotFound
	}
	var balance decimal.Decimal
	err := store.Conn(ctx, r.db).QueryRow(ctx, `SELECT current_balance FROM wallets WHERE id = $1`, id).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrWalletNotFound
	}
	return balance, err
}

func (r *PostgresRepository) scanOne(row pgx.Row) (Wallet, error) {
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	return w, err
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w                    Wallet
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&w.ID, &w.BusinessID, &w.Currency, &w.Type,
		&w.CurrentBalance, &w.PreviousBalance, &createdAt, &updatedAt); err != nil {
		return Wallet{}, err
	}
	w.CreatedAt = createdAt.UTC()
	w.UpdatedAt = updatedAt.UTC()
	return w, nil
}
