package collection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizledger/bizledger/internal/store"
)

// PostgresRepository stores collections in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const vaColumns = `id, wallet_id, provider, provider_reference, account_number, bank_name, currency, status, created_at, updated_at`

func (r *PostgresRepository) CreateVirtualAccount(ctx context.Context, va VirtualAccount) error {
	if va.ID == "" {
		va.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := store.Conn(ctx, r.db).Exec(ctx, `INSERT INTO virtual_accounts (`+vaColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		va.ID, va.WalletID, va.ProviderSlug, va.ProviderReference, va.AccountNumber, va.BankName,
		va.Currency, va.Status, now)
	if store.IsUniqueViolation(err) {
		return ErrVirtualAccountExists
	}
	if err != nil {
		return fmt.Errorf("insert virtual account: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindVirtualAccount(ctx context.Context, provider, providerReference, accountNumber string) (VirtualAccount, error) {
	conn := store.Conn(ctx, r.db)
	if providerReference != "" {
		va, err := scanVirtualAccount(conn.QueryRow(ctx, `SELECT `+vaColumns+` FROM virtual_accounts
            WHERE provider = $1 AND provider_reference = $2`, provider, providerReference))
		if !errors.Is(err, ErrVirtualAccountNotFound) {
			return va, err
		}
	}
	if accountNumber == "" {
		return VirtualAccount{}, ErrVirtualAccountNotFound
	}
	return scanVirtualAccount(conn.QueryRow(ctx, `SELECT `+vaColumns+` FROM virtual_accounts
        WHERE provider = $1 AND account_number = $2 ORDER BY created_at DESC LIMIT 1`, provider, accountNumber))
}

func (r *PostgresRepository) ListVirtualAccounts(ctx context.Context, walletID string) ([]VirtualAccount, error) {
	rows, err := store.Conn(ctx, r.db).Query(ctx, `SELECT `+vaColumns+` FROM virtual_accounts
        WHERE wallet_id = $1 ORDER BY created_at`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VirtualAccount
	for rows.Next() {
		va, err := scanVirtualAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, va)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateVirtualAccountStatus(ctx context.Context, id, status string) error {
	tag, err := store.Conn(ctx, r.db).Exec(ctx,
		`UPDATE virtual_accounts SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVirtualAccountNotFound
	}
	return nil
}

func scanVirtualAccount(row pgx.Row) (VirtualAccount, error) {
	var va VirtualAccount
	err := row.Scan(&va.ID, &va.WalletID, &va.ProviderSlug, &va.ProviderReference, &va.AccountNumber,
		&va.BankName, &va.Currency, &va.Status, &va.CreatedAt, &va.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return VirtualAccount{}, ErrVirtualAccountNotFound
	}
	return va, err
}

const depositColumns = `id, reference, provider, virtual_account_id, wallet_id, amount, currency, status,
        is_transaction_logged, transaction_id, sender_name, sender_account_number, sender_bank, payload,
        created_at, updated_at`

func (r *PostgresRepository) LockOrCreate(ctx context.Context, d Deposit) (Deposit, error) {
	if !store.InTransaction(ctx) {
		return Deposit{}, ErrNoTransaction
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Payload == nil {
		d.Payload = map[string]any{}
	}
	conn := store.Conn(ctx, r.db)
	_, err := conn.Exec(ctx, `INSERT INTO deposits
        (id, reference, provider, virtual_account_id, wallet_id, amount, currency, status,
         sender_name, sender_account_number, sender_bank, payload)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (reference) DO NOTHING`,
		d.ID, d.Reference, d.Provider, d.VirtualAccountID, d.WalletID, d.Amount, d.Currency, d.Status,
		d.SenderName, d.SenderAccountNumber, d.SenderBank, d.Payload)
	if err != nil {
		return Deposit{}, fmt.Errorf("insert deposit: %w", err)
	}
	return scanDeposit(conn.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE reference = $1 FOR UPDATE`, d.Reference))
}

func (r *PostgresRepository) MarkLogged(ctx context.Context, id, status, transactionID string) error {
	var txnID *string
	if transactionID != "" {
		txnID = &transactionID
	}
	tag, err := store.Conn(ctx, r.db).Exec(ctx, `UPDATE deposits
        SET is_transaction_logged = TRUE, status = $2, transaction_id = $3, updated_at = NOW()
        WHERE id = $1`, id, status, txnID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDepositNotFound
	}
	return nil
}

func (r *PostgresRepository) GetDeposit(ctx context.Context, reference string) (Deposit, error) {
	return scanDeposit(store.Conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE reference = $1`, reference))
}

func scanDeposit(row pgx.Row) (Deposit, error) {
	var (
		d     Deposit
		txnID *string
	)
	err := row.Scan(&d.ID, &d.Reference, &d.Provider, &d.VirtualAccountID, &d.WalletID, &d.Amount,
		&d.Currency, &d.Status, &d.IsTransactionLogged, &txnID, &d.SenderName, &d.SenderAccountNumber,
		&d.SenderBank, &d.Payload, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Deposit{}, ErrDepositNotFound
	}
	if err != nil {
		return Deposit{}, err
	}
	if txnID != nil {
		d.TransactionID = *txnID
	}
	return d, nil
}
