package business

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists businesses.
type Repository interface {
	Create(ctx context.Context, b Business) error
	Get(ctx context.Context, id string) (Business, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed business repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, b Business) error {
	_, err := r.db.Exec(ctx, `INSERT INTO businesses (id, name, email, api_key_hash, created_at)
        VALUES ($1, $2, $3, $4, $5)`, b.ID, b.Name, b.Email, b.APIKeyHash, b.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Business, error) {
	var b Business
	err := r.db.QueryRow(ctx, `SELECT id::text, name, email, api_key_hash, created_at FROM businesses WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Email, &b.APIKeyHash, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Business{}, ErrNotFound
	}
	if err != nil {
		return Business{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}
