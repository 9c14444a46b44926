// Package pgtest starts a disposable Postgres for repository integration tests.
package pgtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bizledger/bizledger/internal/infra"
)

// Pool starts Postgres in a container, applies migrations and returns a pool.
// The test is skipped in -short mode or when no container runtime is available.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image: "postgres:16-alpine",
		Env: map[string]string{
			"POSTGRES_USER":     "bizledger",
			"POSTGRES_PASSWORD": "bizledger",
			"POSTGRES_DB":       "bizledger",
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}

	container, err := startContainer(ctx, req)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	url := fmt.Sprintf("postgres://bizledger:bizledger@%s:%s/bizledger?sslmode=disable", host, port.Port())
	if err := infra.Migrate(url); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := infra.NewPostgresPool(ctx, url, 20)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func startContainer(ctx context.Context, req testcontainers.ContainerRequest) (c testcontainers.Container, err error) {
	// the docker provider panics when no daemon socket can be found
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
}

// CreateBusiness inserts a business row so wallets can reference it.
func CreateBusiness(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO businesses (id, name, email, api_key_hash) VALUES ($1, $2, $3, $4)`,
		id, "Test Business", id+"@example.com", []byte("x"))
	if err != nil {
		t.Fatalf("insert business: %v", err)
	}
	return id
}

// CreateWallet inserts an empty wallet for businessID and returns its id.
func CreateWallet(t *testing.T, pool *pgxpool.Pool, businessID, currency string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO wallets (id, business_id, currency, wallet_type) VALUES ($1, $2, $3, 'vendor_payout')`,
		id, businessID, currency)
	if err != nil {
		t.Fatalf("insert wallet: %v", err)
	}
	return id
}
