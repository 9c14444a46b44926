package business

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizledger/bizledger/internal/store/pgtest"
)

func TestPostgresRepository(t *testing.T) {
	repo := NewPostgresRepository(pgtest.Pool(t))
	ctx := context.Background()

	b := Business{ID: uuid.NewString(), Name: "Acme", Email: "ops@acme.io", APIKeyHash: []byte("hash"), CreatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, b))

	got, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Email, got.Email)
	assert.Equal(t, b.APIKeyHash, got.APIKeyHash)

	dup := b
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, repo.Create(ctx, dup), ErrEmailTaken)

	_, err = repo.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
