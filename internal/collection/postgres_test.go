package collection

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizledger/bizledger/internal/store"
	"github.com/bizledger/bizledger/internal/store/pgtest"
)

func TestPostgresRepository(t *testing.T) {
	pool := pgtest.Pool(t)
	ctx := context.Background()
	repo := NewPostgresRepository(pool)
	tx := store.NewPostgresTransactor(pool)

	businessID := pgtest.CreateBusiness(t, pool)
	walletID := pgtest.CreateWallet(t, pool, businessID, "NGN")

	require.NoError(t, repo.CreateVirtualAccount(ctx, VirtualAccount{
		WalletID: walletID, ProviderSlug: "fincra", ProviderReference: "va-pg", AccountNumber: "0123456789",
		Currency: "NGN", Status: "pending",
	}))
	assert.ErrorIs(t, repo.CreateVirtualAccount(ctx, VirtualAccount{
		WalletID: walletID, ProviderSlug: "fincra", ProviderReference: "va-pg", Currency: "NGN", Status: "pending",
	}), ErrVirtualAccountExists)

	va, err := repo.FindVirtualAccount(ctx, "fincra", "", "0123456789")
	require.NoError(t, err)
	assert.Equal(t, "va-pg", va.ProviderReference)
	require.NoError(t, repo.UpdateVirtualAccountStatus(ctx, va.ID, "active"))

	_, err = repo.FindVirtualAccount(ctx, "paystack", "va-pg", "")
	assert.ErrorIs(t, err, ErrVirtualAccountNotFound)

	var depositID string
	require.NoError(t, tx.WithTransaction(ctx, func(ctx context.Context) error {
		d, err := repo.LockOrCreate(ctx, Deposit{
			Reference: "col-1", Provider: "fincra", VirtualAccountID: va.ID, WalletID: walletID,
			Amount: decimal.RequireFromString("250.00"), Currency: "NGN", Status: DepositPending,
			Payload: map[string]any{"event": "collection.successful"},
		})
		if err != nil {
			return err
		}
		depositID = d.ID
		assert.False(t, d.IsTransactionLogged)
		return repo.MarkLogged(ctx, d.ID, DepositSuccessful, "")
	}))

	require.NoError(t, tx.WithTransaction(ctx, func(ctx context.Context) error {
		d, err := repo.LockOrCreate(ctx, Deposit{
			Reference: "col-1", Provider: "fincra", VirtualAccountID: va.ID, WalletID: walletID,
			Amount: decimal.RequireFromString("250.00"), Currency: "NGN", Status: DepositPending,
		})
		require.NoError(t, err)
		assert.Equal(t, depositID, d.ID)
		assert.True(t, d.IsTransactionLogged)
		assert.Equal(t, DepositSuccessful, d.Status)
		return nil
	}))
}
