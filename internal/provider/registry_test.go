package provider_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizledger/bizledger/internal/provider"
	"github.com/bizledger/bizledger/internal/provider/providertest"
)

func TestRegistryResolvesByCurrency(t *testing.T) {
	catalog := provider.NewStaticCatalog("fincra", "paystack")
	reg := provider.NewRegistry(catalog)
	fincra := providertest.New("fincra")
	paystack := providertest.New("paystack")
	reg.Register(fincra, "ngn")
	reg.Register(paystack, "GHS", "KES")

	ctx := context.Background()
	p, err := reg.ForCurrency(ctx, "NGN")
	require.NoError(t, err)
	assert.Equal(t, "fincra", p.Slug())

	p, err = reg.ForCurrency(ctx, "kes")
	require.NoError(t, err)
	assert.Equal(t, "paystack", p.Slug())

	_, err = reg.ForCurrency(ctx, "USD")
	assert.True(t, errors.Is(err, provider.ErrNoProvider))

	_, err = reg.BySlug(ctx, "flutterwave")
	assert.True(t, errors.Is(err, provider.ErrUnknownProvider))

	assert.ElementsMatch(t, []string{"NGN", "GHS", "KES"}, reg.Currencies())
}

func TestRegistryRespectsCatalogActiveFlag(t *testing.T) {
	catalog := provider.NewStaticCatalog("fincra")
	reg := provider.NewRegistry(catalog)
	reg.Register(providertest.New("fincra"), "NGN")

	catalog.SetActive("fincra", false)
	_, err := reg.ForCurrency(context.Background(), "NGN")
	assert.True(t, errors.Is(err, provider.ErrProviderInactive))

	catalog.SetActive("fincra", true)
	_, err = reg.ForCurrency(context.Background(), "NGN")
	assert.NoError(t, err)
}
