package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizledger/bizledger/internal/collection"
	"github.com/bizledger/bizledger/internal/ledger"
	"github.com/bizledger/bizledger/internal/logging"
	"github.com/bizledger/bizledger/internal/payout"
	"github.com/bizledger/bizledger/internal/provider"
	"github.com/bizledger/bizledger/internal/provider/providertest"
	"github.com/bizledger/bizledger/internal/store"
	"github.com/bizledger/bizledger/internal/transaction"
	"github.com/bizledger/bizledger/internal/wallet"
)

type notified struct {
	mu    sync.Mutex
	kinds []string
}

func (n *notified) Notify(_ context.Context, kind, _, _ string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func (n *notified) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.kinds...)
}

type fixture struct {
	rec         *Reconciler
	payouts     *payout.Service
	wallets     *wallet.Service
	txns        transaction.Repository
	collections collection.Repository
	fake        *providertest.Fake
	registry    *provider.Registry
	notifier    *notified
	wallet      wallet.Wallet
	va          collection.VirtualAccount
	other       wallet.Wallet
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	tx := store.NewMemoryTransactor()
	walletRepo := wallet.NewMemoryRepository()
	wallets := wallet.NewService(walletRepo, ledger.NewStore(ledger.NewInMemory(), walletRepo, tx), tx)
	txns := transaction.NewMemoryRepository()
	collections := collection.NewMemoryRepository()

	fake := providertest.New("fincra")
	reg := provider.NewRegistry(provider.NewStaticCatalog("fincra"))
	reg.Register(fake, "NGN")

	refs, err := transaction.NewReferenceGenerator("BZL", "webhook-test")
	require.NoError(t, err)
	notifier := &notified{}
	payouts := payout.NewService(payout.Dependencies{
		Wallets:      wallets,
		Transactions: txns,
		Providers:    reg,
		Banks:        provider.NewBankCache(nil, time.Minute, logging.Discard()),
		References:   refs,
		Transactor:   tx,
		Notifier:     notifier,
		Logger:       logging.Discard(),
	})
	rec := NewReconciler(Dependencies{
		Providers:    reg,
		Wallets:      wallets,
		Transactions: txns,
		Collections:  collections,
		Payouts:      payouts,
		Transactor:   tx,
		Notifier:     notifier,
		Logger:       logging.Discard(),
	})

	w, err := wallets.GetOrCreate(ctx, "biz-1", wallet.TypeVendorPayout, "NGN")
	require.NoError(t, err)
	require.NoError(t, collections.CreateVirtualAccount(ctx, collection.VirtualAccount{
		WalletID: w.ID, ProviderSlug: "fincra", ProviderReference: "va-1", AccountNumber: "9900112233",
		Currency: "NGN", Status: provider.AccountActive,
	}))
	va, err := collections.FindVirtualAccount(ctx, "fincra", "va-1", "")
	require.NoError(t, err)

	other, err := wallets.GetOrCreate(ctx, "biz-2", wallet.TypeVendorPayout, "NGN")
	require.NoError(t, err)
	require.NoError(t, collections.CreateVirtualAccount(ctx, collection.VirtualAccount{
		WalletID: other.ID, ProviderSlug: "fincra", ProviderReference: "va-2", AccountNumber: "9900445566",
		Currency: "NGN", Status: provider.AccountActive,
	}))

	return fixture{
		rec: rec, payouts: payouts, wallets: wallets, txns: txns, collections: collections,
		fake: fake, registry: reg, notifier: notifier, wallet: w, va: va, other: other,
	}
}

func (f fixture) confirmCollection(status, amount, currency string) {
	f.confirmCollectionInto("va-1", "9900112233", status, amount, currency)
}

func (f fixture) confirmCollectionInto(vaRef, accountNumber, status, amount, currency string) {
	f.fake.VerifyCollectionFn = func(ref string) (provider.StatusResult, error) {
		return provider.StatusResult{
			Reference: ref, Status: status, Amount: d(amount), Currency: currency,
			VirtualAccount: vaRef, AccountNumber: accountNumber,
		}, nil
	}
}

func (f fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.wallets.GetBalance(context.Background(), f.wallet.ID)
	require.NoError(t, err)
	return b
}

func (f fixture) otherBalance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.wallets.GetBalance(context.Background(), f.other.ID)
	require.NoError(t, err)
	return b
}

func collectionEvent(status, amount string) []byte {
	return providertest.Webhook{
		Kind: provider.KindCollection, Name: "collection." + status, Reference: "COL-1",
		Status: status, Amount: d(amount), Currency: "NGN", VirtualAccount: "va-1", SenderName: "Ada",
	}.Encode()
}

func TestCollectionReplayCreditsOnce(t *testing.T) {
	f := newFixture(t)
	f.confirmCollection(provider.StatusSuccessful, "250.00", "NGN")
	raw := collectionEvent(provider.StatusSuccessful, "250.00")

	require.NoError(t, f.rec.Handle(context.Background(), "fincra", raw))
	require.NoError(t, f.rec.Handle(context.Background(), "fincra", raw))

	assert.True(t, f.balance(t).Equal(d("250.00")))
	dep, err := f.collections.GetDeposit(context.Background(), "COL-1")
	require.NoError(t, err)
	assert.True(t, dep.IsTransactionLogged)
	assert.Equal(t, collection.DepositSuccessful, dep.Status)

	txn, err := f.txns.GetByReference(context.Background(), "COL-1")
	require.NoError(t, err)
	assert.Equal(t, dep.TransactionID, txn.ID)
	assert.Equal(t, transaction.StatusSuccessful, txn.Status)
	assert.True(t, txn.BalanceAfter.Equal(d("250.00")))

	page, err := f.wallets.Entries(context.Background(), f.wallet.ID, ledger.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 2, f.fake.Calls("VerifyCollection"))
	assert.Equal(t, []string{"deposit.received"}, f.notifier.list())
}

func TestConcurrentCollectionReplaysCreditOnce(t *testing.T) {
	f := newFixture(t)
	f.confirmCollection(provider.StatusSuccessful, "100.00", "NGN")
	raw := collectionEvent(provider.StatusSuccessful, "100.00")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.rec.Handle(context.Background(), "fincra", raw))
		}()
	}
	wg.Wait()
	assert.True(t, f.balance(t).Equal(d("100.00")))
}

func TestCollectionCreditsTheVerifiedAccount(t *testing.T) {
	f := newFixture(t)
	f.confirmCollectionInto("", "9900445566", provider.StatusSuccessful, "75.50", "NGN")
	raw := providertest.Webhook{
		Kind: provider.KindCollection, Name: "collection.successful", Reference: "COL-1",
		Status: provider.StatusSuccessful, Amount: d("75.50"), Currency: "NGN",
	}.Encode()

	require.NoError(t, f.rec.Handle(context.Background(), "fincra", raw))

	assert.True(t, f.otherBalance(t).Equal(d("75.50")))
	assert.True(t, f.balance(t).IsZero())
	dep, err := f.collections.GetDeposit(context.Background(), "COL-1")
	require.NoError(t, err)
	assert.Equal(t, f.other.ID, dep.WalletID)
}

func TestFailedCollectionRecordsTransactionOnly(t *testing.T) {
	f := newFixture(t)
	f.confirmCollection(provider.StatusFailed, "250.00", "NGN")

	require.NoError(t, f.rec.Handle(context.Background(), "fincra", collectionEvent(provider.StatusFailed, "250.00")))

	assert.True(t, f.balance(t).IsZero())
	txn, err := f.txns.GetByReference(context.Background(), "COL-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusFailed, txn.Status)
	dep, err := f.collections.GetDeposit(context.Background(), "COL-1")
	require.NoError(t, err)
	assert.True(t, dep.IsTransactionLogged)
	assert.Equal(t, []string{"deposit.failed"}, f.notifier.list())
}

func TestUntrustedCollectionsChangeNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f fixture)
		raw   []byte
	}{
		{
			name:  "provider reports a different status",
			setup: func(f fixture) { f.confirmCollection(provider.StatusPending, "250.00", "NGN") },
			raw:   collectionEvent(provider.StatusSuccessful, "250.00"),
		},
		{
			name:  "provider reports a different amount",
			setup: func(f fixture) { f.confirmCollection(provider.StatusSuccessful, "25.00", "NGN") },
			raw:   collectionEvent(provider.StatusSuccessful, "250.00"),
		},
		{
			name:  "provider does not know the reference",
			setup: func(f fixture) {},
			raw:   collectionEvent(provider.StatusSuccessful, "250.00"),
		},
		{
			name:  "currency differs from wallet",
			setup: func(f fixture) { f.confirmCollection(provider.StatusSuccessful, "250.00", "GHS") },
			raw: providertest.Webhook{
				Kind: provider.KindCollection, Name: "collection.successful", Reference: "COL-1",
				Status: provider.StatusSuccessful, Amount: d("250.00"), Currency: "GHS", VirtualAccount: "va-1",
			}.Encode(),
		},
		{
			name:  "claimed virtual account differs from the verified one",
			setup: func(f fixture) { f.confirmCollection(provider.StatusSuccessful, "250.00", "NGN") },
			raw: providertest.Webhook{
				Kind: provider.KindCollection, Name: "collection.successful", Reference: "COL-1",
				Status: provider.StatusSuccessful, Amount: d("250.00"), Currency: "NGN", VirtualAccount: "va-2",
			}.Encode(),
		},
		{
			name:  "claimed virtual account is unknown",
			setup: func(f fixture) { f.confirmCollection(provider.StatusSuccessful, "250.00", "NGN") },
			raw: providertest.Webhook{
				Kind: provider.KindCollection, Name: "collection.successful", Reference: "COL-1",
				Status: provider.StatusSuccessful, Amount: d("250.00"), Currency: "NGN", VirtualAccount: "va-404",
			}.Encode(),
		},
		{
			name:  "verified virtual account is unknown",
			setup: func(f fixture) { f.confirmCollectionInto("va-404", "", provider.StatusSuccessful, "250.00", "NGN") },
			raw: providertest.Webhook{
				Kind: provider.KindCollection, Name: "collection.successful", Reference: "COL-1",
				Status: provider.StatusSuccessful, Amount: d("250.00"), Currency: "NGN",
			}.Encode(),
		},
		{
			name:  "provider reports no receiving account",
			setup: func(f fixture) { f.confirmCollectionInto("", "", provider.StatusSuccessful, "250.00", "NGN") },
			raw:   collectionEvent(provider.StatusSuccessful, "250.00"),
		},
		{
			name:  "provider reports no amount",
			setup: func(f fixture) { f.confirmCollection(provider.StatusSuccessful, "0", "NGN") },
			raw:   collectionEvent(provider.StatusSuccessful, "250.00"),
		},
		{
			name:  "missing reference",
			setup: func(f fixture) { f.confirmCollection(provider.StatusSuccessful, "250.00", "NGN") },
			raw: providertest.Webhook{
				Kind: provider.KindCollection, Name: "collection.successful", Status: provider.StatusSuccessful,
				Amount: d("250.00"), Currency: "NGN", VirtualAccount: "va-1",
			}.Encode(),
		},
		{
			name:  "unhandled event",
			setup: func(f fixture) {},
			raw:   providertest.Webhook{Name: "customer.created"}.Encode(),
		},
		{
			name:  "garbage body",
			setup: func(f fixture) {},
			raw:   []byte("not json"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			require.NoError(t, f.rec.Handle(context.Background(), "fincra", tt.raw))

			assert.True(t, f.balance(t).IsZero())
			assert.True(t, f.otherBalance(t).IsZero())
			_, err := f.collections.GetDeposit(context.Background(), "COL-1")
			assert.ErrorIs(t, err, collection.ErrDepositNotFound)
			assert.Empty(t, f.notifier.list())
		})
	}
}

func TestUnreachableVerificationIsRetried(t *testing.T) {
	f := newFixture(t)
	f.fake.VerifyCollectionFn = func(string) (provider.StatusResult, error) {
		return provider.StatusResult{}, &provider.Error{Provider: "fincra", Code: provider.CodeUnavailable, Message: "connection refused"}
	}

	err := f.rec.Handle(context.Background(), "fincra", collectionEvent(provider.StatusSuccessful, "250.00"))
	require.Error(t, err)
	assert.True(t, f.balance(t).IsZero())
}

func TestUnknownProviderIsDropped(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.rec.Handle(context.Background(), "flutterwave", collectionEvent(provider.StatusSuccessful, "1")))
}

func (f fixture) pendingPayout(t *testing.T) payout.Result {
	t.Helper()
	f.fund(t)
	return f.submitPayout(t, "R1")
}

func (f fixture) fund(t *testing.T) {
	t.Helper()
	f.confirmCollection(provider.StatusSuccessful, "1000.00", "NGN")
	raw := providertest.Webhook{
		Kind: provider.KindCollection, Name: "collection.successful", Reference: "SEED",
		Status: provider.StatusSuccessful, Amount: d("1000.00"), Currency: "NGN", VirtualAccount: "va-1",
	}.Encode()
	require.NoError(t, f.rec.Handle(context.Background(), "fincra", raw))
}

func (f fixture) submitPayout(t *testing.T, processorRef string) payout.Result {
	t.Helper()
	ctx := context.Background()
	f.fake.TransferFn = func(provider.TransferRequest) (provider.TransferResult, error) {
		return provider.TransferResult{Reference: processorRef, Status: provider.StatusPending}, nil
	}
	res, err := f.payouts.PayoutToBank(ctx, payout.Request{
		BusinessID: "biz-1", WalletID: f.wallet.ID, Amount: d("200.00"),
		Bank: provider.BankDetails{AccountNumber: "1234567890", BankCode: "044"},
	})
	require.NoError(t, err)
	return res
}

func payoutEvent(ref, status string) []byte {
	return payoutEventFor("R1", ref, status)
}

func payoutEventFor(processorRef, ref, status string) []byte {
	return providertest.Webhook{
		Kind: provider.KindPayout, Name: "payout." + status, Reference: processorRef, CustomerReference: ref,
		Status: status, Amount: d("200.00"), Currency: "NGN",
	}.Encode()
}

func TestPayoutFailureWebhookRefundsOnce(t *testing.T) {
	f := newFixture(t)
	res := f.pendingPayout(t)
	assert.True(t, f.balance(t).Equal(d("800.00")))

	f.fake.StatusFn = func(q provider.StatusQuery) (provider.StatusResult, error) {
		assert.Equal(t, res.Reference, q.Reference)
		return provider.StatusResult{
			Reference: q.ProcessorReference, CustomerReference: q.Reference,
			Status: provider.StatusFailed, Message: "beneficiary bank offline",
		}, nil
	}

	raw := payoutEvent(res.Reference, provider.StatusFailed)
	require.NoError(t, f.rec.Handle(context.Background(), "fincra", raw))
	require.NoError(t, f.rec.Handle(context.Background(), "fincra", raw))

	assert.True(t, f.balance(t).Equal(d("1000.00")))
	txn, err := f.txns.GetByReference(context.Background(), res.Reference)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusFailed, txn.Status)
}

func TestPayoutSuccessWebhookNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	res := f.pendingPayout(t)

	f.fake.StatusFn = func(q provider.StatusQuery) (provider.StatusResult, error) {
		return provider.StatusResult{Status: provider.StatusPending}, nil
	}
	require.NoError(t, f.rec.Handle(context.Background(), "fincra", payoutEvent(res.Reference, provider.StatusSuccessful)))
	txn, err := f.txns.GetByReference(context.Background(), res.Reference)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, txn.Status)

	f.fake.StatusFn = func(q provider.StatusQuery) (provider.StatusResult, error) {
		return provider.StatusResult{Reference: "R1", CustomerReference: res.Reference, Status: provider.StatusSuccessful}, nil
	}
	require.NoError(t, f.rec.Handle(context.Background(), "fincra", payoutEvent(res.Reference, provider.StatusSuccessful)))
	txn, err = f.txns.GetByReference(context.Background(), res.Reference)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusSuccessful, txn.Status)
	assert.True(t, f.balance(t).Equal(d("800.00")))
}

func TestPayoutWebhookForUnknownTransactionIsDropped(t *testing.T) {
	f := newFixture(t)
	f.fake.StatusFn = func(q provider.StatusQuery) (provider.StatusResult, error) {
		return provider.StatusResult{CustomerReference: q.Reference, Status: provider.StatusSuccessful}, nil
	}
	assert.NoError(t, f.rec.Handle(context.Background(), "fincra", payoutEvent("BZLUNKNOWN", provider.StatusSuccessful)))
}

func TestPayoutWebhookSettlesOnlyTheVerifiedPayout(t *testing.T) {
	tests := []struct {
		name string
		// status is what the provider reports for a lookup
		status       func(a, b payout.Result) func(provider.StatusQuery) (provider.StatusResult, error)
		wantA, wantB string
		wantBalance  string
	}{
		{
			name: "verified customer reference differs from the claimed one",
			status: func(a, b payout.Result) func(provider.StatusQuery) (provider.StatusResult, error) {
				return func(q provider.StatusQuery) (provider.StatusResult, error) {
					if q.ProcessorReference == "R2" {
						return provider.StatusResult{Reference: "R2", CustomerReference: b.Reference, Status: provider.StatusFailed}, nil
					}
					return provider.StatusResult{Reference: "R1", CustomerReference: a.Reference, Status: provider.StatusPending}, nil
				}
			},
			wantA: transaction.StatusPending, wantB: transaction.StatusPending, wantBalance: "600.00",
		},
		{
			name: "provider returns only its own reference",
			status: func(a, b payout.Result) func(provider.StatusQuery) (provider.StatusResult, error) {
				return func(q provider.StatusQuery) (provider.StatusResult, error) {
					if q.ProcessorReference == "R2" {
						return provider.StatusResult{Reference: "R2", Status: provider.StatusFailed}, nil
					}
					return provider.StatusResult{Reference: "R1", Status: provider.StatusPending}, nil
				}
			},
			wantA: transaction.StatusPending, wantB: transaction.StatusFailed, wantBalance: "800.00",
		},
		{
			name: "verified references belong to different payouts",
			status: func(a, b payout.Result) func(provider.StatusQuery) (provider.StatusResult, error) {
				return func(q provider.StatusQuery) (provider.StatusResult, error) {
					return provider.StatusResult{Reference: "R2", CustomerReference: a.Reference, Status: provider.StatusFailed}, nil
				}
			},
			wantA: transaction.StatusPending, wantB: transaction.StatusPending, wantBalance: "600.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fund(t)
			a := f.submitPayout(t, "R1")
			b := f.submitPayout(t, "R2")
			require.True(t, f.balance(t).Equal(d("600.00")))
			f.fake.StatusFn = tt.status(a, b)

			raw := payoutEventFor("R2", a.Reference, provider.StatusFailed)
			require.NoError(t, f.rec.Handle(context.Background(), "fincra", raw))

			txnA, err := f.txns.GetByReference(context.Background(), a.Reference)
			require.NoError(t, err)
			assert.Equal(t, tt.wantA, txnA.Status)
			txnB, err := f.txns.GetByReference(context.Background(), b.Reference)
			require.NoError(t, err)
			assert.Equal(t, tt.wantB, txnB.Status)
			assert.True(t, f.balance(t).Equal(d(tt.wantBalance)), f.balance(t).String())
		})
	}
}

func TestVirtualAccountStatusWebhook(t *testing.T) {
	f := newFixture(t)
	f.fake.VirtualAccountFn = func(ref string) (provider.VirtualAccount, error) {
		return provider.VirtualAccount{ProviderReference: ref, Status: provider.AccountClosed, AccountNumber: "9900112233"}, nil
	}

	raw := providertest.Webhook{Kind: provider.KindVirtualAccount, Name: "virtualaccount.closed", Reference: "va-1", Status: provider.AccountClosed}.Encode()
	require.NoError(t, f.rec.Handle(context.Background(), "fincra", raw))

	va, err := f.collections.FindVirtualAccount(context.Background(), "fincra", "va-1", "")
	require.NoError(t, err)
	assert.Equal(t, provider.AccountClosed, va.Status)
	assert.Equal(t, []string{"virtual_account.status"}, f.notifier.list())

	// a claim the provider does not back is ignored
	raw = providertest.Webhook{Kind: provider.KindVirtualAccount, Name: "virtualaccount.approved", Reference: "va-1", Status: provider.AccountActive}.Encode()
	require.NoError(t, f.rec.Handle(context.Background(), "fincra", raw))
	va, err = f.collections.FindVirtualAccount(context.Background(), "fincra", "va-1", "")
	require.NoError(t, err)
	assert.Equal(t, provider.AccountClosed, va.Status)
}
