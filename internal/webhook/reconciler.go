// Package webhook settles provider callbacks. Payloads are treated as
// unverified hints: every event is re-checked against the provider before
// any wallet, transaction or virtual account changes.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bizledger/bizledger/internal/collection"
	"github.com/bizledger/bizledger/internal/ledger"
	"github.com/bizledger/bizledger/internal/notification"
	"github.com/bizledger/bizledger/internal/payout"
	"github.com/bizledger/bizledger/internal/provider"
	"github.com/bizledger/bizledger/internal/store"
	"github.com/bizledger/bizledger/internal/transaction"
	"github.com/bizledger/bizledger/internal/wallet"
)

// Providers resolves the provider a webhook was sent by.
type Providers interface {
	BySlug(ctx context.Context, slug string) (provider.PayoutProvider, error)
}

// Wallets is the wallet accessor surface used for deposits.
type Wallets interface {
	Get(ctx context.Context, id string) (wallet.Wallet, error)
	Lock(ctx context.Context, id string) (wallet.Wallet, error)
	Credit(ctx context.Context, m wallet.Mutation) (wallet.Wallet, error)
}

// Settler applies verified payout statuses.
type Settler interface {
	Settle(ctx context.Context, in payout.SettlementInput) (transaction.Transaction, error)
}

// Notifier is the fire-and-forget notification hook.
type Notifier interface {
	Notify(ctx context.Context, kind, entity, destination string, payload map[string]any)
}

// Dependencies groups the collaborators of Reconciler.
type Dependencies struct {
	Providers    Providers
	Wallets      Wallets
	Transactions transaction.Repository
	Collections  collection.Repository
	Payouts      Settler
	Transactor   store.Transactor
	Notifier     Notifier
	Logger       *slog.Logger
}

// Reconciler verifies and applies webhook events.
type Reconciler struct {
	providers   Providers
	wallets     Wallets
	txns        transaction.Repository
	collections collection.Repository
	payouts     Settler
	tx          store.Transactor
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewReconciler builds a reconciler.
func NewReconciler(deps Dependencies) *Reconciler {
	return &Reconciler{
		providers:   deps.Providers,
		wallets:     deps.Wallets,
		txns:        deps.Transactions,
		collections: deps.Collections,
		payouts:     deps.Payouts,
		tx:          deps.Transactor,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// Handle processes one raw webhook body from the provider named slug.
// Events that cannot be trusted are logged and dropped with a nil error.
// A non-nil error means the event could not be verified or persisted yet
// and should be retried.
func (r *Reconciler) Handle(ctx context.Context, slug string, raw []byte) error {
	p, err := r.providers.BySlug(ctx, slug)
	if err != nil {
		r.logger.Warn("webhook from unusable provider dropped", "provider", slug, "error", err)
		return nil
	}
	parser, ok := p.(provider.WebhookParser)
	if !ok {
		r.logger.Warn("provider does not parse webhooks", "provider", slug)
		return nil
	}

	ev, err := parser.ParseWebhook(raw)
	if err != nil {
		if errors.Is(err, provider.ErrUnhandledEvent) {
			r.logger.Debug("webhook event ignored", "provider", slug, "error", err)
		} else {
			r.logger.Warn("webhook payload unreadable", "provider", slug, "error", err)
		}
		return nil
	}

	logger := r.logger.With("provider", slug, "event", ev.Name, "reference", ev.Reference)
	switch ev.Kind {
	case provider.KindCollection:
		return r.collection(ctx, p, ev, logger)
	case provider.KindPayout:
		return r.payout(ctx, p, ev, logger)
	case provider.KindVirtualAccount:
		return r.virtualAccount(ctx, p, ev, logger)
	}
	logger.Warn("webhook kind not handled", "kind", ev.Kind)
	return nil
}

// verificationFailed decides what a failed re-check means. A provider that
// answered and rejected the reference makes the event untrustworthy; an
// unreachable provider means the event must be retried.
func verificationFailed(err error, logger *slog.Logger) error {
	var perr *provider.Error
	if errors.As(err, &perr) && perr.Code == provider.CodeRejected {
		logger.Warn("webhook reference not confirmed by provider", "error", err)
		return nil
	}
	logger.Error("webhook verification unavailable", "error", err)
	return fmt.Errorf("verify webhook: %w", err)
}

func (r *Reconciler) collection(ctx context.Context, p provider.PayoutProvider, ev provider.WebhookEvent, logger *slog.Logger) error {
	if ev.Reference == "" {
		logger.Warn("collection webhook without reference")
		return nil
	}
	verifier, ok := p.(provider.CollectionVerifier)
	if !ok {
		logger.Warn("provider cannot verify collections")
		return nil
	}

	st, err := verifier.VerifyCollection(ctx, ev.Reference)
	if err != nil {
		return verificationFailed(err, logger)
	}
	if st.Status != ev.ClaimedStatus {
		logger.Warn("collection status not confirmed", "claimed", ev.ClaimedStatus, "verified", st.Status)
		return nil
	}
	if st.Status == provider.StatusPending {
		return nil
	}
	if st.Status == provider.StatusSuccessful && !st.Amount.IsPositive() {
		logger.Warn("successful collection without verified amount")
		return nil
	}
	if !st.Amount.IsZero() && !ev.Amount.IsZero() && !st.Amount.Equal(ev.Amount) {
		logger.Warn("collection amount not confirmed", "claimed", ev.Amount.String(), "verified", st.Amount.String())
		return nil
	}
	if st.Currency != "" && ev.Currency != "" && !strings.EqualFold(st.Currency, ev.Currency) {
		logger.Warn("collection currency not confirmed", "claimed", ev.Currency, "verified", st.Currency)
		return nil
	}
	if st.VirtualAccount == "" && st.AccountNumber == "" {
		logger.Warn("collection receiving account not confirmed")
		return nil
	}
	if claimDiffers(ev.VirtualAccount, st.VirtualAccount) || claimDiffers(ev.AccountNumber, st.AccountNumber) {
		logger.Warn("collection account not confirmed",
			"claimed_virtual_account", ev.VirtualAccount, "verified_virtual_account", st.VirtualAccount,
			"claimed_account_number", ev.AccountNumber, "verified_account_number", st.AccountNumber)
		return nil
	}
	amount := st.Amount
	currency := strings.ToUpper(firstNonEmpty(st.Currency, ev.Currency))

	va, err := r.collections.FindVirtualAccount(ctx, p.Slug(), st.VirtualAccount, st.AccountNumber)
	if errors.Is(err, collection.ErrVirtualAccountNotFound) {
		logger.Warn("collection for unknown virtual account", "virtual_account", st.VirtualAccount, "account_number", st.AccountNumber)
		return nil
	}
	if err != nil {
		return err
	}
	w, err := r.wallets.Get(ctx, va.WalletID)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		logger.Warn("virtual account wallet missing", "wallet_id", va.WalletID)
		return nil
	}
	if err != nil {
		return err
	}
	logger = logger.With("wallet_id", w.ID)
	if currency != "" && currency != w.Currency {
		logger.Warn("collection currency does not match wallet", "currency", currency, "wallet_currency", w.Currency)
		return nil
	}

	var (
		txn     transaction.Transaction
		applied bool
	)
	err = r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		deposit, err := r.collections.LockOrCreate(ctx, collection.Deposit{
			Reference:           ev.Reference,
			Provider:            p.Slug(),
			VirtualAccountID:    va.ID,
			WalletID:            w.ID,
			Amount:              amount,
			Currency:            w.Currency,
			Status:              collection.DepositPending,
			SenderName:          ev.SenderName,
			SenderAccountNumber: ev.SenderAccountNumber,
			SenderBank:          ev.SenderBank,
			Payload:             payload(ev.Raw),
		})
		if err != nil {
			return err
		}
		if deposit.IsTransactionLogged {
			return nil
		}

		txn, err = r.recordDeposit(ctx, w, p.Slug(), ev, st.Status, amount)
		if err != nil {
			return err
		}
		applied = true
		return r.collections.MarkLogged(ctx, deposit.ID, txn.Status, txn.ID)
	})
	if err != nil {
		logger.Error("collection settlement rolled back", "error", err)
		return err
	}
	if !applied {
		logger.Info("collection already settled")
		return nil
	}

	kind := notification.KindDepositReceived
	if txn.Status == transaction.StatusFailed {
		kind = notification.KindDepositFailed
	}
	logger.Info("collection settled", "status", txn.Status, "amount", amount.String())
	r.notify(ctx, kind, w.ID, w.BusinessID, map[string]any{
		"reference":   ev.Reference,
		"amount":      amount.StringFixed(2),
		"currency":    w.Currency,
		"status":      txn.Status,
		"sender_name": ev.SenderName,
	})
	return nil
}

// recordDeposit writes the deposit's Transaction, crediting the wallet when
// the collection succeeded. It runs inside the settlement unit.
func (r *Reconciler) recordDeposit(ctx context.Context, w wallet.Wallet, slug string, ev provider.WebhookEvent, status string, amount decimal.Decimal) (transaction.Transaction, error) {
	existing, err := r.txns.GetByReference(ctx, ev.Reference)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, transaction.ErrNotFound) {
		return transaction.Transaction{}, err
	}

	locked, err := r.wallets.Lock(ctx, w.ID)
	if err != nil {
		return transaction.Transaction{}, err
	}

	now := r.now().UTC()
	txn := transaction.Transaction{
		ID:                 uuid.NewString(),
		BusinessID:         locked.BusinessID,
		WalletID:           locked.ID,
		Currency:           locked.Currency,
		Category:           transaction.CategoryCredit,
		Type:               transaction.TypeDeposit,
		Method:             transaction.MethodVirtualAccount,
		Reference:          ev.Reference,
		Amount:             amount,
		Processor:          slug,
		ProcessorReference: ev.Reference,
		Status:             transaction.StatusFailed,
		BalanceBefore:      locked.CurrentBalance,
		BalanceAfter:       locked.CurrentBalance,
		Data: map[string]any{
			"sender_name":           ev.SenderName,
			"sender_account_number": ev.SenderAccountNumber,
			"sender_bank":           ev.SenderBank,
			"event":                 ev.Name,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == provider.StatusFailed {
		txn.Data["failure_reason"] = ev.Reason
		return txn, r.txns.Create(ctx, txn)
	}

	txn.Status = transaction.StatusSuccessful
	txn.BalanceAfter = locked.CurrentBalance.Add(amount)
	if err := r.txns.Create(ctx, txn); err != nil {
		return transaction.Transaction{}, err
	}
	_, err = r.wallets.Credit(ctx, wallet.Mutation{
		WalletID:        locked.ID,
		Amount:          amount,
		Reference:       ev.Reference,
		TransactionID:   txn.ID,
		TransactionType: ledger.TypeDeposit,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateEntry) {
		return transaction.Transaction{}, err
	}
	return txn, nil
}

func (r *Reconciler) payout(ctx context.Context, p provider.PayoutProvider, ev provider.WebhookEvent, logger *slog.Logger) error {
	if ev.CustomerReference == "" && ev.Reference == "" {
		logger.Warn("payout webhook without reference")
		return nil
	}
	logger = logger.With("customer_reference", ev.CustomerReference)

	st, err := p.CheckTransactionStatus(ctx, provider.StatusQuery{Reference: ev.CustomerReference, ProcessorReference: ev.Reference})
	if err != nil {
		return verificationFailed(err, logger)
	}
	if st.Status != ev.ClaimedStatus {
		logger.Warn("payout status not confirmed", "claimed", ev.ClaimedStatus, "verified", st.Status)
		return nil
	}
	if st.Status == provider.StatusPending {
		return nil
	}

	// Only identifiers the provider returned select the payout to settle.
	if st.CustomerReference == "" && st.Reference == "" {
		logger.Warn("payout status carries no reference")
		return nil
	}
	if claimDiffers(ev.CustomerReference, st.CustomerReference) || claimDiffers(ev.Reference, st.Reference) {
		logger.Warn("payout reference not confirmed",
			"verified_customer_reference", st.CustomerReference, "claimed_reference", ev.Reference, "verified_reference", st.Reference)
		return nil
	}

	txn, err := r.payouts.Settle(ctx, payout.SettlementInput{
		Reference:          st.CustomerReference,
		ProcessorReference: st.Reference,
		Status:             st.Status,
		Message:            firstNonEmpty(st.Message, ev.Reason),
		Data:               st.Data,
	})
	switch {
	case errors.Is(err, transaction.ErrNotFound):
		logger.Warn("payout webhook for unknown transaction")
		return nil
	case errors.Is(err, payout.ErrReferenceMismatch):
		logger.Warn("payout webhook references do not belong to the same payout")
		return nil
	case errors.Is(err, payout.ErrAlreadySettled):
		logger.Warn("failure reported for a payout already settled as successful")
		return nil
	case err != nil:
		logger.Error("payout settlement failed", "error", err)
		return err
	}
	logger.Info("payout settled", "status", txn.Status, "wallet_id", txn.WalletID)
	return nil
}

func (r *Reconciler) virtualAccount(ctx context.Context, p provider.PayoutProvider, ev provider.WebhookEvent, logger *slog.Logger) error {
	if ev.Reference == "" {
		logger.Warn("virtual account webhook without reference")
		return nil
	}
	verifier, ok := p.(provider.CollectionVerifier)
	if !ok {
		logger.Warn("provider cannot verify virtual accounts")
		return nil
	}

	remote, err := verifier.GetVirtualAccount(ctx, ev.Reference)
	if err != nil {
		return verificationFailed(err, logger)
	}
	if remote.Status != ev.ClaimedStatus {
		logger.Warn("virtual account status not confirmed", "claimed", ev.ClaimedStatus, "verified", remote.Status)
		return nil
	}

	va, err := r.collections.FindVirtualAccount(ctx, p.Slug(), ev.Reference, remote.AccountNumber)
	if errors.Is(err, collection.ErrVirtualAccountNotFound) {
		logger.Warn("webhook for unknown virtual account")
		return nil
	}
	if err != nil {
		return err
	}
	if va.Status == remote.Status {
		return nil
	}

	err = r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		return r.collections.UpdateVirtualAccountStatus(ctx, va.ID, remote.Status)
	})
	if err != nil {
		return err
	}
	logger.Info("virtual account status changed", "from", va.Status, "to", remote.Status, "wallet_id", va.WalletID)

	if w, err := r.wallets.Get(ctx, va.WalletID); err == nil {
		r.notify(ctx, notification.KindAccountStatus, va.ID, w.BusinessID, map[string]any{
			"status":         remote.Status,
			"account_number": va.AccountNumber,
		})
	}
	return nil
}

func (r *Reconciler) notify(ctx context.Context, kind, entity, destination string, data map[string]any) {
	if r.notifier != nil {
		r.notifier.Notify(ctx, kind, entity, destination, data)
	}
}

func payload(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// claimDiffers reports whether a payload claim contradicts the verified value.
// A missing claim or a missing verified value is not a contradiction.
func claimDiffers(claimed, verified string) bool {
	return claimed != "" && verified != "" && !strings.EqualFold(claimed, verified)
}
