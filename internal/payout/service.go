// Package payout turns payout requests into a wallet debit, a provider
// transfer and transaction bookkeeping, refunding the wallet when the
// provider definitely rejects the transfer.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bizledger/bizledger/internal/ledger"
	"github.com/bizledger/bizledger/internal/notification"
	"github.com/bizledger/bizledger/internal/provider"
	"github.com/bizledger/bizledger/internal/store"
	"github.com/bizledger/bizledger/internal/transaction"
	"github.com/bizledger/bizledger/internal/wallet"
)

// ErrAlreadySettled is returned when a failure arrives for a payout that already succeeded.
var ErrAlreadySettled = errors.New("payout already settled as successful")

// ErrReferenceMismatch reports a settlement whose processor reference is not
// the one recorded on the payout it names.
var ErrReferenceMismatch = errors.New("settlement processor reference does not match payout")

// Wallets is the wallet accessor surface the orchestrator needs.
type Wallets interface {
	Get(ctx context.Context, id string) (wallet.Wallet, error)
	HasSufficientBalance(ctx context.Context, id string, amount decimal.Decimal) (bool, error)
	Lock(ctx context.Context, id string) (wallet.Wallet, error)
	Debit(ctx context.Context, m wallet.Mutation) (wallet.Wallet, error)
	Credit(ctx context.Context, m wallet.Mutation) (wallet.Wallet, error)
}

// Providers resolves payout providers.
type Providers interface {
	ForCurrency(ctx context.Context, currency string) (provider.PayoutProvider, error)
	BySlug(ctx context.Context, slug string) (provider.PayoutProvider, error)
}

// Banks lists a provider's banks, usually through provider.BankCache.
type Banks interface {
	ListBanks(ctx context.Context, p provider.PayoutProvider, country, currency string) ([]provider.Bank, error)
}

// References issues transaction references.
type References interface {
	New() (string, error)
}

// Notifier is the fire-and-forget notification hook.
type Notifier interface {
	Notify(ctx context.Context, kind, entity, destination string, payload map[string]any)
}

// Dependencies groups the collaborators of Service.
type Dependencies struct {
	Wallets      Wallets
	Transactions transaction.Repository
	Providers    Providers
	Banks        Banks
	References   References
	Transactor   store.Transactor
	Notifier     Notifier
	Logger       *slog.Logger
}

// Service orchestrates payouts and their settlement.
type Service struct {
	wallets   Wallets
	txns      transaction.Repository
	providers Providers
	banks     Banks
	refs      References
	tx        store.Transactor
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a payout service.
func NewService(deps Dependencies) *Service {
	return &Service{
		wallets:   deps.Wallets,
		txns:      deps.Transactions,
		providers: deps.Providers,
		banks:     deps.Banks,
		refs:      deps.References,
		tx:        deps.Transactor,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// Request is a bank payout instruction from a business.
type Request struct {
	BusinessID    string
	WalletID      string
	Amount        decimal.Decimal
	Bank          provider.BankDetails
	Narration     string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// Result is returned for an accepted payout.
type Result struct {
	Success            bool
	Reference          string
	ProcessorReference string
	Status             string
	Amount             decimal.Decimal
	Currency           string
	Provider           string
	AccountName        string
}

// PayoutToBank debits the wallet and submits the transfer. A definite provider
// rejection refunds the wallet before the error is returned; an ambiguous
// outcome leaves the transaction pending and returns CodeOutcomeUnknown.
func (s *Service) PayoutToBank(ctx context.Context, req Request) (Result, error) {
	w, err := s.wallets.Get(ctx, req.WalletID)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return Result{}, newError(CodeWalletNotFound, "wallet not found", err)
		}
		return Result{}, err
	}
	if w.BusinessID != req.BusinessID {
		return Result{}, newError(CodeUnauthorizedWallet, "wallet does not belong to business", nil)
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2)) {
		return Result{}, newError(CodeInvalidAmount, "amount must be greater than zero with at most two decimal places", nil)
	}
	ok, err := s.wallets.HasSufficientBalance(ctx, w.ID, req.Amount)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, newError(CodeInsufficientFunds, "insufficient wallet balance", nil)
	}
	if req.Bank.Currency == "" {
		req.Bank.Currency = w.Currency
	}
	if !strings.EqualFold(req.Bank.Currency, w.Currency) {
		return Result{}, newError(CodeCurrencyMismatch,
			fmt.Sprintf("bank currency %s does not match wallet currency %s", strings.ToUpper(req.Bank.Currency), w.Currency), nil)
	}

	p, err := s.providers.ForCurrency(ctx, w.Currency)
	if err != nil {
		return Result{}, newError(CodeNoProvider, "no payout provider available for "+w.Currency, err)
	}

	account, err := p.VerifyBankAccount(ctx, req.Bank.AccountNumber, req.Bank.BankCode, w.Currency, req.Bank.AccountType)
	if err != nil || account.AccountName == "" {
		s.logger.Warn("account verification failed",
			"provider", p.Slug(), "wallet_id", w.ID, "bank_code", req.Bank.BankCode, "error", err)
		return Result{}, newError(CodeVerificationFailed, "bank account could not be verified", err)
	}
	req.Bank.AccountName = account.AccountName

	reference, err := s.refs.New()
	if err != nil {
		return Result{}, fmt.Errorf("generate reference: %w", err)
	}

	txn, err := s.debit(ctx, w, p.Slug(), reference, req)
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			return Result{}, newError(CodeInsufficientFunds, "insufficient wallet balance", err)
		}
		return Result{}, err
	}

	result := Result{
		Reference:   reference,
		Status:      transaction.StatusPending,
		Amount:      req.Amount,
		Currency:    w.Currency,
		Provider:    p.Slug(),
		AccountName: account.AccountName,
	}

	res, err := p.BankTransfer(ctx, provider.TransferRequest{
		SourceWallet:         w.ID,
		Bank:                 req.Bank,
		Amount:               req.Amount,
		Currency:             w.Currency,
		Reference:            reference,
		Narration:            req.Narration,
		Metadata:             map[string]any{"wallet_id": w.ID, "business_id": w.BusinessID},
		NameEnquiryReference: account.NameEnquiryReference,
		Customer:             provider.Customer{Name: req.CustomerName, Email: req.CustomerEmail, Phone: req.CustomerPhone},
	})
	if err != nil {
		logger := s.logger.With("provider", p.Slug(), "reference", reference, "wallet_id", w.ID)
		if provider.IsAmbiguous(err) {
			logger.Warn("payout outcome unknown, awaiting settlement", "error", err)
			s.recordAmbiguity(ctx, reference, err)
			perr := newError(CodeOutcomeUnknown, "payout submitted but its outcome is not yet known", err)
			perr.Reference = reference
			return result, perr
		}

		logger.Error("payout rejected by provider", "error", err)
		return Result{}, s.fail(ctx, reference, err, providerDetails(err))
	}

	if res.Status == provider.StatusFailed {
		err := &provider.Error{Provider: p.Slug(), Code: provider.CodeRejected, Message: firstNonEmpty(res.Message, "transfer failed"), Data: res.Data}
		s.logger.Error("payout reported failed by provider", "provider", p.Slug(), "reference", reference, "wallet_id", w.ID)
		return Result{}, s.fail(ctx, reference, err, providerDetails(err))
	}

	status := res.Status
	if status != transaction.StatusSuccessful {
		status = transaction.StatusPending
	}
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		current, err := s.txns.GetByReferenceForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			// a webhook settled it while the submit call was in flight
			status = current.Status
			return nil
		}
		current.ProcessorReference = res.Reference
		current.Status = status
		current.Merge(map[string]any{"provider_response": res.Data, "provider_message": res.Message})
		return s.txns.Update(ctx, current)
	})
	if err != nil {
		s.logger.Error("payout submitted but transaction update failed",
			"provider", p.Slug(), "reference", reference, "processor_reference", res.Reference, "error", err)
		return Result{}, err
	}
	switch status {
	case transaction.StatusFailed:
		perr := newError(CodeProviderError, "payout failed at provider", nil)
		perr.Reference = reference
		return Result{}, perr
	case transaction.StatusSuccessful:
		s.notify(ctx, notification.KindPayoutSuccessful, txn, nil)
	}

	result.Success = true
	result.Status = status
	result.ProcessorReference = res.Reference
	return result, nil
}

// debit creates the pending transaction and debits the wallet in one unit.
func (s *Service) debit(ctx context.Context, w wallet.Wallet, slug, reference string, req Request) (transaction.Transaction, error) {
	var txn transaction.Transaction
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.wallets.Lock(ctx, w.ID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		txn = transaction.Transaction{
			ID:            uuid.NewString(),
			BusinessID:    locked.BusinessID,
			WalletID:      locked.ID,
			Currency:      locked.Currency,
			Category:      transaction.CategoryDebit,
			Type:          transaction.TypeWithdrawal,
			Method:        transaction.MethodBankTransfer,
			Reference:     reference,
			Amount:        req.Amount.Neg(),
			Processor:     slug,
			Status:        transaction.StatusPending,
			BalanceBefore: locked.CurrentBalance,
			BalanceAfter:  locked.CurrentBalance,
			Data: map[string]any{
				"account_number": req.Bank.AccountNumber,
				"account_name":   req.Bank.AccountName,
				"bank_code":      req.Bank.BankCode,
				"bank_name":      req.Bank.BankName,
				"narration":      req.Narration,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.txns.Create(ctx, txn); err != nil {
			return err
		}

		debited, err := s.wallets.Debit(ctx, wallet.Mutation{
			WalletID:        locked.ID,
			Amount:          req.Amount,
			Reference:       reference,
			TransactionID:   txn.ID,
			TransactionType: ledger.TypeWithdrawal,
		})
		if err != nil {
			return err
		}

		txn.BalanceAfter = debited.CurrentBalance
		return s.txns.Update(ctx, txn)
	})
	return txn, err
}

// fail compensates a definitely failed payout and builds the caller's error.
func (s *Service) fail(ctx context.Context, reference string, cause error, details map[string]any) error {
	if _, err := s.Compensate(ctx, reference, details); err != nil {
		s.logger.Error("payout compensation failed", "reference", reference, "error", err)
		perr := newError(CodeProviderError, providerMessage(cause), errors.Join(cause, err))
		perr.Reference = reference
		return perr
	}
	perr := newError(CodeProviderError, providerMessage(cause), cause)
	perr.Reference = reference
	return perr
}

func (s *Service) recordAmbiguity(ctx context.Context, reference string, cause error) {
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		txn, err := s.txns.GetByReferenceForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		if txn.IsTerminal() {
			return nil
		}
		txn.Merge(map[string]any{
			"outcome":        provider.CodeOutcomeUnknown,
			"provider_error": cause.Error(),
			"submitted_at":   s.now().UTC().Format(time.RFC3339),
		})
		return s.txns.Update(ctx, txn)
	})
	if err != nil {
		s.logger.Error("could not record ambiguous payout", "reference", reference, "error", err)
	}
}

// Compensate marks the payout failed and refunds its wallet under
// reference+"-refund". It reports whether a refund was made; a payout that
// is already failed is left alone, so repeated calls refund at most once.
func (s *Service) Compensate(ctx context.Context, reference string, details map[string]any) (bool, error) {
	_, refunded, err := s.compensate(ctx, s.byReference(reference), details)
	return refunded, err
}

func (s *Service) byReference(reference string) func(context.Context) (transaction.Transaction, error) {
	return func(ctx context.Context) (transaction.Transaction, error) {
		return s.txns.GetByReferenceForUpdate(ctx, reference)
	}
}

func (s *Service) compensate(ctx context.Context, locate func(context.Context) (transaction.Transaction, error), details map[string]any) (transaction.Transaction, bool, error) {
	var (
		txn      transaction.Transaction
		refunded bool
	)
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		txn, err = locate(ctx)
		if err != nil {
			return err
		}
		switch txn.Status {
		case transaction.StatusFailed:
			return nil
		case transaction.StatusSuccessful:
			return ErrAlreadySettled
		}

		refundRef := txn.Reference + "-refund"
		txn.Status = transaction.StatusFailed
		txn.Merge(details)
		txn.Merge(map[string]any{"refund_reference": refundRef})
		if err := s.txns.Update(ctx, txn); err != nil {
			return err
		}

		_, err = s.wallets.Credit(ctx, wallet.Mutation{
			WalletID:        txn.WalletID,
			Amount:          txn.Amount.Abs(),
			Reference:       refundRef,
			TransactionID:   txn.ID,
			TransactionType: ledger.TypeRefund,
		})
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			return nil
		}
		if err != nil {
			return err
		}
		refunded = true
		return nil
	})
	if err != nil {
		return transaction.Transaction{}, false, err
	}
	if refunded {
		s.logger.Info("payout refunded", "reference", txn.Reference, "wallet_id", txn.WalletID, "amount", txn.Amount.Abs().String())
		s.notify(ctx, notification.KindPayoutFailed, txn, details)
	}
	return txn, refunded, nil
}

// SettlementInput is an authoritative payout status, already verified with the provider.
type SettlementInput struct {
	Reference          string
	ProcessorReference string
	Status             string
	Message            string
	Data               map[string]any
}

// Settle applies a verified provider status to a pending payout. Successful
// payouts are marked successful, failed ones go through Compensate, and
// payouts already in a terminal status are returned unchanged.
func (s *Service) Settle(ctx context.Context, in SettlementInput) (transaction.Transaction, error) {
	find := s.byReference(in.Reference)
	if in.Reference == "" {
		find = func(ctx context.Context) (transaction.Transaction, error) {
			return s.txns.GetByProcessorReferenceForUpdate(ctx, in.ProcessorReference)
		}
	}
	locate := func(ctx context.Context) (transaction.Transaction, error) {
		txn, err := find(ctx)
		if err != nil {
			return txn, err
		}
		if in.ProcessorReference != "" && txn.ProcessorReference != "" && txn.ProcessorReference != in.ProcessorReference {
			return transaction.Transaction{}, ErrReferenceMismatch
		}
		return txn, nil
	}

	if in.Status == transaction.StatusFailed {
		details := map[string]any{"settlement": in.Data, "failure_reason": in.Message}
		txn, _, err := s.compensate(ctx, locate, details)
		return txn, err
	}

	var (
		txn     transaction.Transaction
		settled bool
	)
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		txn, err = locate(ctx)
		if err != nil {
			return err
		}
		if txn.IsTerminal() || in.Status != transaction.StatusSuccessful {
			return nil
		}
		txn.Status = transaction.StatusSuccessful
		if txn.ProcessorReference == "" {
			txn.ProcessorReference = in.ProcessorReference
		}
		txn.Merge(map[string]any{"settlement": in.Data})
		settled = true
		return s.txns.Update(ctx, txn)
	})
	if err != nil {
		return transaction.Transaction{}, err
	}
	if settled {
		s.notify(ctx, notification.KindPayoutSuccessful, txn, nil)
	}
	return txn, nil
}

// Get returns the business's payout transaction.
func (s *Service) Get(ctx context.Context, businessID, reference string) (transaction.Transaction, error) {
	txn, err := s.txns.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, transaction.ErrNotFound) {
			return transaction.Transaction{}, newError(CodeTransactionNotFound, "transaction not found", err)
		}
		return transaction.Transaction{}, err
	}
	if txn.BusinessID != businessID {
		return transaction.Transaction{}, newError(CodeTransactionNotFound, "transaction not found", transaction.ErrNotFound)
	}
	return txn, nil
}

// Requery asks the provider for the payout's current status and settles it.
func (s *Service) Requery(ctx context.Context, businessID, reference string) (transaction.Transaction, error) {
	txn, err := s.Get(ctx, businessID, reference)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if txn.IsTerminal() || txn.Type != transaction.TypeWithdrawal {
		return txn, nil
	}

	p, err := s.providers.BySlug(ctx, txn.Processor)
	if err != nil {
		return transaction.Transaction{}, newError(CodeNoProvider, "payout provider unavailable", err)
	}
	st, err := p.CheckTransactionStatus(ctx, provider.StatusQuery{Reference: txn.Reference, ProcessorReference: txn.ProcessorReference})
	if err != nil {
		s.logger.Warn("payout status check failed", "provider", p.Slug(), "reference", reference, "wallet_id", txn.WalletID, "error", err)
		return transaction.Transaction{}, newError(CodeProviderError, providerMessage(err), err)
	}
	if st.Status == provider.StatusPending {
		return txn, nil
	}

	return s.Settle(ctx, SettlementInput{
		Reference:          txn.Reference,
		ProcessorReference: firstNonEmpty(txn.ProcessorReference, st.Reference),
		Status:             st.Status,
		Message:            st.Message,
		Data:               st.Data,
	})
}

// ListBanks returns the banks reachable for currency.
func (s *Service) ListBanks(ctx context.Context, country, currency string) ([]provider.Bank, error) {
	p, err := s.providers.ForCurrency(ctx, currency)
	if err != nil {
		return nil, newError(CodeNoProvider, "no payout provider available for "+strings.ToUpper(currency), err)
	}
	banks, err := s.banks.ListBanks(ctx, p, country, currency)
	if err != nil {
		return nil, newError(CodeProviderError, providerMessage(err), err)
	}
	return banks, nil
}

// VerifyAccount resolves the holder name of a bank account.
func (s *Service) VerifyAccount(ctx context.Context, currency, accountNumber, bankCode, accountType string) (provider.AccountInfo, error) {
	p, err := s.providers.ForCurrency(ctx, currency)
	if err != nil {
		return provider.AccountInfo{}, newError(CodeNoProvider, "no payout provider available for "+strings.ToUpper(currency), err)
	}
	info, err := p.VerifyBankAccount(ctx, accountNumber, bankCode, strings.ToUpper(currency), accountType)
	if err != nil {
		return provider.AccountInfo{}, newError(CodeVerificationFailed, "bank account could not be verified", err)
	}
	return info, nil
}

func (s *Service) notify(ctx context.Context, kind string, txn transaction.Transaction, extra map[string]any) {
	if s.notifier == nil {
		return
	}
	payload := map[string]any{
		"reference": txn.Reference,
		"wallet_id": txn.WalletID,
		"amount":    txn.Amount.Abs().StringFixed(2),
		"currency":  txn.Currency,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.notifier.Notify(ctx, kind, txn.ID, txn.BusinessID, payload)
}

func providerDetails(err error) map[string]any {
	details := map[string]any{"provider_error": err.Error()}
	var perr *provider.Error
	if errors.As(err, &perr) {
		details["provider_code"] = perr.Code
		details["provider_message"] = perr.Message
		if perr.Data != nil {
			details["provider_response"] = perr.Data
		}
	}
	return details
}

func providerMessage(err error) string {
	var perr *provider.Error
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	return "payout provider request failed"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
