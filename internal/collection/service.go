package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bizledger/bizledger/internal/provider"
	"github.com/bizledger/bizledger/internal/wallet"
)

var (
	ErrUnsupportedProvider = errors.New("provider does not issue virtual accounts")
	ErrCurrencyMismatch    = errors.New("virtual account currency does not match wallet")
)

// Wallets is the wallet lookup the service needs.
type Wallets interface {
	Get(ctx context.Context, id string) (wallet.Wallet, error)
}

// Providers resolves a provider by slug.
type Providers interface {
	BySlug(ctx context.Context, slug string) (provider.PayoutProvider, error)
}

// Service attaches provider-issued virtual accounts to wallets.
type Service struct {
	repo      Repository
	wallets   Wallets
	providers Providers
	logger    *slog.Logger
}

// NewService builds a collection service.
func NewService(repo Repository, wallets Wallets, providers Providers, logger *slog.Logger) *Service {
	return &Service{repo: repo, wallets: wallets, providers: providers, logger: logger}
}

// Attach reads the virtual account from the provider and links it to the
// business's wallet. Deposits on it are credited once webhooks confirm them.
func (s *Service) Attach(ctx context.Context, businessID, walletID, slug, providerReference string) (VirtualAccount, error) {
	w, err := s.owned(ctx, businessID, walletID)
	if err != nil {
		return VirtualAccount{}, err
	}

	p, err := s.providers.BySlug(ctx, slug)
	if err != nil {
		return VirtualAccount{}, err
	}
	verifier, ok := p.(provider.CollectionVerifier)
	if !ok {
		return VirtualAccount{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, slug)
	}

	remote, err := verifier.GetVirtualAccount(ctx, providerReference)
	if err != nil {
		s.logger.Error("virtual account lookup failed", "provider", slug, "reference", providerReference, "wallet_id", walletID, "error", err)
		return VirtualAccount{}, err
	}
	if remote.Currency != "" && !strings.EqualFold(remote.Currency, w.Currency) {
		return VirtualAccount{}, ErrCurrencyMismatch
	}

	va := VirtualAccount{
		WalletID:          w.ID,
		ProviderSlug:      slug,
		ProviderReference: providerReference,
		AccountNumber:     remote.AccountNumber,
		BankName:          remote.BankName,
		Currency:          w.Currency,
		Status:            remote.Status,
	}
	if va.Status == "" {
		va.Status = provider.AccountPending
	}
	if err := s.repo.CreateVirtualAccount(ctx, va); err != nil {
		return VirtualAccount{}, err
	}
	return s.repo.FindVirtualAccount(ctx, slug, providerReference, "")
}

// List returns the wallet's virtual accounts.
func (s *Service) List(ctx context.Context, businessID, walletID string) ([]VirtualAccount, error) {
	if _, err := s.owned(ctx, businessID, walletID); err != nil {
		return nil, err
	}
	return s.repo.ListVirtualAccounts(ctx, walletID)
}

func (s *Service) owned(ctx context.Context, businessID, walletID string) (wallet.Wallet, error) {
	w, err := s.wallets.Get(ctx, walletID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	if w.BusinessID != businessID {
		return wallet.Wallet{}, wallet.ErrWalletNotFound
	}
	return w, nil
}
