package routes

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bizledger/bizledger/internal/business"
	"github.com/bizledger/bizledger/internal/collection"
	"github.com/bizledger/bizledger/internal/config"
	"github.com/bizledger/bizledger/internal/ledger"
	"github.com/bizledger/bizledger/internal/notification"
	"github.com/bizledger/bizledger/internal/payout"
	"github.com/bizledger/bizledger/internal/provider"
	"github.com/bizledger/bizledger/internal/store"
	"github.com/bizledger/bizledger/internal/transaction"
	"github.com/bizledger/bizledger/internal/wallet"
	"github.com/bizledger/bizledger/internal/webhook"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// Services holds the wired domain services shared by the HTTP layer and the
// background workers.
type Services struct {
	Businesses  *business.Service
	Wallets     *wallet.Service
	Collections *collection.Service
	Payouts     *payout.Service
	Providers   *provider.Registry
	Reconciler  *webhook.Reconciler
	Auditor     *wallet.Auditor

	// Queue is nil without Redis; webhooks are then reconciled inline.
	Queue *webhook.Queue
}

// NewServices builds every domain service. Without a database the in-memory
// repositories are used, which is only allowed in development.
func NewServices(d Deps) (*Services, error) {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	var (
		tx             store.Transactor
		businessRepo   business.Repository
		walletRepo     wallet.Repository
		entryRepo      ledger.Repository
		txnRepo        transaction.Repository
		collectionRepo collection.Repository
		catalog        provider.Catalog
	)
	if d.DB != nil {
		tx = store.NewPostgresTransactor(d.DB)
		businessRepo = business.NewPostgresRepository(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		entryRepo = ledger.NewPostgresRepository(d.DB)
		txnRepo = transaction.NewPostgresRepository(d.DB)
		collectionRepo = collection.NewPostgresRepository(d.DB)
		catalog = provider.NewPostgresCatalog(d.DB)
	} else {
		d.Logger.Warn("no database configured, using in-memory storage")
		tx = store.NewMemoryTransactor()
		businessRepo = business.NewMemoryRepository()
		walletRepo = wallet.NewMemoryRepository()
		entryRepo = ledger.NewInMemory()
		txnRepo = transaction.NewMemoryRepository()
		collectionRepo = collection.NewMemoryRepository()
		catalog = provider.NewStaticCatalog(provider.SlugFincra, provider.SlugPaystack)
	}

	registry := provider.NewRegistry(catalog)
	if d.Cfg.Fincra.Enabled() {
		registry.Register(provider.NewFincra(d.Cfg.Fincra, d.Logger), d.Cfg.Fincra.Currencies...)
	}
	if d.Cfg.Paystack.Enabled() {
		registry.Register(provider.NewPaystack(d.Cfg.Paystack, d.Logger), d.Cfg.Paystack.Currencies...)
	}
	if len(registry.Currencies()) == 0 {
		d.Logger.Warn("no payout provider credentials configured, payouts will fail with no_provider")
	}

	refs, err := transaction.NewReferenceGenerator(d.Cfg.ReferencePrefix, d.Cfg.ReferenceSalt)
	if err != nil {
		return nil, fmt.Errorf("reference generator: %w", err)
	}

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}
	dispatcher := notification.NewDispatcher(notifier, d.Logger)

	entries := ledger.NewStore(entryRepo, walletRepo, tx)
	wallets := wallet.NewService(walletRepo, entries, tx)

	payouts := payout.NewService(payout.Dependencies{
		Wallets:      wallets,
		Transactions: txnRepo,
		Providers:    registry,
		Banks:        provider.NewBankCache(d.Cache, d.Cfg.BankCacheTTL, d.Logger),
		References:   refs,
		Transactor:   tx,
		Notifier:     dispatcher,
		Logger:       d.Logger,
	})

	s := &Services{
		Businesses:  business.NewService(businessRepo),
		Wallets:     wallets,
		Collections: collection.NewService(collectionRepo, wallets, registry, d.Logger),
		Payouts:     payouts,
		Providers:   registry,
		Reconciler: webhook.NewReconciler(webhook.Dependencies{
			Providers:    registry,
			Wallets:      wallets,
			Transactions: txnRepo,
			Collections:  collectionRepo,
			Payouts:      payouts,
			Transactor:   tx,
			Notifier:     dispatcher,
			Logger:       d.Logger,
		}),
		Auditor: wallet.NewAuditor(walletRepo, wallets, d.Cfg.ReconcileInterval, d.Logger),
	}
	if d.Cache != nil {
		s.Queue = webhook.NewQueue(d.Cache)
	}
	return s, nil
}

// WebhookWorker returns the background consumer of the webhook queue, or nil
// when there is no queue.
func (s *Services) WebhookWorker(maxAttempts int, logger *slog.Logger) *webhook.Worker {
	if s.Queue == nil {
		return nil
	}
	return webhook.NewWorker(s.Queue, s.Reconciler, maxAttempts, logger)
}
