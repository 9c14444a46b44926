package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNoProvider       = errors.New("no payout provider configured for currency")
	ErrUnknownProvider  = errors.New("unknown payout provider")
	ErrProviderInactive = errors.New("payout provider is not active")
)

// ServiceProvider is the catalog row naming a processor and whether it may be used.
type ServiceProvider struct {
	Slug   string
	Name   string
	Active bool
}

// Catalog looks up ServiceProvider rows.
type Catalog interface {
	Get(ctx context.Context, slug string) (ServiceProvider, error)
}

// Registry maps currencies to provider implementations. A provider resolves
// only while its catalog row is active.
type Registry struct {
	mu         sync.RWMutex
	bySlug     map[string]PayoutProvider
	byCurrency map[string]string
	catalog    Catalog
}

// NewRegistry creates an empty registry backed by catalog.
func NewRegistry(catalog Catalog) *Registry {
	return &Registry{
		bySlug:     make(map[string]PayoutProvider),
		byCurrency: make(map[string]string),
		catalog:    catalog,
	}
}

// Register adds p and routes the given currencies to it. A later
// registration for the same currency replaces the earlier one.
func (r *Registry) Register(p PayoutProvider, currencies ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySlug[p.Slug()] = p
	for _, c := range currencies {
		r.byCurrency[strings.ToUpper(c)] = p.Slug()
	}
}

// ForCurrency returns the active provider serving currency.
func (r *Registry) ForCurrency(ctx context.Context, currency string) (PayoutProvider, error) {
	r.mu.RLock()
	slug, ok := r.byCurrency[strings.ToUpper(currency)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, currency)
	}
	return r.BySlug(ctx, slug)
}

// BySlug returns the active provider registered under slug.
func (r *Registry) BySlug(ctx context.Context, slug string) (PayoutProvider, error) {
	r.mu.RLock()
	p, ok := r.bySlug[slug]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, slug)
	}

	row, err := r.catalog.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !row.Active {
		return nil, fmt.Errorf("%w: %s", ErrProviderInactive, slug)
	}
	return p, nil
}

// Currencies lists the currencies with a registered provider.
func (r *Registry) Currencies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byCurrency))
	for c := range r.byCurrency {
		out = append(out, c)
	}
	return out
}

// StaticCatalog is an in-memory catalog used in development and tests.
type StaticCatalog struct {
	mu   sync.RWMutex
	rows map[string]ServiceProvider
}

// NewStaticCatalog marks every slug active.
func NewStaticCatalog(slugs ...string) *StaticCatalog {
	c := &StaticCatalog{rows: make(map[string]ServiceProvider)}
	for _, s := range slugs {
		c.rows[s] = ServiceProvider{Slug: s, Name: s, Active: true}
	}
	return c
}

// SetActive toggles a provider.
func (c *StaticCatalog) SetActive(slug string, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := c.rows[slug]
	row.Slug, row.Active = slug, active
	if row.Name == "" {
		row.Name = slug
	}
	c.rows[slug] = row
}

func (c *StaticCatalog) Get(_ context.Context, slug string) (ServiceProvider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.rows[slug]
	if !ok {
		return ServiceProvider{}, fmt.Errorf("%w: %s", ErrUnknownProvider, slug)
	}
	return row, nil
}

// PostgresCatalog reads the service_providers table.
type PostgresCatalog struct {
	db *pgxpool.Pool
}

// NewPostgresCatalog builds a catalog over the pool.
func NewPostgresCatalog(db *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) Get(ctx context.Context, slug string) (ServiceProvider, error) {
	var row ServiceProvider
	err := c.db.QueryRow(ctx, `SELECT slug, name, active FROM service_providers WHERE slug = $1`, slug).
		Scan(&row.Slug, &row.Name, &row.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return ServiceProvider{}, fmt.Errorf("%w: %s", ErrUnknownProvider, slug)
	}
	return row, err
}
