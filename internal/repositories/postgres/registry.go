package postgres

import (
	"context"
	"embed"
	"errors"

	"github.com/hanko-field/storefront/internal/platform/database"
	"github.com/hanko-field/storefront/internal/repositories"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies the embedded schema migrations.
func Migrate(provider *database.Provider) error {
	if provider == nil {
		return errors.New("postgres: provider is required")
	}
	return provider.Migrate(migrationFiles, "migrations")
}

// Registry wires the PostgreSQL repositories behind repositories.Registry.
type Registry struct {
	provider *database.Provider
	carts    *CartRepository
	products *ProductRepository
	orders   *OrderRepository
	coupons  *CouponRepository
	counters *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs all repositories on top of provider.
func NewRegistry(provider *database.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("postgres: provider is required")
	}
	return &Registry{
		provider: provider,
		carts:    NewCartRepository(provider),
		products: NewProductRepository(provider),
		orders:   NewOrderRepository(provider),
		coupons:  NewCouponRepository(provider),
		counters: NewCounterRepository(provider),
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository       { return r.carts }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Coupons() repositories.CouponRepository   { return r.coupons }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// RunInTx delegates to the provider so every repository shares the transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}
