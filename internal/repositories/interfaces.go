package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Products() ProductRepository
	Orders() OrderRepository
	Coupons() CouponRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories called
// with the context handed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository persists carts and their items.
type CartRepository interface {
	// GetOrCreate returns the owner's cart, creating an empty one on first use.
	GetOrCreate(ctx context.Context, ownerKey string, now time.Time) (domain.Cart, error)
	FindByOwner(ctx context.Context, ownerKey string) (domain.Cart, error)
	// Lines loads cart items joined with live product data.
	Lines(ctx context.Context, cartID string) ([]domain.CartLine, error)
	UpsertItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error)
	UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int, now time.Time) error
	DeleteItem(ctx context.Context, cartID, itemID string) error
	ClearItems(ctx context.Context, cartID string) error
}

// ProductRepository reads product data and applies atomic stock adjustments.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// DecrementStock removes qty units. It reports false, without changing anything, when the
	// product tracks inventory, disallows backorders and holds fewer than qty units.
	DecrementStock(ctx context.Context, productID string, qty int) (bool, error)
	IncrementStock(ctx context.Context, productID string, qty int) error
}

// OrderRepository persists orders and their immutable items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) (domain.Page[domain.Order], error)
	// UpdateStatus applies the update only while the order is still in ExpectedStatus.
	// It reports false when the order moved on concurrently.
	UpdateStatus(ctx context.Context, update domain.OrderStatusUpdate) (bool, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus, updatedAt time.Time) error
	SetPaymentReference(ctx context.Context, orderID, provider, reference string, updatedAt time.Time) error
}

// CouponRepository reads coupons and counts their usage.
type CouponRepository interface {
	// FindByCode matches the normalised code case-insensitively.
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	// IncrementUsage counts one use. It reports false when the usage limit was already reached.
	IncrementUsage(ctx context.Context, couponID string) (bool, error)
}

// CounterRepository provides atomic sequences.
type CounterRepository interface {
	// Next increments and returns the counter value for scope/name, starting at 1.
	Next(ctx context.Context, scope, name string) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
