package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/repositories"
)

// OrderQueryServiceDeps wires the dependencies required by the order query service.
type OrderQueryServiceDeps struct {
	Orders     repositories.OrderRepository
	Authorizer OrderAuthorizer
}

type orderQueryService struct {
	orders     repositories.OrderRepository
	authorizer OrderAuthorizer
}

// NewOrderQueryService constructs an OrderQueryService.
func NewOrderQueryService(deps OrderQueryServiceDeps) (OrderQueryService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order query service: order repository is required")
	}
	if deps.Authorizer == nil {
		return nil, errors.New("order query service: authorizer is required")
	}
	return &orderQueryService{orders: deps.Orders, authorizer: deps.Authorizer}, nil
}

// GetByID loads an order. When owner is non-nil the order must belong to it; a foreign
// order is reported as not found. A nil owner requires the orders:read_all capability.
func (s *orderQueryService) GetByID(ctx context.Context, orderID string, owner *Owner) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	return s.fetch(ctx, owner, func(ctx context.Context) (Order, error) {
		return s.orders.FindByID(ctx, orderID)
	})
}

// GetByNumber loads an order by its human-facing number with the same scoping rules as GetByID.
func (s *orderQueryService) GetByNumber(ctx context.Context, orderNumber string, owner *Owner) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, ErrOrderInvalidInput
	}
	return s.fetch(ctx, owner, func(ctx context.Context) (Order, error) {
		return s.orders.FindByNumber(ctx, orderNumber)
	})
}

// List returns the owner's orders, newest first.
func (s *orderQueryService) List(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error) {
	if filter.Owner.IsZero() {
		return domain.Page[Order]{}, fmt.Errorf("%w: owner is required", ErrOrderInvalidInput)
	}
	return s.list(ctx, filter.Owner.Key(), filter)
}

// ListAll returns orders across all owners. It requires the orders:read_all capability.
func (s *orderQueryService) ListAll(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error) {
	if err := s.authorizer.Authorize(ctx, CapabilityReadAllOrders); err != nil {
		return domain.Page[Order]{}, fmt.Errorf("%w: %v", ErrOrderForbidden, err)
	}
	ownerKey := ""
	if !filter.Owner.IsZero() {
		ownerKey = filter.Owner.Key()
	}
	return s.list(ctx, ownerKey, filter)
}

func (s *orderQueryService) fetch(ctx context.Context, owner *Owner, load func(context.Context) (Order, error)) (Order, error) {
	if owner == nil {
		if err := s.authorizer.Authorize(ctx, CapabilityReadAllOrders); err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderForbidden, err)
		}
	} else if owner.IsZero() {
		return Order{}, fmt.Errorf("%w: owner is required", ErrOrderInvalidInput)
	}

	order, err := load(ctx)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	if owner != nil && order.OwnerKey != owner.Key() {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderQueryService) list(ctx context.Context, ownerKey string, filter OrderListFilter) (domain.Page[Order], error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return domain.Page[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.List(ctx, domain.OrderFilter{
		OwnerKey:   ownerKey,
		Statuses:   filter.Statuses,
		Pagination: filter.Pagination,
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.Page[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.Page[Order]{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return page, nil
}
