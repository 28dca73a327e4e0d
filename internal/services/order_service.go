package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/textutil"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	maxTrackingLength      = 128
	maxTrackingURLLength   = 2048
	maxInternalNotesLength = 2000
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid parameters.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the adjacency table forbids the requested status change.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderNotCancellable indicates cancellation was requested past the point of no return.
	ErrOrderNotCancellable = errors.New("order: not cancellable")
	// ErrOrderConflict indicates the order changed concurrently; the caller may reload and retry.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the caller lacks the capability for the operation.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Products   repositories.ProductRepository
	UnitOfWork repositories.UnitOfWork
	Authorizer OrderAuthorizer
	Clock      func() time.Time
	Logger     Logger
}

type orderService struct {
	orders      repositories.OrderRepository
	uow         repositories.UnitOfWork
	authorizer  OrderAuthorizer
	transitions orderTransitioner
	now         func() time.Time
	logger      Logger
}

// NewOrderService constructs an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("order service: unit of work is required")
	}
	if deps.Authorizer == nil {
		return nil, errors.New("order service: authorizer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &orderService{
		orders:      deps.Orders,
		uow:         deps.UnitOfWork,
		authorizer:  deps.Authorizer,
		transitions: orderTransitioner{orders: deps.Orders, products: deps.Products, logger: logger},
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// UpdateStatus is the staff entry point into the state machine. It requires the
// orders:update_status capability.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	if err := s.authorizer.Authorize(ctx, CapabilityUpdateOrderStatus); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderForbidden, err)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(string(cmd.Status))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	opts, err := trackingOptions(cmd)
	if err != nil {
		return Order{}, err
	}

	var (
		previous OrderStatus
		updated  Order
	)
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.load(txCtx, orderID)
		if err != nil {
			return err
		}
		previous = order.Status
		updated, err = s.transitions.apply(txCtx, order, target, s.now(), opts)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.status.updated", map[string]any{
		"orderId": orderID,
		"from":    string(previous),
		"to":      string(updated.Status),
		"actor":   cmd.ActorID,
	})
	return updated, nil
}

// Cancel lets an owner cancel their own order while it still awaits payment.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" || cmd.Owner.IsZero() {
		return Order{}, ErrOrderInvalidInput
	}

	var updated Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.load(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.OwnerKey != cmd.Owner.Key() {
			return ErrOrderNotFound
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, order.Status)
		}
		updated, err = s.transitions.apply(txCtx, order, domain.OrderStatusCancelled, s.now(), transitionOptions{})
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId": orderID,
		"owner":   cmd.Owner.Key(),
	})
	return updated, nil
}

func (s *orderService) load(ctx context.Context, orderID string) (Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return order, nil
}

func trackingOptions(cmd UpdateOrderStatusCommand) (transitionOptions, error) {
	var opts transitionOptions
	if cmd.TrackingNumber != nil {
		value := strings.TrimSpace(*cmd.TrackingNumber)
		if len(value) > maxTrackingLength {
			return opts, fmt.Errorf("%w: tracking number too long", ErrOrderInvalidInput)
		}
		opts.trackingNumber = &value
	}
	if cmd.TrackingURL != nil {
		value := strings.TrimSpace(*cmd.TrackingURL)
		if len(value) > maxTrackingURLLength {
			return opts, fmt.Errorf("%w: tracking url too long", ErrOrderInvalidInput)
		}
		if value != "" && !strings.HasPrefix(value, "https://") && !strings.HasPrefix(value, "http://") {
			return opts, fmt.Errorf("%w: tracking url must be http(s)", ErrOrderInvalidInput)
		}
		opts.trackingURL = &value
	}
	if cmd.InternalNotes != nil {
		value := textutil.SanitizePlainText(*cmd.InternalNotes, maxInternalNotesLength)
		opts.internalNotes = &value
	}
	return opts, nil
}

type transitionOptions struct {
	paymentStatus  *domain.PaymentStatus
	trackingNumber *string
	trackingURL    *string
	internalNotes  *string
}

func (o transitionOptions) hasMetadata() bool {
	return o.paymentStatus != nil || o.trackingNumber != nil || o.trackingURL != nil || o.internalNotes != nil
}

// orderTransitioner applies one state machine step. Callers run it inside a unit of work so
// the status write and any restock commit together.
type orderTransitioner struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	logger   Logger
}

func (t orderTransitioner) apply(ctx context.Context, order Order, target OrderStatus, now time.Time, opts transitionOptions) (Order, error) {
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}
	sameStatus := order.Status == target
	switch {
	case sameStatus && opts.hasMetadata():
	case target == domain.OrderStatusCancelled && !order.Status.RestocksOnCancel():
		return Order{}, fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, order.Status)
	case !order.Status.CanTransitionTo(target):
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, order.Status, target)
	}

	update := domain.OrderStatusUpdate{
		OrderID:        order.ID,
		ExpectedStatus: order.Status,
		Status:         target,
		PaymentStatus:  opts.paymentStatus,
		TrackingNumber: opts.trackingNumber,
		TrackingURL:    opts.trackingURL,
		InternalNotes:  opts.internalNotes,
		UpdatedAt:      now,
	}
	stamp := func(current *time.Time) *time.Time {
		if current != nil {
			return nil
		}
		ts := now
		return &ts
	}
	switch target {
	case domain.OrderStatusPaid:
		update.PaidAt = stamp(order.PaidAt)
	case domain.OrderStatusShipped:
		update.ShippedAt = stamp(order.ShippedAt)
	case domain.OrderStatusDelivered:
		update.DeliveredAt = stamp(order.DeliveredAt)
	case domain.OrderStatusCancelled:
		update.CancelledAt = stamp(order.CancelledAt)
	}

	ok, err := t.orders.UpdateStatus(ctx, update)
	if err != nil {
		if isRepoConflict(err) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
		return Order{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	if !ok {
		return Order{}, fmt.Errorf("%w: order %s is no longer %s", ErrOrderConflict, order.ID, order.Status)
	}

	if target == domain.OrderStatusCancelled && !sameStatus {
		for _, item := range order.Items {
			err := t.products.IncrementStock(ctx, item.ProductID, item.Quantity)
			if err == nil {
				continue
			}
			if isRepoNotFound(err) {
				// The product row is gone; the order item snapshot is all that remains.
				t.log(ctx, "order.restock.skipped.warn", map[string]any{
					"orderId":   order.ID,
					"productId": item.ProductID,
					"quantity":  item.Quantity,
				})
				continue
			}
			return Order{}, fmt.Errorf("%w: restock %s: %v", ErrOrderUnavailable, item.ProductID, err)
		}
	}

	return applyUpdate(order, update), nil
}

func (t orderTransitioner) log(ctx context.Context, event string, fields map[string]any) {
	if t.logger != nil {
		t.logger(ctx, event, fields)
	}
}

func applyUpdate(order Order, update domain.OrderStatusUpdate) Order {
	order.Status = update.Status
	order.UpdatedAt = update.UpdatedAt
	if update.PaymentStatus != nil {
		order.PaymentStatus = *update.PaymentStatus
	}
	if update.TrackingNumber != nil {
		order.TrackingNumber = *update.TrackingNumber
	}
	if update.TrackingURL != nil {
		order.TrackingURL = *update.TrackingURL
	}
	if update.InternalNotes != nil {
		order.InternalNotes = *update.InternalNotes
	}
	if update.PaidAt != nil {
		order.PaidAt = update.PaidAt
	}
	if update.ShippedAt != nil {
		order.ShippedAt = update.ShippedAt
	}
	if update.DeliveredAt != nil {
		order.DeliveredAt = update.DeliveredAt
	}
	if update.CancelledAt != nil {
		order.CancelledAt = update.CancelledAt
	}
	return order
}
