package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	reconcilerMeterName  = "github.com/hanko-field/storefront/internal/services"
	maxReconcileAttempts = 3
)

var (
	// ErrReconcileInvalidNotification indicates the notification names no payment.
	ErrReconcileInvalidNotification = errors.New("reconcile: invalid notification")
	// ErrReconcileGatewayUnavailable indicates the payment could not be re-fetched; the gateway should retry.
	ErrReconcileGatewayUnavailable = errors.New("reconcile: gateway unavailable")
	// ErrReconcileUnavailable indicates the order store failed; the gateway should retry.
	ErrReconcileUnavailable = errors.New("reconcile: unavailable")
)

// PaymentReconcilerDeps wires the dependencies required by the reconciler.
type PaymentReconcilerDeps struct {
	Orders     repositories.OrderRepository
	Products   repositories.ProductRepository
	UnitOfWork repositories.UnitOfWork
	Payments   PaymentGateway
	Meter      metric.Meter
	Clock      func() time.Time
	Logger     Logger
}

type paymentReconciler struct {
	orders      repositories.OrderRepository
	uow         repositories.UnitOfWork
	payments    PaymentGateway
	transitions orderTransitioner
	outcomes    metric.Int64Counter
	now         func() time.Time
	logger      Logger
}

// NewPaymentReconciler constructs a PaymentReconciler.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("payment reconciler: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("payment reconciler: product repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("payment reconciler: unit of work is required")
	case deps.Payments == nil:
		return nil, errors.New("payment reconciler: payment gateway is required")
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(reconcilerMeterName)
	}
	outcomes, err := meter.Int64Counter(
		"payments.reconcile.outcomes",
		metric.WithDescription("Payment notifications processed, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("payment reconciler: create counter: %w", err)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &paymentReconciler{
		orders:      deps.Orders,
		uow:         deps.UnitOfWork,
		payments:    deps.Payments,
		transitions: orderTransitioner{orders: deps.Orders, products: deps.Products, logger: logger},
		outcomes:    outcomes,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Reconcile re-fetches the payment named by note and moves the order along the state machine.
// Only the fetched payment is trusted; the notification merely says which payment to fetch.
// Replays converge on the same state: transitions are conditional on the current status and
// never move an order backwards.
func (r *paymentReconciler) Reconcile(ctx context.Context, note payments.Notification) (ReconcileResult, error) {
	paymentID := strings.TrimSpace(note.PaymentID)
	if paymentID == "" {
		return ReconcileResult{}, ErrReconcileInvalidNotification
	}
	result := ReconcileResult{PaymentID: paymentID}

	payment, err := r.payments.FetchPayment(ctx, note.Provider, paymentID)
	if err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			r.logger(ctx, "payments.reconcile.payment_not_found.error", map[string]any{
				"paymentId": paymentID,
				"eventId":   note.EventID,
			})
			return r.finish(ctx, result, ReconcilePaymentNotFound), nil
		}
		r.logger(ctx, "payments.reconcile.fetch.failed", map[string]any{
			"paymentId": paymentID,
			"error":     err,
		})
		r.record(ctx, "gateway_unavailable")
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileGatewayUnavailable, err)
	}
	result.PaymentStatus = payment.Status

	orderID := strings.TrimSpace(payment.CorrelationID)
	if hinted := strings.TrimSpace(note.CorrelationID); hinted != "" && orderID != "" && hinted != orderID {
		r.logger(ctx, "payments.reconcile.correlation_mismatch.warn", map[string]any{
			"paymentId": paymentID,
			"notified":  hinted,
			"gateway":   orderID,
		})
	}
	if orderID == "" {
		orderID = strings.TrimSpace(note.CorrelationID)
	}
	result.OrderID = orderID
	if orderID == "" {
		r.logger(ctx, "payments.reconcile.order_not_found.error", map[string]any{
			"paymentId": paymentID,
			"reason":    "no correlation id",
		})
		return r.finish(ctx, result, ReconcileOrderNotFound), nil
	}

	target, known := domain.OrderStatusForPayment(payment.Status)
	if !known {
		r.logger(ctx, "payments.reconcile.unknown_status.warn", map[string]any{
			"paymentId": paymentID,
			"orderId":   orderID,
			"status":    string(payment.Status),
			"raw":       payment.RawStatus,
		})
		return r.finish(ctx, result, ReconcileUnknownStatus), nil
	}

	var outcome ReconcileOutcome
	for attempt := 1; ; attempt++ {
		err = r.uow.RunInTx(ctx, func(txCtx context.Context) error {
			order, err := r.orders.FindByID(txCtx, orderID)
			if err != nil {
				return err
			}
			result.PreviousStatus = order.Status
			result.Status = order.Status
			outcome, result.Status, err = r.apply(txCtx, order, payment, target)
			return err
		})
		// A concurrent delivery moved the order first; the next attempt sees its result.
		if !errors.Is(err, ErrOrderConflict) || attempt >= maxReconcileAttempts {
			break
		}
		r.logger(ctx, "payments.reconcile.conflict", map[string]any{
			"paymentId": paymentID,
			"orderId":   orderID,
			"attempt":   attempt,
		})
	}
	if err != nil {
		if isRepoNotFound(err) {
			r.logger(ctx, "payments.reconcile.order_not_found.error", map[string]any{
				"paymentId": paymentID,
				"orderId":   orderID,
			})
			return r.finish(ctx, result, ReconcileOrderNotFound), nil
		}
		r.logger(ctx, "payments.reconcile.failed", map[string]any{
			"paymentId": paymentID,
			"orderId":   orderID,
			"error":     err,
		})
		r.record(ctx, "retry")
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileUnavailable, err)
	}

	r.logger(ctx, "payments.reconcile.applied", map[string]any{
		"paymentId":     paymentID,
		"orderId":       orderID,
		"paymentStatus": string(payment.Status),
		"from":          string(result.PreviousStatus),
		"to":            string(result.Status),
		"outcome":       string(outcome),
	})
	return r.finish(ctx, result, outcome), nil
}

func (r *paymentReconciler) apply(ctx context.Context, order Order, payment payments.Payment, target OrderStatus) (ReconcileOutcome, OrderStatus, error) {
	status := payment.Status
	now := r.now()

	if target == domain.OrderStatusPaid && (order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusRefunded) {
		// Money was captured for an order that is already closed. The status stays put but the
		// payment status is recorded so staff can refund.
		if order.PaymentStatus != status {
			if _, err := r.transitions.apply(ctx, order, order.Status, now, transitionOptions{paymentStatus: &status}); err != nil {
				return "", order.Status, err
			}
		}
		r.logger(ctx, "payments.reconcile.paid_after_close.error", map[string]any{
			"orderId":       order.ID,
			"paymentId":     payment.ID,
			"orderStatus":   string(order.Status),
			"paymentStatus": string(status),
			"amount":        payment.Amount,
		})
		return ReconcilePaidAfterClose, order.Status, nil
	}

	if target == domain.OrderStatusPaid && !amountMatches(order, payment) {
		r.logger(ctx, "payments.reconcile.amount_mismatch.error", map[string]any{
			"orderId":         order.ID,
			"paymentId":       payment.ID,
			"orderTotal":      order.Totals.Total,
			"orderCurrency":   order.Currency,
			"paymentAmount":   payment.Amount,
			"paymentCurrency": payment.Currency,
		})
		return ReconcileAmountMismatch, order.Status, nil
	}

	if order.Status == target {
		if order.PaymentStatus == status {
			return ReconcileUnchanged, order.Status, nil
		}
		if _, err := r.transitions.apply(ctx, order, target, now, transitionOptions{paymentStatus: &status}); err != nil {
			return "", order.Status, err
		}
		return ReconcilePaymentRefreshed, order.Status, nil
	}

	if !order.Status.CanTransitionTo(target) || (target == domain.OrderStatusCancelled && !order.Status.RestocksOnCancel()) {
		// Stale or out-of-order delivery: the order is already further along.
		r.logger(ctx, "payments.reconcile.stale.warn", map[string]any{
			"orderId":       order.ID,
			"paymentId":     payment.ID,
			"orderStatus":   string(order.Status),
			"paymentStatus": string(status),
		})
		return ReconcileStale, order.Status, nil
	}

	updated, err := r.transitions.apply(ctx, order, target, now, transitionOptions{paymentStatus: &status})
	if err != nil {
		return "", order.Status, err
	}
	return ReconcileTransitioned, updated.Status, nil
}

func (r *paymentReconciler) finish(ctx context.Context, result ReconcileResult, outcome ReconcileOutcome) ReconcileResult {
	result.Outcome = outcome
	r.record(ctx, string(outcome))
	return result
}

func (r *paymentReconciler) record(ctx context.Context, outcome string) {
	r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func amountMatches(order Order, payment payments.Payment) bool {
	if payment.Amount != order.Totals.Total {
		return false
	}
	return payment.Currency == "" || strings.EqualFold(payment.Currency, order.Currency)
}
