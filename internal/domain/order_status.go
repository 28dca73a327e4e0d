package domain

import "strings"

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates the gateway confirmed payment.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the payment was returned to the customer.
	OrderStatusRefunded OrderStatus = "refunded"
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPaid, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusPaid:       {OrderStatusProcessing, OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// statuses that give back reserved stock when the order is cancelled.
var restockOnCancel = map[OrderStatus]struct{}{
	OrderStatusPending: {},
	OrderStatusPaid:    {},
}

// ParseOrderStatus normalises raw input into a known status.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := orderStateTransitions[status]; !ok {
		return "", false
	}
	return status, true
}

// Valid reports whether the status is part of the closed set.
func (s OrderStatus) Valid() bool {
	_, ok := orderStateTransitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	next, ok := orderStateTransitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether the adjacency table allows moving to target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, candidate := range orderStateTransitions[s] {
		if candidate == target {
			return true
		}
	}
	return false
}

// RestocksOnCancel reports whether cancelling from this status returns items to stock.
func (s OrderStatus) RestocksOnCancel() bool {
	_, ok := restockOnCancel[s]
	return ok
}

// PaymentStatus mirrors the gateway's view of the payment.
type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusApproved    PaymentStatus = "approved"
	PaymentStatusAuthorized  PaymentStatus = "authorized"
	PaymentStatusInProcess   PaymentStatus = "in_process"
	PaymentStatusInMediation PaymentStatus = "in_mediation"
	PaymentStatusRejected    PaymentStatus = "rejected"
	PaymentStatusCancelled   PaymentStatus = "cancelled"
	PaymentStatusRefunded    PaymentStatus = "refunded"
	PaymentStatusChargedBack PaymentStatus = "charged_back"
)

// OrderStatusForPayment maps a gateway payment status onto the order lifecycle.
// The boolean is false for statuses the lifecycle does not know about.
func OrderStatusForPayment(status PaymentStatus) (OrderStatus, bool) {
	switch status {
	case PaymentStatusApproved, PaymentStatusAuthorized:
		return OrderStatusPaid, true
	case PaymentStatusPending, PaymentStatusInProcess, PaymentStatusInMediation:
		return OrderStatusPending, true
	case PaymentStatusRejected, PaymentStatusCancelled:
		return OrderStatusCancelled, true
	case PaymentStatusRefunded, PaymentStatusChargedBack:
		return OrderStatusRefunded, true
	default:
		return "", false
	}
}
