package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Owner         = domain.Owner
	Order         = domain.Order
	OrderItem     = domain.OrderItem
	OrderStatus   = domain.OrderStatus
	PaymentStatus = domain.PaymentStatus
	Address       = domain.Address
	Pagination    = domain.Pagination
)

// Logger receives structured service events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CartService manages the owner's mutable cart.
type CartService interface {
	GetCart(ctx context.Context, owner Owner) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error)
	RemoveItem(ctx context.Context, owner Owner, itemID string) (CartView, error)
}

// CouponService validates coupon codes against a candidate subtotal.
type CouponService interface {
	Validate(ctx context.Context, code string, subtotal int64, now time.Time) (CouponQuote, error)
	PreviewForCart(ctx context.Context, owner Owner, code string) (CouponQuote, error)
}

// CheckoutService converts carts into orders and opens gateway payments for them.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error)
	RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (PlacedOrder, error)
}

// OrderService applies status changes through the order state machine.
type OrderService interface {
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// OrderQueryService serves order reads for customers and staff.
type OrderQueryService interface {
	GetByID(ctx context.Context, orderID string, owner *Owner) (Order, error)
	GetByNumber(ctx context.Context, orderNumber string, owner *Owner) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error)
	ListAll(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error)
}

// PaymentReconciler folds gateway notifications into order state.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, note payments.Notification) (ReconcileResult, error)
}

// NotificationDispatcher hands order confirmations to background delivery.
type NotificationDispatcher interface {
	EnqueueOrderConfirmation(ctx context.Context, msg OrderConfirmation) error
}

// NotificationSender delivers order confirmations to the external notification collaborator.
type NotificationSender interface {
	SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error
}

// OrderAuthorizer checks staff capabilities for the identity carried by ctx.
type OrderAuthorizer interface {
	Authorize(ctx context.Context, capability string) error
}

// Capabilities required by staff-only order operations.
const (
	CapabilityReadAllOrders     = "orders:read_all"
	CapabilityUpdateOrderStatus = "orders:update_status"
)

// PaymentGateway abstracts payments.Manager.
type PaymentGateway interface {
	Default() string
	CreatePaymentIntent(ctx context.Context, provider string, req payments.IntentRequest) (payments.Intent, error)
	FetchPayment(ctx context.Context, provider, paymentID string) (payments.Payment, error)
}

// CartView is the priced, read-only projection of a cart.
type CartView struct {
	ID          string
	Currency    string
	Items       []CartViewItem
	Subtotal    int64
	WeightGrams int
	UpdatedAt   time.Time
}

// CartViewItem joins a cart line with live product pricing.
type CartViewItem struct {
	ItemID        string
	ProductID     string
	SKU           string
	Name          string
	Quantity      int
	UnitPrice     int64
	PriceSnapshot int64
	LineTotal     int64
	Available     bool
}

// AddCartItemCommand adds quantity units of a product to the owner's cart.
type AddCartItemCommand struct {
	Owner     Owner
	ProductID string
	Quantity  int
}

// UpdateCartItemCommand replaces the quantity of one cart line.
type UpdateCartItemCommand struct {
	Owner    Owner
	ItemID   string
	Quantity int
}

// CouponQuote is the outcome of a successful coupon validation.
type CouponQuote struct {
	CouponID     string
	Code         string
	DiscountType domain.DiscountType
	Subtotal     int64
	Discount     int64
}

// PlaceOrderCommand carries checkout input. CartID is optional and, when given, must match the owner's cart.
type PlaceOrderCommand struct {
	Owner           Owner
	CartID          string
	Email           string
	ShippingAddress Address
	Zone            domain.ShippingZone
	CouponCode      string
	Notes           string
	SuccessURL      string
	CancelURL       string
	IdempotencyKey  string
}

// RetryPaymentCommand reopens a gateway payment for a pending order.
type RetryPaymentCommand struct {
	OrderID    string
	Owner      Owner
	SuccessURL string
	CancelURL  string
}

// PlacedOrder is returned to the customer after checkout.
type PlacedOrder struct {
	OrderID          string
	OrderNumber      string
	Status           OrderStatus
	Currency         string
	Totals           domain.OrderTotals
	PaymentProvider  string
	PaymentReference string
	RedirectURL      string
	PaymentExpiresAt time.Time
}

// UpdateOrderStatusCommand is an administrative status change with optional tracking metadata.
type UpdateOrderStatusCommand struct {
	OrderID        string
	Status         OrderStatus
	TrackingNumber *string
	TrackingURL    *string
	InternalNotes  *string
	ActorID        string
}

// CancelOrderCommand is a customer cancellation of their own order.
type CancelOrderCommand struct {
	OrderID string
	Owner   Owner
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Owner      Owner
	Statuses   []OrderStatus
	Pagination Pagination
}

// ReconcileOutcome names what the reconciler did with a notification.
type ReconcileOutcome string

const (
	ReconcileTransitioned     ReconcileOutcome = "transitioned"
	ReconcilePaymentRefreshed ReconcileOutcome = "payment_status_refreshed"
	ReconcileUnchanged        ReconcileOutcome = "unchanged"
	ReconcileStale            ReconcileOutcome = "stale"
	ReconcileUnknownStatus    ReconcileOutcome = "unknown_status"
	ReconcileAmountMismatch   ReconcileOutcome = "amount_mismatch"
	ReconcileOrderNotFound    ReconcileOutcome = "order_not_found"
	ReconcilePaymentNotFound  ReconcileOutcome = "payment_not_found"
	// ReconcilePaidAfterClose flags a captured payment on a cancelled or refunded order.
	ReconcilePaidAfterClose ReconcileOutcome = "paid_after_close"
)

// ReconcileResult reports the effect of one reconciliation.
type ReconcileResult struct {
	Outcome        ReconcileOutcome
	OrderID        string
	PaymentID      string
	PaymentStatus  PaymentStatus
	PreviousStatus OrderStatus
	Status         OrderStatus
}

// OrderConfirmation is the message handed to the notification collaborator after checkout.
type OrderConfirmation struct {
	OrderID     string                  `json:"orderId"`
	OrderNumber string                  `json:"orderNumber"`
	Email       string                  `json:"email"`
	Locale      string                  `json:"locale,omitempty"`
	Currency    string                  `json:"currency"`
	Subtotal    int64                   `json:"subtotal"`
	Shipping    int64                   `json:"shipping"`
	Discount    int64                   `json:"discount"`
	Total       int64                   `json:"total"`
	Items       []OrderConfirmationItem `json:"items"`
	PlacedAt    time.Time               `json:"placedAt"`
}

// OrderConfirmationItem is one purchased line inside an OrderConfirmation.
type OrderConfirmationItem struct {
	ProductID string `json:"productId"`
	SKU       string `json:"sku,omitempty"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}
