package domain

import (
	"time"
)

// Pagination defines page-token based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// Page wraps a single page of results with the token for the next page.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// Product carries the subset of catalog data needed for pricing and stock control.
type Product struct {
	ID             string
	SKU            string
	Name           string
	Price          int64
	Currency       string
	Stock          int
	TrackInventory bool
	AllowBackorder bool
	WeightGrams    int
	Active         bool
}

// RequiresStock reports whether ordering qty units must be backed by on-hand stock.
func (p Product) RequiresStock() bool {
	return p.TrackInventory && !p.AllowBackorder
}

// Cart aggregates the mutable shopping cart state for a single owner.
type Cart struct {
	ID        string
	OwnerKey  string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem stores a single product entry within a cart. PriceSnapshot is informational only.
type CartItem struct {
	ID            string
	CartID        string
	ProductID     string
	Quantity      int
	PriceSnapshot int64
	AddedAt       time.Time
	UpdatedAt     time.Time
}

// CartLine joins a cart item with the live product data used at checkout.
type CartLine struct {
	Item    CartItem
	Product Product
}

// Address is the shipping address snapshot copied onto orders.
type Address struct {
	Recipient  string
	Company    string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Order captures the durable order header together with its line items.
type Order struct {
	ID               string
	OrderNumber      string
	OwnerKey         string
	UserID           string
	Email            string
	Status           OrderStatus
	PaymentStatus    PaymentStatus
	Currency         string
	Totals           OrderTotals
	CouponCode       string
	ShippingZone     ShippingZone
	ShippingAddress  Address
	CustomerNotes    string
	InternalNotes    string
	TrackingNumber   string
	TrackingURL      string
	PaymentProvider  string
	PaymentReference string
	Items            []OrderItem
	PaidAt           *time.Time
	ShippedAt        *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Discount int64
	Total    int64
}

// OrderItem is the immutable snapshot of a product at the time of purchase.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	SKU         string
	ProductName string
	Quantity    int
	UnitPrice   int64
	LineTotal   int64
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	OwnerKey   string
	Statuses   []OrderStatus
	Pagination Pagination
}

// OrderStatusUpdate describes a conditional status write. Only non-nil optional fields are written.
type OrderStatusUpdate struct {
	OrderID        string
	ExpectedStatus OrderStatus
	Status         OrderStatus
	PaymentStatus  *PaymentStatus
	TrackingNumber *string
	TrackingURL    *string
	InternalNotes  *string
	PaidAt         *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
	UpdatedAt      time.Time
}

// Health statuses reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck describes the outcome of an individual dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency status for readiness endpoints.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}

// Owner identifies who a cart or order belongs to: a signed-in user or an anonymous guest session.
type Owner struct {
	UserID     string
	GuestToken string
}

// Key returns the stable owner key stored on carts and orders, or "" when the owner is empty.
func (o Owner) Key() string {
	switch {
	case o.UserID != "":
		return "user:" + o.UserID
	case o.GuestToken != "":
		return "guest:" + o.GuestToken
	default:
		return ""
	}
}

// IsZero reports whether no identity is attached.
func (o Owner) IsZero() bool {
	return o.UserID == "" && o.GuestToken == ""
}
