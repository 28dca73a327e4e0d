package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	maxCheckoutRequestBody    = 8 * 1024
	defaultIdempotencyKeyName = "Idempotency-Key"
)

// CheckoutHandlers turns the caller's cart into an order.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	owners      *auth.OwnerResolver
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
	keyHeader   string
}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithIdempotencyKeyHeader names the request header forwarded to the gateway as its idempotency key.
func WithIdempotencyKeyHeader(name string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if name = strings.TrimSpace(name); name != "" {
			h.keyHeader = name
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers. idempotency wraps the submission when non-nil.
func NewCheckoutHandlers(authn *auth.Authenticator, owners *auth.OwnerResolver, checkout services.CheckoutService, idempotency func(http.Handler) http.Handler, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:       authn,
		owners:      owners,
		checkout:    checkout,
		idempotency: idempotency,
		keyHeader:   defaultIdempotencyKeyName,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /checkout endpoint.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	if h.owners != nil {
		r.Use(h.owners.RequireOwner(false))
	}
	if h.idempotency != nil {
		r.Use(h.idempotency)
	}
	r.Post("/", h.placeOrder)
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Company    string `json:"company,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address{
		Recipient:  a.Recipient,
		Company:    a.Company,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

func addressFromDomain(a domain.Address) addressPayload {
	return addressPayload{
		Recipient:  a.Recipient,
		Company:    a.Company,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

type checkoutRequest struct {
	CartID          string         `json:"cartId"`
	Email           string         `json:"email"`
	ShippingAddress addressPayload `json:"shippingAddress"`
	ShippingZone    string         `json:"shippingZone"`
	CouponCode      string         `json:"couponCode"`
	Notes           string         `json:"notes"`
	SuccessURL      string         `json:"successUrl"`
	CancelURL       string         `json:"cancelUrl"`
}

type totalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type paymentHandoffPayload struct {
	Provider    string `json:"provider"`
	Reference   string `json:"reference,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

type placedOrderPayload struct {
	OrderID     string                 `json:"orderId"`
	OrderNumber string                 `json:"orderNumber"`
	Status      string                 `json:"status"`
	Currency    string                 `json:"currency"`
	Totals      totalsPayload          `json:"totals"`
	Payment     *paymentHandoffPayload `json:"payment,omitempty"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout_unavailable", "checkout service unavailable")
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}
	var req checkoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	placed, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		Owner:           owner,
		CartID:          req.CartID,
		Email:           req.Email,
		ShippingAddress: req.ShippingAddress.toDomain(),
		Zone:            domain.ShippingZone(req.ShippingZone),
		CouponCode:      req.CouponCode,
		Notes:           req.Notes,
		SuccessURL:      req.SuccessURL,
		CancelURL:       req.CancelURL,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(h.keyHeader)),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildPlacedOrderPayload(placed))
}

func buildPlacedOrderPayload(placed services.PlacedOrder) placedOrderPayload {
	payload := placedOrderPayload{
		OrderID:     placed.OrderID,
		OrderNumber: placed.OrderNumber,
		Status:      string(placed.Status),
		Currency:    placed.Currency,
		Totals: totalsPayload{
			Subtotal: placed.Totals.Subtotal,
			Shipping: placed.Totals.Shipping,
			Discount: placed.Totals.Discount,
			Total:    placed.Totals.Total,
		},
	}
	if placed.RedirectURL != "" || placed.PaymentReference != "" {
		payload.Payment = &paymentHandoffPayload{
			Provider:    placed.PaymentProvider,
			Reference:   placed.PaymentReference,
			RedirectURL: placed.RedirectURL,
			ExpiresAt:   formatTime(placed.PaymentExpiresAt),
		}
	}
	return payload
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		stockErr *services.InsufficientStockError
		setupErr *services.PaymentSetupError
	)
	switch {
	case errors.As(err, &setupErr):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "order was placed but payment could not be started; retry payment", http.StatusBadGateway).
			WithDetails(map[string]any{"orderId": setupErr.OrderID, "orderNumber": setupErr.OrderNumber}))
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock to place the order", http.StatusConflict).
			WithDetails(map[string]any{"productId": stockErr.ProductID, "requested": stockErr.Requested, "available": stockErr.Available}))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusUnprocessableEntity))
	case services.IsCouponError(err):
		writeCouponError(ctx, w, err)
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "cart has changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutOrderNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", "order is not awaiting payment", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutUnavailable), errors.Is(err, services.ErrCouponUnavailable):
		serviceUnavailable(ctx, w, "checkout_unavailable", "checkout service unavailable")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
