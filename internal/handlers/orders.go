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
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/services"
)

const maxOrderRequestBody = 4 * 1024

// OrderHandlers exposes the caller's own orders.
type OrderHandlers struct {
	authn    *auth.Authenticator
	owners   *auth.OwnerResolver
	queries  services.OrderQueryService
	orders   services.OrderService
	checkout services.CheckoutService
}

// NewOrderHandlers constructs customer order handlers.
func NewOrderHandlers(authn *auth.Authenticator, owners *auth.OwnerResolver, queries services.OrderQueryService, orders services.OrderService, checkout services.CheckoutService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		owners:   owners,
		queries:  queries,
		orders:   orders,
		checkout: checkout,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	if h.owners != nil {
		r.Use(h.owners.RequireOwner(false))
	}
	r.Get("/", h.listOrders)
	r.Get("/by-number/{orderNumber}", h.getOrderByNumber)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:pay", h.retryPayment)
}

type orderItemPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	SKU         string `json:"sku,omitempty"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	LineTotal   int64  `json:"lineTotal"`
}

type orderPayload struct {
	ID               string             `json:"id"`
	OrderNumber      string             `json:"orderNumber"`
	Status           string             `json:"status"`
	PaymentStatus    string             `json:"paymentStatus"`
	Currency         string             `json:"currency"`
	Totals           totalsPayload      `json:"totals"`
	Email            string             `json:"email"`
	CouponCode       string             `json:"couponCode,omitempty"`
	ShippingZone     string             `json:"shippingZone"`
	ShippingAddress  addressPayload     `json:"shippingAddress"`
	CustomerNotes    string             `json:"customerNotes,omitempty"`
	TrackingNumber   string             `json:"trackingNumber,omitempty"`
	TrackingURL      string             `json:"trackingUrl,omitempty"`
	PaymentProvider  string             `json:"paymentProvider,omitempty"`
	PaymentReference string             `json:"paymentReference,omitempty"`
	Items            []orderItemPayload `json:"items"`
	PaidAt           string             `json:"paidAt,omitempty"`
	ShippedAt        string             `json:"shippedAt,omitempty"`
	DeliveredAt      string             `json:"deliveredAt,omitempty"`
	CancelledAt      string             `json:"cancelledAt,omitempty"`
	CreatedAt        string             `json:"createdAt"`
	UpdatedAt        string             `json:"updatedAt"`

	// Staff only.
	OwnerKey      string `json:"ownerKey,omitempty"`
	InternalNotes string `json:"internalNotes,omitempty"`
}

type orderListPayload struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type retryPaymentRequest struct {
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}
	filter, ok := parseOrderListFilter(w, r)
	if !ok {
		return
	}
	filter.Owner = owner

	page, err := h.queries.List(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListPayload(page, false))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	h.fetchOrder(w, r, func(ctx context.Context, owner *domain.Owner) (services.Order, error) {
		return h.queries.GetByID(ctx, chi.URLParam(r, "orderID"), owner)
	})
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	h.fetchOrder(w, r, func(ctx context.Context, owner *domain.Owner) (services.Order, error) {
		return h.queries.GetByNumber(ctx, chi.URLParam(r, "orderNumber"), owner)
	})
}

func (h *OrderHandlers) fetchOrder(w http.ResponseWriter, r *http.Request, load func(context.Context, *domain.Owner) (services.Order, error)) {
	ctx := r.Context()
	if h.queries == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}
	order, err := load(ctx, &owner)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order, false))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Owner:   owner,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order, false))
}

func (h *OrderHandlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout_unavailable", "checkout service unavailable")
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}
	var req retryPaymentRequest
	if r.ContentLength != 0 {
		if !decodeJSONBody(w, r, maxOrderRequestBody, &req) {
			return
		}
	}

	placed, err := h.checkout.RetryPayment(ctx, services.RetryPaymentCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		Owner:      owner,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPlacedOrderPayload(placed))
}

// parseOrderListFilter reads pageSize, pageToken and repeated or comma separated status values.
func parseOrderListFilter(w http.ResponseWriter, r *http.Request) (services.OrderListFilter, bool) {
	ctx := r.Context()
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return services.OrderListFilter{}, false
	}
	filter := services.OrderListFilter{
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := domain.ParseOrderStatus(part)
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status "+strings.TrimSpace(part), http.StatusBadRequest))
				return services.OrderListFilter{}, false
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	return filter, true
}

func buildOrderListPayload(page domain.Page[services.Order], staff bool) orderListPayload {
	payload := orderListPayload{
		Items:         make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Items = append(payload.Items, buildOrderPayload(order, staff))
	}
	return payload
}

func buildOrderPayload(order services.Order, staff bool) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      order.Currency,
		Totals: totalsPayload{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
		},
		Email:            order.Email,
		CouponCode:       order.CouponCode,
		ShippingZone:     string(order.ShippingZone),
		ShippingAddress:  addressFromDomain(order.ShippingAddress),
		CustomerNotes:    order.CustomerNotes,
		TrackingNumber:   order.TrackingNumber,
		TrackingURL:      order.TrackingURL,
		PaymentProvider:  order.PaymentProvider,
		PaymentReference: order.PaymentReference,
		Items:            make([]orderItemPayload, 0, len(order.Items)),
		PaidAt:           formatTimePtr(order.PaidAt),
		ShippedAt:        formatTimePtr(order.ShippedAt),
		DeliveredAt:      formatTimePtr(order.DeliveredAt),
		CancelledAt:      formatTimePtr(order.CancelledAt),
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			SKU:         item.SKU,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}
	if staff {
		payload.OwnerKey = order.OwnerKey
		payload.InternalNotes = order.InternalNotes
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "missing capability for this operation", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_cancellable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order changed concurrently; reload and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
