package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

// AdminOrderHandlers exposes staff order management. Capability checks happen in the services;
// the role gate here only rejects customers early.
type AdminOrderHandlers struct {
	authn   *auth.Authenticator
	queries services.OrderQueryService
	orders  services.OrderService
}

// NewAdminOrderHandlers constructs staff order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, queries services.OrderQueryService, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, queries: queries, orders: orders}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Put("/orders/{orderID}/status", h.updateStatus)
}

type updateOrderStatusRequest struct {
	Status         string  `json:"status"`
	TrackingNumber *string `json:"trackingNumber"`
	TrackingURL    *string `json:"trackingUrl"`
	InternalNotes  *string `json:"internalNotes"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	filter, ok := parseOrderListFilter(w, r)
	if !ok {
		return
	}
	if userID := strings.TrimSpace(r.URL.Query().Get("userId")); userID != "" {
		filter.Owner = domain.Owner{UserID: userID}
	}

	page, err := h.queries.ListAll(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListPayload(page, true))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.queries == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	order, err := h.queries.GetByID(ctx, chi.URLParam(r, "orderID"), nil)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order, true))
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	var req updateOrderStatusRequest
	if !decodeJSONBody(w, r, maxOrderRequestBody, &req) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	actor := ""
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		actor = identity.UID
	}
	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:        chi.URLParam(r, "orderID"),
		Status:         domain.OrderStatus(req.Status),
		TrackingNumber: req.TrackingNumber,
		TrackingURL:    req.TrackingURL,
		InternalNotes:  req.InternalNotes,
		ActorID:        actor,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order, true))
}
