package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	maxCartRequestBody      = 4 * 1024
	couponPreviewLimit      = 10
	couponPreviewWindow     = time.Minute
	couponPreviewLimitedMsg = "too many coupon attempts; try again later"
)

// CartHandlers exposes the caller's cart and coupon preview.
type CartHandlers struct {
	authn   *auth.Authenticator
	owners  *auth.OwnerResolver
	carts   services.CartService
	coupons services.CouponService
	limiter rateLimiter
}

// CartOption customises CartHandlers.
type CartOption func(*CartHandlers)

// WithCouponPreviewLimit overrides how many coupon previews an owner may run per window.
func WithCouponPreviewLimit(limit int, window time.Duration, clock func() time.Time) CartOption {
	return func(h *CartHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, clock)
	}
}

// NewCartHandlers constructs cart handlers. Anonymous shoppers are issued a guest session on first use.
func NewCartHandlers(authn *auth.Authenticator, owners *auth.OwnerResolver, carts services.CartService, coupons services.CouponService, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{
		authn:   authn,
		owners:  owners,
		carts:   carts,
		coupons: coupons,
		limiter: newFixedWindowLimiter(couponPreviewLimit, couponPreviewWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	if h.owners != nil {
		r.Use(h.owners.RequireOwner(true))
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Post("/coupon:validate", h.previewCoupon)
}

type cartItemPayload struct {
	ID            string `json:"id"`
	ProductID     string `json:"productId"`
	SKU           string `json:"sku,omitempty"`
	Name          string `json:"name"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unitPrice"`
	PriceSnapshot int64  `json:"priceSnapshot"`
	LineTotal     int64  `json:"lineTotal"`
	Available     bool   `json:"available"`
}

type cartPayload struct {
	ID          string            `json:"id,omitempty"`
	Currency    string            `json:"currency"`
	Items       []cartItemPayload `json:"items"`
	Subtotal    int64             `json:"subtotal"`
	WeightGrams int               `json:"weightGrams"`
	UpdatedAt   string            `json:"updatedAt,omitempty"`
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

type couponPreviewRequest struct {
	Code string `json:"code"`
}

type couponPreviewPayload struct {
	Code         string `json:"code"`
	DiscountType string `json:"discountType"`
	Subtotal     int64  `json:"subtotal"`
	Discount     int64  `json:"discount"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart_unavailable", "cart service unavailable")
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.GetCart(ctx, owner)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(view))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart_unavailable", "cart service unavailable")
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}
	var req addCartItemRequest
	if !decodeJSONBody(w, r, maxCartRequestBody, &req) {
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	view, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		Owner:     owner,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(view))
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart_unavailable", "cart service unavailable")
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if !decodeJSONBody(w, r, maxCartRequestBody, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	view, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		Owner:    owner,
		ItemID:   chi.URLParam(r, "itemID"),
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(view))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart_unavailable", "cart service unavailable")
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}
	view, err := h.carts.RemoveItem(ctx, owner, chi.URLParam(r, "itemID"))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(view))
}

func (h *CartHandlers) previewCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon_unavailable", "coupon service unavailable")
		return
	}
	owner, ok := requireOwner(ctx, w)
	if !ok {
		return
	}
	if h.limiter != nil {
		if allowed, wait := h.limiter.Allow(owner.Key()); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", couponPreviewLimitedMsg, http.StatusTooManyRequests))
			return
		}
	}
	var req couponPreviewRequest
	if !decodeJSONBody(w, r, maxCartRequestBody, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}

	quote, err := h.coupons.PreviewForCart(ctx, owner, req.Code)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponPreviewPayload{
		Code:         quote.Code,
		DiscountType: string(quote.DiscountType),
		Subtotal:     quote.Subtotal,
		Discount:     quote.Discount,
	})
}

func buildCartPayload(view services.CartView) cartPayload {
	payload := cartPayload{
		ID:          view.ID,
		Currency:    view.Currency,
		Items:       make([]cartItemPayload, 0, len(view.Items)),
		Subtotal:    view.Subtotal,
		WeightGrams: view.WeightGrams,
		UpdatedAt:   formatTime(view.UpdatedAt),
	}
	for _, item := range view.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ID:            item.ItemID,
			ProductID:     item.ProductID,
			SKU:           item.SKU,
			Name:          item.Name,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			PriceSnapshot: item.PriceSnapshot,
			LineTotal:     item.LineTotal,
			Available:     item.Available,
		})
	}
	return payload
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusUnprocessableEntity))
	case services.IsCouponError(err):
		writeCouponError(ctx, w, err)
	case errors.Is(err, services.ErrCartUnavailable), errors.Is(err, services.ErrCouponUnavailable):
		serviceUnavailable(ctx, w, "cart_unavailable", "cart service unavailable")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

func writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon code is not valid", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponNotYetActive):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_yet_active", "coupon is not active yet", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon has expired", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_exhausted", "coupon usage limit reached", http.StatusConflict))
	case errors.Is(err, services.ErrCouponMinimumNotMet):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_minimum_not_met", "order does not meet the coupon minimum", http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "coupon could not be applied", http.StatusUnprocessableEntity))
	}
}
