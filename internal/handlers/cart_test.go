package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/services"
)

func newCartRouter(h *CartHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/cart", h.Routes)
	return r
}

func TestCartHandlersIssuesGuestSession(t *testing.T) {
	var seen services.Owner
	carts := &stubCartService{
		getFunc: func(_ context.Context, owner services.Owner) (services.CartView, error) {
			seen = owner
			return services.CartView{Currency: "JPY"}, nil
		},
	}
	owners := auth.NewOwnerResolver("", auth.WithGuestTokenGenerator(func() string { return "guest-token-1" }))
	router := newCartRouter(NewCartHandlers(auth.NewAuthenticator(nil), owners, carts, &stubCouponService{}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get(auth.DefaultGuestHeader); got != "guest-token-1" {
		t.Fatalf("expected guest token header, got %q", got)
	}
	if seen.GuestToken != "guest-token-1" || seen.UserID != "" {
		t.Fatalf("unexpected owner %+v", seen)
	}
	body := decodeBody(t, rr)
	items, ok := body["items"].([]any)
	if !ok || len(items) != 0 {
		t.Fatalf("expected empty items array, got %v", body["items"])
	}
}

func TestCartHandlersSignedInOwnerWins(t *testing.T) {
	var seen services.Owner
	carts := &stubCartService{
		getFunc: func(_ context.Context, owner services.Owner) (services.CartView, error) {
			seen = owner
			return services.CartView{}, nil
		},
	}
	verifier := &stubVerifier{tokens: map[string]*firebaseToken{"tok": {UID: "user-7"}}}
	router := newCartRouter(NewCartHandlers(auth.NewAuthenticator(verifier), auth.NewOwnerResolver(""), carts, nil))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set(auth.DefaultGuestHeader, "3b241101-e2bb-4255-8caf-4136c566a962")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen.UserID != "user-7" || seen.GuestToken != "" {
		t.Fatalf("expected signed-in owner, got %+v", seen)
	}
	if rr.Header().Get(auth.DefaultGuestHeader) != "" {
		t.Fatalf("signed-in callers must not receive a guest token")
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var got services.AddCartItemCommand
	carts := &stubCartService{
		addFunc: func(_ context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
			got = cmd
			return services.CartView{
				ID:       "cart_1",
				Currency: "JPY",
				Items: []services.CartViewItem{
					{ItemID: "item_1", ProductID: "prod_1", Name: "Seal", Quantity: 1, UnitPrice: 5000, PriceSnapshot: 5000, LineTotal: 5000, Available: true},
				},
				Subtotal:    5000,
				WeightGrams: 200,
				UpdatedAt:   now,
			}, nil
		},
	}
	handler := NewCartHandlers(nil, nil, carts, nil)

	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"productId":"prod_1"}`))
	req = withOwner(req, domain.Owner{UserID: "user-1"})
	rr := httptest.NewRecorder()
	handler.addItem(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Quantity != 1 || got.ProductID != "prod_1" || got.Owner.UserID != "user-1" {
		t.Fatalf("unexpected command %+v", got)
	}
	body := decodeBody(t, rr)
	if body["subtotal"] != float64(5000) || body["updatedAt"] != "2025-03-01T09:00:00Z" {
		t.Fatalf("unexpected payload %v", body)
	}
}

func TestCartHandlersRejectsBadBodies(t *testing.T) {
	handler := NewCartHandlers(nil, nil, &stubCartService{}, nil)
	owner := domain.Owner{GuestToken: "3b241101-e2bb-4255-8caf-4136c566a962"}

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{name: "unknown field", body: `{"productId":"p","price":1}`, status: http.StatusBadRequest},
		{name: "empty", body: ``, status: http.StatusBadRequest},
		{name: "missing product", body: `{"quantity":2}`, status: http.StatusBadRequest},
		{name: "too large", body: `{"productId":"` + strings.Repeat("x", maxCartRequestBody) + `"}`, status: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := withOwner(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(tc.body)), owner)
			rr := httptest.NewRecorder()
			handler.addItem(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestCartHandlersUpdateItemRequiresQuantity(t *testing.T) {
	handler := NewCartHandlers(nil, nil, &stubCartService{}, nil)
	req := withOwner(httptest.NewRequest(http.MethodPatch, "/cart/items/item_1", strings.NewReader(`{}`)), domain.Owner{UserID: "u"})
	rr := httptest.NewRecorder()
	handler.updateItem(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateItemPassesItemID(t *testing.T) {
	var got services.UpdateCartItemCommand
	carts := &stubCartService{
		updateFunc: func(_ context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error) {
			got = cmd
			return services.CartView{}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(nil, nil, carts, nil).Routes)

	req := withOwner(httptest.NewRequest(http.MethodPatch, "/cart/items/item_9", strings.NewReader(`{"quantity":0}`)), domain.Owner{UserID: "u"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.ItemID != "item_9" || got.Quantity != 0 {
		t.Fatalf("unexpected command %+v", got)
	}
}

func TestCartHandlersUnauthenticated(t *testing.T) {
	handler := NewCartHandlers(nil, nil, &stubCartService{}, nil)
	rr := httptest.NewRecorder()
	handler.getCart(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	handler := NewCartHandlers(nil, nil, nil, nil)
	req := withOwner(httptest.NewRequest(http.MethodGet, "/cart", nil), domain.Owner{UserID: "u"})
	rr := httptest.NewRecorder()
	handler.getCart(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCartHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: fmt.Errorf("%w: quantity must be positive", services.ErrCartInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		{err: services.ErrCartItemNotFound, status: http.StatusNotFound, code: "cart_item_not_found"},
		{err: services.ErrCartProductNotFound, status: http.StatusNotFound, code: "product_not_found"},
		{err: services.ErrCartInsufficientStock, status: http.StatusConflict, code: "insufficient_stock"},
		{err: services.ErrCartUnavailable, status: http.StatusServiceUnavailable, code: "cart_unavailable"},
		{err: errors.New("boom"), status: http.StatusInternalServerError, code: "cart_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			carts := &stubCartService{
				removeFunc: func(context.Context, services.Owner, string) (services.CartView, error) {
					return services.CartView{}, tc.err
				},
			}
			handler := NewCartHandlers(nil, nil, carts, nil)
			req := withOwner(httptest.NewRequest(http.MethodDelete, "/cart/items/x", nil), domain.Owner{UserID: "u"})
			rr := httptest.NewRecorder()
			handler.removeItem(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if body := decodeBody(t, rr); body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestCartHandlersCouponPreview(t *testing.T) {
	coupons := &stubCouponService{
		previewFunc: func(_ context.Context, _ services.Owner, code string) (services.CouponQuote, error) {
			if code != "spring10" {
				return services.CouponQuote{}, services.ErrCouponNotFound
			}
			return services.CouponQuote{Code: "SPRING10", DiscountType: domain.DiscountTypePercentage, Subtotal: 10000, Discount: 1000}, nil
		},
	}
	handler := NewCartHandlers(nil, nil, nil, coupons)
	owner := domain.Owner{UserID: "u"}

	req := withOwner(httptest.NewRequest(http.MethodPost, "/cart/coupon:validate", strings.NewReader(`{"code":"spring10"}`)), owner)
	rr := httptest.NewRecorder()
	handler.previewCoupon(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["discount"] != float64(1000) || body["code"] != "SPRING10" {
		t.Fatalf("unexpected payload %v", body)
	}

	req = withOwner(httptest.NewRequest(http.MethodPost, "/cart/coupon:validate", strings.NewReader(`{"code":"bogus"}`)), owner)
	rr = httptest.NewRecorder()
	handler.previewCoupon(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersCouponPreviewRateLimited(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	coupons := &stubCouponService{}
	handler := NewCartHandlers(nil, nil, nil, coupons, WithCouponPreviewLimit(2, time.Minute, func() time.Time { return now }))
	owner := domain.Owner{GuestToken: "3b241101-e2bb-4255-8caf-4136c566a962"}

	for i := 0; i < 2; i++ {
		req := withOwner(httptest.NewRequest(http.MethodPost, "/cart/coupon:validate", strings.NewReader(`{"code":"A"}`)), owner)
		rr := httptest.NewRecorder()
		handler.previewCoupon(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected status 200, got %d", i+1, rr.Code)
		}
	}

	req := withOwner(httptest.NewRequest(http.MethodPost, "/cart/coupon:validate", strings.NewReader(`{"code":"A"}`)), owner)
	rr := httptest.NewRecorder()
	handler.previewCoupon(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
	if coupons.calls != 2 {
		t.Fatalf("expected limiter to stop the third call, got %d calls", coupons.calls)
	}

	other := withOwner(httptest.NewRequest(http.MethodPost, "/cart/coupon:validate", strings.NewReader(`{"code":"A"}`)), domain.Owner{UserID: "someone-else"})
	rr = httptest.NewRecorder()
	handler.previewCoupon(rr, other)
	if rr.Code != http.StatusOK {
		t.Fatalf("limits are per owner; expected 200, got %d", rr.Code)
	}
}

func TestCouponErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{services.ErrCouponNotFound, http.StatusNotFound},
		{services.ErrCouponNotYetActive, http.StatusUnprocessableEntity},
		{services.ErrCouponExpired, http.StatusUnprocessableEntity},
		{services.ErrCouponMinimumNotMet, http.StatusUnprocessableEntity},
		{services.ErrCouponExhausted, http.StatusConflict},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		writeCouponError(context.Background(), rr, tc.err)
		if rr.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, rr.Code)
		}
	}
}
