package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/services"
)

type stubCartService struct {
	getFunc    func(ctx context.Context, owner services.Owner) (services.CartView, error)
	addFunc    func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error)
	updateFunc func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error)
	removeFunc func(ctx context.Context, owner services.Owner, itemID string) (services.CartView, error)
}

func (s *stubCartService) GetCart(ctx context.Context, owner services.Owner) (services.CartView, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, owner)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, owner services.Owner, itemID string) (services.CartView, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, owner, itemID)
	}
	return services.CartView{}, nil
}

type stubCouponService struct {
	previewFunc func(ctx context.Context, owner services.Owner, code string) (services.CouponQuote, error)
	calls       int
}

func (s *stubCouponService) Validate(context.Context, string, int64, time.Time) (services.CouponQuote, error) {
	return services.CouponQuote{}, nil
}

func (s *stubCouponService) PreviewForCart(ctx context.Context, owner services.Owner, code string) (services.CouponQuote, error) {
	s.calls++
	if s.previewFunc != nil {
		return s.previewFunc(ctx, owner, code)
	}
	return services.CouponQuote{Code: code}, nil
}

type stubCheckoutService struct {
	placeFunc func(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlacedOrder, error)
	retryFunc func(ctx context.Context, cmd services.RetryPaymentCommand) (services.PlacedOrder, error)
	placed    int
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlacedOrder, error) {
	s.placed++
	if s.placeFunc != nil {
		return s.placeFunc(ctx, cmd)
	}
	return services.PlacedOrder{}, nil
}

func (s *stubCheckoutService) RetryPayment(ctx context.Context, cmd services.RetryPaymentCommand) (services.PlacedOrder, error) {
	if s.retryFunc != nil {
		return s.retryFunc(ctx, cmd)
	}
	return services.PlacedOrder{}, nil
}

type stubOrderService struct {
	updateFunc func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error)
	cancelFunc func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

type stubOrderQueryService struct {
	getFunc      func(ctx context.Context, orderID string, owner *services.Owner) (services.Order, error)
	byNumberFunc func(ctx context.Context, number string, owner *services.Owner) (services.Order, error)
	listFunc     func(ctx context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error)
	listAllFunc  func(ctx context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error)
}

func (s *stubOrderQueryService) GetByID(ctx context.Context, orderID string, owner *services.Owner) (services.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, orderID, owner)
	}
	return services.Order{}, nil
}

func (s *stubOrderQueryService) GetByNumber(ctx context.Context, number string, owner *services.Owner) (services.Order, error) {
	if s.byNumberFunc != nil {
		return s.byNumberFunc(ctx, number, owner)
	}
	return services.Order{}, nil
}

func (s *stubOrderQueryService) List(ctx context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.Page[services.Order]{}, nil
}

func (s *stubOrderQueryService) ListAll(ctx context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
	if s.listAllFunc != nil {
		return s.listAllFunc(ctx, filter)
	}
	return domain.Page[services.Order]{}, nil
}

type firebaseToken = firebaseauth.Token

// stubVerifier maps bearer tokens to Firebase tokens.
type stubVerifier struct {
	tokens map[string]*firebaseauth.Token
}

func (v *stubVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	token, ok := v.tokens[idToken]
	if !ok {
		return nil, errInvalidTestToken
	}
	return token, nil
}

type testTokenError struct{}

func (testTokenError) Error() string { return "token invalid" }

var errInvalidTestToken error = testTokenError{}

func withOwner(req *http.Request, owner domain.Owner) *http.Request {
	return req.WithContext(requestctx.WithOwner(req.Context(), owner))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func sampleOrder(now time.Time) services.Order {
	paid := now.Add(time.Minute)
	return services.Order{
		ID:            "ord_1",
		OrderNumber:   "2025-0001",
		OwnerKey:      "user:user-1",
		Email:         "buyer@example.com",
		Status:        domain.OrderStatusPaid,
		PaymentStatus: domain.PaymentStatusApproved,
		Currency:      "JPY",
		Totals:        domain.OrderTotals{Subtotal: 10000, Shipping: 50000, Total: 60000},
		ShippingZone:  domain.ShippingZoneNear,
		ShippingAddress: domain.Address{
			Recipient:  "Hanako Yamada",
			Line1:      "1-1 Chiyoda",
			City:       "Tokyo",
			PostalCode: "100-0001",
			Country:    "JP",
		},
		InternalNotes: "vip",
		Items: []domain.OrderItem{
			{ID: "item_1", OrderID: "ord_1", ProductID: "prod_1", SKU: "SKU-1", ProductName: "Seal", Quantity: 2, UnitPrice: 5000, LineTotal: 10000},
		},
		PaidAt:    &paid,
		CreatedAt: now,
		UpdatedAt: paid,
	}
}
