package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

func newTestCouponService(t *testing.T, store *memStore, now time.Time) CouponService {
	t.Helper()
	svc, err := NewCouponService(CouponServiceDeps{
		Coupons: store,
		Carts:   store,
		Clock:   fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	return svc
}

func TestCouponService_Validate_PercentageCapped(t *testing.T) {
	now := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	maxDiscount := int64(5000)
	store.addCoupon(domain.Coupon{
		ID:            "cpn_1",
		Code:          "SAVE10",
		DiscountType:  domain.DiscountTypePercentage,
		DiscountValue: 10,
		MaxDiscount:   &maxDiscount,
		Active:        true,
	})
	svc := newTestCouponService(t, store, now)

	quote, err := svc.Validate(context.Background(), " save10 ", 10000, now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if quote.Discount != 1000 {
		t.Fatalf("expected discount 1000 got %d", quote.Discount)
	}
	if quote.CouponID != "cpn_1" || quote.Code != "SAVE10" {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if total := domain.OrderTotal(10000, 50000, quote.Discount); total != 59000 {
		t.Fatalf("expected total 59000 got %d", total)
	}

	capped, err := svc.Validate(context.Background(), "SAVE10", 200000, now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if capped.Discount != 5000 {
		t.Fatalf("expected capped discount 5000 got %d", capped.Discount)
	}
}

func TestCouponService_Validate_RuleOrder(t *testing.T) {
	now := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)
	limit := 1

	tests := []struct {
		name   string
		coupon domain.Coupon
		want   error
	}{
		{
			name:   "inactive",
			coupon: domain.Coupon{Active: false},
			want:   ErrCouponNotFound,
		},
		{
			name:   "start date checked before usage",
			coupon: domain.Coupon{Active: true, StartsAt: &future, UsageLimit: &limit, UsedCount: 1},
			want:   ErrCouponNotYetActive,
		},
		{
			name:   "expired",
			coupon: domain.Coupon{Active: true, ExpiresAt: &past},
			want:   ErrCouponExpired,
		},
		{
			name:   "exhausted before minimum",
			coupon: domain.Coupon{Active: true, UsageLimit: &limit, UsedCount: 1, MinimumOrder: 999999},
			want:   ErrCouponExhausted,
		},
		{
			name:   "minimum not met",
			coupon: domain.Coupon{Active: true, MinimumOrder: 20000},
			want:   ErrCouponMinimumNotMet,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			tc.coupon.ID = "cpn"
			tc.coupon.Code = "CODE"
			tc.coupon.DiscountType = domain.DiscountTypeFixed
			tc.coupon.DiscountValue = 100
			store.addCoupon(tc.coupon)
			svc := newTestCouponService(t, store, now)

			_, err := svc.Validate(context.Background(), "code", 10000, now)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, err)
			}
			if !IsCouponError(err) {
				t.Fatalf("expected coupon error classification for %v", err)
			}
		})
	}
}

func TestCouponService_Validate_UnknownCode(t *testing.T) {
	svc := newTestCouponService(t, newMemStore(), time.Now())

	if _, err := svc.Validate(context.Background(), "nope", 1000, time.Now()); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound got %v", err)
	}
	if _, err := svc.Validate(context.Background(), "   ", 1000, time.Now()); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound for blank code got %v", err)
	}
}

func TestCouponService_PreviewForCart(t *testing.T) {
	now := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.addProduct(domain.Product{ID: "prod_1", Name: "Seal", Price: 2500})
	owner := Owner{UserID: "u1"}
	store.addCartItem(owner.Key(), "prod_1", 2)
	store.addCoupon(domain.Coupon{
		ID:            "cpn_1",
		Code:          "FLAT",
		DiscountType:  domain.DiscountTypeFixed,
		DiscountValue: 700,
		Active:        true,
	})
	svc := newTestCouponService(t, store, now)

	quote, err := svc.PreviewForCart(context.Background(), owner, "flat")
	if err != nil {
		t.Fatalf("PreviewForCart: %v", err)
	}
	if quote.Subtotal != 5000 || quote.Discount != 700 {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if got := store.coupon("FLAT").UsedCount; got != 0 {
		t.Fatalf("preview must not count usage, used=%d", got)
	}

	if _, err := svc.PreviewForCart(context.Background(), Owner{GuestToken: "other"}, "flat"); !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("expected ErrCartEmpty got %v", err)
	}
}
