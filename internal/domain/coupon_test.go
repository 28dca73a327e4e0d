package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCouponCheckOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)
	limit := 3

	cases := []struct {
		name     string
		coupon   Coupon
		subtotal int64
		want     error
	}{
		{
			name:   "inactive reported as not found",
			coupon: Coupon{Active: false, StartsAt: &future},
			want:   ErrCouponNotFound,
		},
		{
			name:   "not yet active wins over expiry",
			coupon: Coupon{Active: true, StartsAt: &future, ExpiresAt: &past},
			want:   ErrCouponNotYetActive,
		},
		{
			name:   "expired wins over exhausted",
			coupon: Coupon{Active: true, ExpiresAt: &past, UsageLimit: &limit, UsedCount: 3},
			want:   ErrCouponExpired,
		},
		{
			name:     "exhausted wins over minimum",
			coupon:   Coupon{Active: true, UsageLimit: &limit, UsedCount: 3, MinimumOrder: 10000},
			subtotal: 100,
			want:     ErrCouponExhausted,
		},
		{
			name:     "minimum not met",
			coupon:   Coupon{Active: true, MinimumOrder: 5000},
			subtotal: 4999,
			want:     ErrCouponMinimumNotMet,
		},
		{
			name:     "valid",
			coupon:   Coupon{Active: true, StartsAt: &past, ExpiresAt: &future, UsageLimit: &limit, UsedCount: 2, MinimumOrder: 5000},
			subtotal: 5000,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.coupon.Check(tc.subtotal, now)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCouponDiscountFor(t *testing.T) {
	capAmount := int64(5000)
	smallCap := int64(500)

	percent := Coupon{DiscountType: DiscountTypePercentage, DiscountValue: 10, MaxDiscount: &capAmount}
	if got := percent.DiscountFor(10000); got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
	if got := percent.DiscountFor(999); got != 99 {
		t.Fatalf("expected floored 99, got %d", got)
	}

	capped := Coupon{DiscountType: DiscountTypePercentage, DiscountValue: 10, MaxDiscount: &smallCap}
	if got := capped.DiscountFor(10000); got != 500 {
		t.Fatalf("expected cap 500, got %d", got)
	}

	fixed := Coupon{DiscountType: DiscountTypeFixed, DiscountValue: 20000}
	if got := fixed.DiscountFor(1000); got != 20000 {
		t.Fatalf("expected unclamped fixed discount 20000, got %d", got)
	}
}

func TestOrderTotalClampsAtZero(t *testing.T) {
	if got := OrderTotal(10000, 50000, 1000); got != 59000 {
		t.Fatalf("expected 59000, got %d", got)
	}
	if got := OrderTotal(1000, 0, 20000); got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
}
