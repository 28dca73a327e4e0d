package domain

import (
	"errors"
	"time"
)

// DiscountType determines how a coupon's value is applied.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

var (
	// ErrCouponNotFound indicates the code is unknown or the coupon is inactive.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponNotYetActive indicates the validity window has not started.
	ErrCouponNotYetActive = errors.New("coupon: not yet active")
	// ErrCouponExpired indicates the validity window has ended.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponExhausted indicates the usage limit was reached.
	ErrCouponExhausted = errors.New("coupon: usage limit reached")
	// ErrCouponMinimumNotMet indicates the subtotal is below the coupon's minimum order.
	ErrCouponMinimumNotMet = errors.New("coupon: minimum order not met")
)

// Coupon is a discount code definition with its usage counters.
type Coupon struct {
	ID            string
	Code          string
	DiscountType  DiscountType
	DiscountValue int64
	UsedCount     int
	UsageLimit    *int
	StartsAt      *time.Time
	ExpiresAt     *time.Time
	MinimumOrder  int64
	MaxDiscount   *int64
	Active        bool
}

// Check applies the validation rules in order and returns the first failure.
func (c Coupon) Check(subtotal int64, now time.Time) error {
	if !c.Active {
		return ErrCouponNotFound
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return ErrCouponNotYetActive
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return ErrCouponExpired
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ErrCouponExhausted
	}
	if subtotal < c.MinimumOrder {
		return ErrCouponMinimumNotMet
	}
	return nil
}

// DiscountFor computes the discount for the subtotal. Percentage discounts are floored
// then capped; fixed discounts are returned unmodified.
func (c Coupon) DiscountFor(subtotal int64) int64 {
	switch c.DiscountType {
	case DiscountTypePercentage:
		discount := subtotal * c.DiscountValue / 100
		if c.MaxDiscount != nil && discount > *c.MaxDiscount {
			discount = *c.MaxDiscount
		}
		return discount
	case DiscountTypeFixed:
		return c.DiscountValue
	default:
		return 0
	}
}

// OrderTotal combines the parts of an order total, clamping at zero.
func OrderTotal(subtotal, shipping, discount int64) int64 {
	total := subtotal + shipping - discount
	if total < 0 {
		return 0
	}
	return total
}
