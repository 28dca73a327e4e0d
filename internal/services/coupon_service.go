package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/textutil"
	"github.com/hanko-field/storefront/internal/repositories"
)

// Coupon failures surfaced to callers. They alias the domain sentinels so errors.Is works across layers.
var (
	ErrCouponNotFound      = domain.ErrCouponNotFound
	ErrCouponNotYetActive  = domain.ErrCouponNotYetActive
	ErrCouponExpired       = domain.ErrCouponExpired
	ErrCouponExhausted     = domain.ErrCouponExhausted
	ErrCouponMinimumNotMet = domain.ErrCouponMinimumNotMet
	// ErrCouponUnavailable indicates the coupon store could not be reached.
	ErrCouponUnavailable = errors.New("coupon: unavailable")
)

// CouponServiceDeps wires the dependencies required by the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Carts   repositories.CartRepository
	Clock   func() time.Time
	Logger  Logger
}

type couponService struct {
	coupons repositories.CouponRepository
	carts   repositories.CartRepository
	now     func() time.Time
	logger  Logger
}

// NewCouponService constructs a CouponService.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("coupon service: cart repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &couponService{
		coupons: deps.Coupons,
		carts:   deps.Carts,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Validate checks the coupon rules in order and computes the discount for subtotal.
func (s *couponService) Validate(ctx context.Context, code string, subtotal int64, now time.Time) (CouponQuote, error) {
	coupon, err := s.lookup(ctx, code)
	if err != nil {
		return CouponQuote{}, err
	}
	if err := coupon.Check(subtotal, now); err != nil {
		return CouponQuote{}, err
	}
	return CouponQuote{
		CouponID:     coupon.ID,
		Code:         coupon.Code,
		DiscountType: coupon.DiscountType,
		Subtotal:     subtotal,
		Discount:     coupon.DiscountFor(subtotal),
	}, nil
}

// PreviewForCart validates code against the live subtotal of the owner's cart without counting a use.
func (s *couponService) PreviewForCart(ctx context.Context, owner Owner, code string) (CouponQuote, error) {
	if owner.IsZero() {
		return CouponQuote{}, ErrCartInvalidInput
	}
	cart, err := s.carts.FindByOwner(ctx, owner.Key())
	if err != nil {
		if isRepoNotFound(err) {
			return CouponQuote{}, ErrCartEmpty
		}
		return CouponQuote{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	lines, err := s.carts.Lines(ctx, cart.ID)
	if err != nil {
		return CouponQuote{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	if len(lines) == 0 {
		return CouponQuote{}, ErrCartEmpty
	}
	subtotal, _ := cartTotals(lines)
	return s.Validate(ctx, code, subtotal, s.now())
}

func (s *couponService) lookup(ctx context.Context, code string) (domain.Coupon, error) {
	folded := textutil.FoldCode(code)
	if folded == "" {
		return domain.Coupon{}, ErrCouponNotFound
	}
	coupon, err := s.coupons.FindByCode(ctx, folded)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Coupon{}, ErrCouponNotFound
		}
		s.logger(ctx, "coupon.lookup.failed", map[string]any{"error": err})
		return domain.Coupon{}, fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
	}
	return coupon, nil
}

// IsCouponError reports whether err is one of the coupon rule failures.
func IsCouponError(err error) bool {
	return errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrCouponNotYetActive) ||
		errors.Is(err, ErrCouponExpired) ||
		errors.Is(err, ErrCouponExhausted) ||
		errors.Is(err, ErrCouponMinimumNotMet)
}
