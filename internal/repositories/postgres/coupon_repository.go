package postgres

import (
	"context"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/database"
	"github.com/hanko-field/storefront/internal/platform/textutil"
)

const incrementCouponSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = ? ` +
	`WHERE id = ? AND (usage_limit IS NULL OR used_count < usage_limit)`

// CouponRepository implements repositories.CouponRepository on PostgreSQL.
type CouponRepository struct {
	provider *database.Provider
	now      func() time.Time
}

// NewCouponRepository constructs a coupon repository.
func NewCouponRepository(provider *database.Provider) *CouponRepository {
	return &CouponRepository{
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FindByCode matches against code_key, which holds the code folded by textutil.FoldCode.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	var model couponModel
	if err := r.provider.DB(ctx).Where("code_key = ?", textutil.FoldCode(code)).First(&model).Error; err != nil {
		return domain.Coupon{}, database.WrapError("coupons.findByCode", err)
	}
	return model.toDomain(), nil
}

func (r *CouponRepository) IncrementUsage(ctx context.Context, couponID string) (bool, error) {
	res := r.provider.DB(ctx).Exec(incrementCouponSQL, r.now(), couponID)
	if res.Error != nil {
		return false, database.WrapError("coupons.incrementUsage", res.Error)
	}
	return res.RowsAffected == 1, nil
}
