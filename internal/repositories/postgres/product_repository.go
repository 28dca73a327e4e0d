package postgres

import (
	"context"
	"errors"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/database"
)

const (
	decrementStockSQL = `UPDATE products SET stock = GREATEST(stock - ?, 0), updated_at = ? ` +
		`WHERE id = ? AND (NOT track_inventory OR allow_backorder OR stock >= ?)`
	incrementStockSQL = `UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?`
)

// ProductRepository implements repositories.ProductRepository on PostgreSQL.
type ProductRepository struct {
	provider *database.Provider
	now      func() time.Time
}

// NewProductRepository constructs a product repository.
func NewProductRepository(provider *database.Provider) *ProductRepository {
	return &ProductRepository{
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var model productModel
	if err := r.provider.DB(ctx).Where("id = ?", productID).First(&model).Error; err != nil {
		return domain.Product{}, database.WrapError("products.findByID", err)
	}
	return model.toDomain(), nil
}

// DecrementStock removes qty units as a single conditional statement. Products that do not require
// stock are floored at zero; products that do are left untouched when short and false is returned.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, errors.New("products: quantity must be positive")
	}
	res := r.provider.DB(ctx).Exec(decrementStockSQL, qty, r.now(), productID, qty)
	if res.Error != nil {
		return false, database.WrapError("products.decrementStock", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *ProductRepository) IncrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return errors.New("products: quantity must be positive")
	}
	res := r.provider.DB(ctx).Exec(incrementStockSQL, qty, r.now(), productID)
	if res.Error != nil {
		return database.WrapError("products.incrementStock", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound("products.incrementStock")
	}
	return nil
}
