package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/database"
)

// CartRepository implements repositories.CartRepository on PostgreSQL.
type CartRepository struct {
	provider *database.Provider
	newID    func() string
}

// NewCartRepository constructs a cart repository.
func NewCartRepository(provider *database.Provider) *CartRepository {
	return &CartRepository{
		provider: provider,
		newID:    func() string { return ulid.Make().String() },
	}
}

// GetOrCreate inserts an empty cart for ownerKey unless one exists, then loads it.
func (r *CartRepository) GetOrCreate(ctx context.Context, ownerKey string, now time.Time) (domain.Cart, error) {
	ownerKey = strings.TrimSpace(ownerKey)
	if ownerKey == "" {
		return domain.Cart{}, errors.New("cart repository: owner key is required")
	}
	model := cartModel{ID: r.newID(), OwnerKey: ownerKey, CreatedAt: now, UpdatedAt: now}
	err := r.provider.DB(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_key"}}, DoNothing: true}).
		Omit(clause.Associations).
		Create(&model).Error
	if err != nil {
		return domain.Cart{}, database.WrapError("carts.getOrCreate", err)
	}
	return r.FindByOwner(ctx, ownerKey)
}

func (r *CartRepository) FindByOwner(ctx context.Context, ownerKey string) (domain.Cart, error) {
	var model cartModel
	err := r.provider.DB(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("added_at ASC, id ASC") }).
		Where("owner_key = ?", ownerKey).
		First(&model).Error
	if err != nil {
		return domain.Cart{}, database.WrapError("carts.findByOwner", err)
	}
	return model.toDomain(), nil
}

// Lines loads the cart items together with the current product rows.
func (r *CartRepository) Lines(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	db := r.provider.DB(ctx)

	var items []cartItemModel
	if err := db.Where("cart_id = ?", cartID).Order("added_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, database.WrapError("carts.lines", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	var products []productModel
	if err := db.Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, database.WrapError("carts.lines.products", err)
	}
	byID := make(map[string]productModel, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}

	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, database.NotFound("carts.lines.product " + item.ProductID)
		}
		lines = append(lines, domain.CartLine{Item: item.toDomain(), Product: product.toDomain()})
	}
	return lines, nil
}

// UpsertItem adds the item, or increases the quantity of an existing line for the same product.
func (r *CartRepository) UpsertItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error) {
	if item.ID == "" {
		item.ID = r.newID()
	}
	model := cartItemFromDomain(item)
	err := r.provider.DB(ctx).
		Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "cart_id"}, {Name: "product_id"}},
				DoUpdates: clause.Assignments(map[string]any{
					"quantity":       gorm.Expr("cart_items.quantity + excluded.quantity"),
					"price_snapshot": gorm.Expr("excluded.price_snapshot"),
					"updated_at":     gorm.Expr("excluded.updated_at"),
				}),
			},
			clause.Returning{},
		).
		Create(&model).Error
	if err != nil {
		return domain.CartItem{}, database.WrapError("carts.upsertItem", err)
	}
	if err := r.touch(ctx, item.CartID, item.UpdatedAt); err != nil {
		return domain.CartItem{}, err
	}
	return model.toDomain(), nil
}

func (r *CartRepository) UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int, now time.Time) error {
	res := r.provider.DB(ctx).
		Model(&cartItemModel{}).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		Updates(map[string]any{"quantity": quantity, "updated_at": now})
	if res.Error != nil {
		return database.WrapError("carts.updateItem", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound("carts.updateItem")
	}
	return r.touch(ctx, cartID, now)
}

func (r *CartRepository) DeleteItem(ctx context.Context, cartID, itemID string) error {
	res := r.provider.DB(ctx).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		Delete(&cartItemModel{})
	if res.Error != nil {
		return database.WrapError("carts.deleteItem", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound("carts.deleteItem")
	}
	return nil
}

// ClearItems removes every item in the cart. The cart row itself is kept.
func (r *CartRepository) ClearItems(ctx context.Context, cartID string) error {
	err := r.provider.DB(ctx).Where("cart_id = ?", cartID).Delete(&cartItemModel{}).Error
	return database.WrapError("carts.clearItems", err)
}

func (r *CartRepository) touch(ctx context.Context, cartID string, now time.Time) error {
	err := r.provider.DB(ctx).
		Model(&cartModel{}).
		Where("id = ?", cartID).
		Update("updated_at", now).Error
	return database.WrapError("carts.touch", err)
}
