package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/database"
	"github.com/hanko-field/storefront/internal/platform/pagination"
)

// OrderRepository implements repositories.OrderRepository on PostgreSQL.
type OrderRepository struct {
	provider *database.Provider
}

// NewOrderRepository constructs an order repository.
func NewOrderRepository(provider *database.Provider) *OrderRepository {
	return &OrderRepository{provider: provider}
}

// Insert writes the order header followed by its items.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if order.ID == "" {
		return errors.New("orders: id is required")
	}
	db := r.provider.DB(ctx)
	model := orderFromDomain(order)
	if err := db.Omit(clause.Associations).Create(&model).Error; err != nil {
		return database.WrapError("orders.insert", err)
	}
	if len(order.Items) == 0 {
		return nil
	}
	items := make([]orderItemModel, 0, len(order.Items))
	for _, item := range order.Items {
		item.OrderID = order.ID
		items = append(items, orderItemFromDomain(item))
	}
	if err := db.Create(&items).Error; err != nil {
		return database.WrapError("orders.insertItems", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.findByID", "id = ?", orderID)
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findOne(ctx, "orders.findByNumber", "order_number = ?", orderNumber)
}

func (r *OrderRepository) findOne(ctx context.Context, op, query string, arg any) (domain.Order, error) {
	var model orderModel
	err := r.provider.DB(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where(query, arg).
		First(&model).Error
	if err != nil {
		return domain.Order{}, database.WrapError(op, err)
	}
	return model.toDomain(), nil
}

// List returns orders newest first. Page tokens carry an offset.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter) (domain.Page[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	pageSize := pagination.Clamp(filter.Pagination.PageSize)

	query := r.provider.DB(ctx).Model(&orderModel{})
	if filter.OwnerKey != "" {
		query = query.Where("owner_key = ?", filter.OwnerKey)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status IN ?", statuses)
	}

	var models []orderModel
	err = query.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("created_at DESC, id DESC").
		Offset(cursor.Offset).
		Limit(pageSize + 1).
		Find(&models).Error
	if err != nil {
		return domain.Page[domain.Order]{}, database.WrapError("orders.list", err)
	}

	page := domain.Page[domain.Order]{
		NextPageToken: pagination.NextToken(cursor.Offset, pageSize, len(models)),
	}
	if len(models) > pageSize {
		models = models[:pageSize]
	}
	page.Items = make([]domain.Order, 0, len(models))
	for _, model := range models {
		page.Items = append(page.Items, model.toDomain())
	}
	return page, nil
}

// UpdateStatus writes the update only while the row still holds ExpectedStatus.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update domain.OrderStatusUpdate) (bool, error) {
	values := map[string]any{
		"status":     string(update.Status),
		"updated_at": update.UpdatedAt,
	}
	if update.PaymentStatus != nil {
		values["payment_status"] = string(*update.PaymentStatus)
	}
	if update.TrackingNumber != nil {
		values["tracking_number"] = *update.TrackingNumber
	}
	if update.TrackingURL != nil {
		values["tracking_url"] = *update.TrackingURL
	}
	if update.InternalNotes != nil {
		values["internal_notes"] = *update.InternalNotes
	}
	if update.PaidAt != nil {
		values["paid_at"] = *update.PaidAt
	}
	if update.ShippedAt != nil {
		values["shipped_at"] = *update.ShippedAt
	}
	if update.DeliveredAt != nil {
		values["delivered_at"] = *update.DeliveredAt
	}
	if update.CancelledAt != nil {
		values["cancelled_at"] = *update.CancelledAt
	}

	res := r.provider.DB(ctx).
		Model(&orderModel{}).
		Where("id = ? AND status = ?", update.OrderID, string(update.ExpectedStatus)).
		Updates(values)
	if res.Error != nil {
		return false, database.WrapError("orders.updateStatus", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *OrderRepository) UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus, updatedAt time.Time) error {
	return r.updateColumns(ctx, "orders.updatePaymentStatus", orderID, map[string]any{
		"payment_status": string(status),
		"updated_at":     updatedAt,
	})
}

func (r *OrderRepository) SetPaymentReference(ctx context.Context, orderID, provider, reference string, updatedAt time.Time) error {
	return r.updateColumns(ctx, "orders.setPaymentReference", orderID, map[string]any{
		"payment_provider":  provider,
		"payment_reference": reference,
		"updated_at":        updatedAt,
	})
}

func (r *OrderRepository) updateColumns(ctx context.Context, op, orderID string, values map[string]any) error {
	res := r.provider.DB(ctx).Model(&orderModel{}).Where("id = ?", orderID).Updates(values)
	if res.Error != nil {
		return database.WrapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound(op)
	}
	return nil
}
