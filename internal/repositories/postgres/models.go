package postgres

import (
	"time"

	"gorm.io/gorm"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/textutil"
)

type productModel struct {
	ID             string `gorm:"primaryKey"`
	SKU            string `gorm:"column:sku"`
	Name           string
	Price          int64
	Currency       string
	Stock          int
	TrackInventory bool
	AllowBackorder bool
	WeightGrams    int
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (productModel) TableName() string { return "products" }

func (m productModel) toDomain() domain.Product {
	return domain.Product{
		ID:             m.ID,
		SKU:            m.SKU,
		Name:           m.Name,
		Price:          m.Price,
		Currency:       m.Currency,
		Stock:          m.Stock,
		TrackInventory: m.TrackInventory,
		AllowBackorder: m.AllowBackorder,
		WeightGrams:    m.WeightGrams,
		Active:         m.Active,
	}
}

type cartModel struct {
	ID        string `gorm:"primaryKey"`
	OwnerKey  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Items     []cartItemModel `gorm:"foreignKey:CartID"`
}

func (cartModel) TableName() string { return "carts" }

func (m cartModel) toDomain() domain.Cart {
	cart := domain.Cart{
		ID:        m.ID,
		OwnerKey:  m.OwnerKey,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Items:     make([]domain.CartItem, 0, len(m.Items)),
	}
	for _, item := range m.Items {
		cart.Items = append(cart.Items, item.toDomain())
	}
	return cart
}

type cartItemModel struct {
	ID            string `gorm:"primaryKey"`
	CartID        string
	ProductID     string
	Quantity      int
	PriceSnapshot int64
	AddedAt       time.Time
	UpdatedAt     time.Time
}

func (cartItemModel) TableName() string { return "cart_items" }

func (m cartItemModel) toDomain() domain.CartItem {
	return domain.CartItem{
		ID:            m.ID,
		CartID:        m.CartID,
		ProductID:     m.ProductID,
		Quantity:      m.Quantity,
		PriceSnapshot: m.PriceSnapshot,
		AddedAt:       m.AddedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func cartItemFromDomain(item domain.CartItem) cartItemModel {
	return cartItemModel{
		ID:            item.ID,
		CartID:        item.CartID,
		ProductID:     item.ProductID,
		Quantity:      item.Quantity,
		PriceSnapshot: item.PriceSnapshot,
		AddedAt:       item.AddedAt,
		UpdatedAt:     item.UpdatedAt,
	}
}

type couponModel struct {
	ID            string `gorm:"primaryKey"`
	Code          string
	CodeKey       string
	DiscountType  string
	DiscountValue int64
	UsedCount     int
	UsageLimit    *int
	StartsAt      *time.Time
	ExpiresAt     *time.Time
	MinimumOrder  int64
	MaxDiscount   *int64
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (couponModel) TableName() string { return "coupons" }

// BeforeSave keeps code_key folded the same way lookups fold user input.
func (m *couponModel) BeforeSave(tx *gorm.DB) error {
	m.CodeKey = textutil.FoldCode(m.Code)
	return nil
}

func (m couponModel) toDomain() domain.Coupon {
	return domain.Coupon{
		ID:            m.ID,
		Code:          m.Code,
		DiscountType:  domain.DiscountType(m.DiscountType),
		DiscountValue: m.DiscountValue,
		UsedCount:     m.UsedCount,
		UsageLimit:    m.UsageLimit,
		StartsAt:      m.StartsAt,
		ExpiresAt:     m.ExpiresAt,
		MinimumOrder:  m.MinimumOrder,
		MaxDiscount:   m.MaxDiscount,
		Active:        m.Active,
	}
}

type addressColumns struct {
	Recipient  string
	Company    string
	Line1      string `gorm:"column:line1"`
	Line2      string `gorm:"column:line2"`
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

type orderModel struct {
	ID               string `gorm:"primaryKey"`
	OrderNumber      string
	OwnerKey         string
	UserID           *string
	Email            string
	Status           string
	PaymentStatus    string
	Currency         string
	Subtotal         int64
	ShippingCost     int64
	Discount         int64
	Total            int64
	CouponCode       *string
	ShippingZone     string
	Shipping         addressColumns `gorm:"embedded;embeddedPrefix:shipping_"`
	CustomerNotes    string
	InternalNotes    string
	TrackingNumber   string
	TrackingURL      string `gorm:"column:tracking_url"`
	PaymentProvider  string
	PaymentReference string
	PaidAt           *time.Time
	ShippedAt        *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []orderItemModel `gorm:"foreignKey:OrderID"`
}

func (orderModel) TableName() string { return "orders" }

func (m orderModel) toDomain() domain.Order {
	order := domain.Order{
		ID:            m.ID,
		OrderNumber:   m.OrderNumber,
		OwnerKey:      m.OwnerKey,
		UserID:        deref(m.UserID),
		Email:         m.Email,
		Status:        domain.OrderStatus(m.Status),
		PaymentStatus: domain.PaymentStatus(m.PaymentStatus),
		Currency:      m.Currency,
		Totals: domain.OrderTotals{
			Subtotal: m.Subtotal,
			Shipping: m.ShippingCost,
			Discount: m.Discount,
			Total:    m.Total,
		},
		CouponCode:   deref(m.CouponCode),
		ShippingZone: domain.ShippingZone(m.ShippingZone),
		ShippingAddress: domain.Address{
			Recipient:  m.Shipping.Recipient,
			Company:    m.Shipping.Company,
			Line1:      m.Shipping.Line1,
			Line2:      m.Shipping.Line2,
			City:       m.Shipping.City,
			State:      m.Shipping.State,
			PostalCode: m.Shipping.PostalCode,
			Country:    m.Shipping.Country,
			Phone:      m.Shipping.Phone,
		},
		CustomerNotes:    m.CustomerNotes,
		InternalNotes:    m.InternalNotes,
		TrackingNumber:   m.TrackingNumber,
		TrackingURL:      m.TrackingURL,
		PaymentProvider:  m.PaymentProvider,
		PaymentReference: m.PaymentReference,
		PaidAt:           m.PaidAt,
		ShippedAt:        m.ShippedAt,
		DeliveredAt:      m.DeliveredAt,
		CancelledAt:      m.CancelledAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if len(m.Items) > 0 {
		order.Items = make([]domain.OrderItem, 0, len(m.Items))
		for _, item := range m.Items {
			order.Items = append(order.Items, item.toDomain())
		}
	}
	return order
}

func orderFromDomain(order domain.Order) orderModel {
	addr := order.ShippingAddress
	model := orderModel{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		OwnerKey:      order.OwnerKey,
		UserID:        ptrIfSet(order.UserID),
		Email:         order.Email,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      order.Currency,
		Subtotal:      order.Totals.Subtotal,
		ShippingCost:  order.Totals.Shipping,
		Discount:      order.Totals.Discount,
		Total:         order.Totals.Total,
		CouponCode:    ptrIfSet(order.CouponCode),
		ShippingZone:  string(order.ShippingZone),
		Shipping: addressColumns{
			Recipient:  addr.Recipient,
			Company:    addr.Company,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			Phone:      addr.Phone,
		},
		CustomerNotes:    order.CustomerNotes,
		InternalNotes:    order.InternalNotes,
		TrackingNumber:   order.TrackingNumber,
		TrackingURL:      order.TrackingURL,
		PaymentProvider:  order.PaymentProvider,
		PaymentReference: order.PaymentReference,
		PaidAt:           order.PaidAt,
		ShippedAt:        order.ShippedAt,
		DeliveredAt:      order.DeliveredAt,
		CancelledAt:      order.CancelledAt,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
	return model
}

type orderItemModel struct {
	ID          string `gorm:"primaryKey"`
	OrderID     string
	ProductID   string
	SKU         string `gorm:"column:sku"`
	ProductName string
	Quantity    int
	UnitPrice   int64
	LineTotal   int64
}

func (orderItemModel) TableName() string { return "order_items" }

func (m orderItemModel) toDomain() domain.OrderItem {
	return domain.OrderItem{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ProductID:   m.ProductID,
		SKU:         m.SKU,
		ProductName: m.ProductName,
		Quantity:    m.Quantity,
		UnitPrice:   m.UnitPrice,
		LineTotal:   m.LineTotal,
	}
}

func orderItemFromDomain(item domain.OrderItem) orderItemModel {
	return orderItemModel{
		ID:          item.ID,
		OrderID:     item.OrderID,
		ProductID:   item.ProductID,
		SKU:         item.SKU,
		ProductName: item.ProductName,
		Quantity:    item.Quantity,
		UnitPrice:   item.UnitPrice,
		LineTotal:   item.LineTotal,
	}
}

type counterModel struct {
	Scope string `gorm:"primaryKey"`
	Name  string `gorm:"primaryKey"`
	Value int64
}

func (counterModel) TableName() string { return "counters" }

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func ptrIfSet(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
