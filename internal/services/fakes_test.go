package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

type fakeRepositoryError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepositoryError) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	default:
		return "unavailable"
	}
}

func (e fakeRepositoryError) IsNotFound() bool    { return e.notFound }
func (e fakeRepositoryError) IsConflict() bool    { return e.conflict }
func (e fakeRepositoryError) IsUnavailable() bool { return e.unavailable }

var errNotFound = fakeRepositoryError{notFound: true}

// memStore is an in-memory stand-in for the relational store. RunInTx serialises
// transactions and restores a snapshot when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products map[string]domain.Product
	carts    map[string]domain.Cart
	orders   map[string]domain.Order
	coupons  map[string]domain.Coupon
	counters map[string]int64
	seq      int
	inserted []domain.Order

	failInsert     error
	couponRaceLost bool
}

var (
	_ repositories.CartRepository    = (*memStore)(nil)
	_ repositories.ProductRepository = (*memStore)(nil)
	_ repositories.OrderRepository   = memOrders{}
	_ repositories.CouponRepository  = (*memStore)(nil)
	_ repositories.CounterRepository = (*memStore)(nil)
	_ repositories.UnitOfWork        = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		products: map[string]domain.Product{},
		carts:    map[string]domain.Cart{},
		orders:   map[string]domain.Order{},
		coupons:  map[string]domain.Coupon{},
		counters: map[string]int64{},
	}
}

type memSnapshot struct {
	products map[string]domain.Product
	carts    map[string]domain.Cart
	orders   map[string]domain.Order
	coupons  map[string]domain.Coupon
	counters map[string]int64
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := memSnapshot{
		products: make(map[string]domain.Product, len(m.products)),
		carts:    make(map[string]domain.Cart, len(m.carts)),
		orders:   make(map[string]domain.Order, len(m.orders)),
		coupons:  make(map[string]domain.Coupon, len(m.coupons)),
		counters: make(map[string]int64, len(m.counters)),
	}
	for k, v := range m.products {
		snap.products[k] = v
	}
	for k, v := range m.carts {
		v.Items = append([]domain.CartItem(nil), v.Items...)
		snap.carts[k] = v
	}
	for k, v := range m.orders {
		v.Items = append([]domain.OrderItem(nil), v.Items...)
		snap.orders[k] = v
	}
	for k, v := range m.coupons {
		snap.coupons[k] = v
	}
	for k, v := range m.counters {
		snap.counters[k] = v
	}
	return snap
}

func (m *memStore) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = snap.products
	m.carts = snap.carts
	m.orders = snap.orders
	m.coupons = snap.coupons
	m.counters = snap.counters
}

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.snapshot()
	if err := fn(ctx); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) addProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Currency == "" {
		p.Currency = "JPY"
	}
	p.Active = true
	m.products[p.ID] = p
}

func (m *memStore) product(id string) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id]
}

func (m *memStore) addCartItem(ownerKey, productID string, qty int) domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[ownerKey]
	if !ok {
		m.seq++
		cart = domain.Cart{ID: fmt.Sprintf("cart_%d", m.seq), OwnerKey: ownerKey}
	}
	m.seq++
	cart.Items = append(cart.Items, domain.CartItem{
		ID:        fmt.Sprintf("item_%d", m.seq),
		CartID:    cart.ID,
		ProductID: productID,
		Quantity:  qty,
	})
	m.carts[ownerKey] = cart
	return cart
}

func (m *memStore) cart(ownerKey string) domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.carts[ownerKey]
}

func (m *memStore) order(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memStore) putOrder(order domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
}

func (m *memStore) coupon(code string) domain.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[strings.ToLower(code)]
}

func (m *memStore) addCoupon(c domain.Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[strings.ToLower(c.Code)] = c
}

func (m *memStore) cartByID(cartID string) (string, domain.Cart, bool) {
	for key, cart := range m.carts {
		if cart.ID == cartID {
			return key, cart, true
		}
	}
	return "", domain.Cart{}, false
}

// CartRepository

func (m *memStore) GetOrCreate(ctx context.Context, ownerKey string, now time.Time) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[ownerKey]
	if !ok {
		m.seq++
		cart = domain.Cart{ID: fmt.Sprintf("cart_%d", m.seq), OwnerKey: ownerKey, CreatedAt: now, UpdatedAt: now}
		m.carts[ownerKey] = cart
	}
	return cart, nil
}

func (m *memStore) FindByOwner(ctx context.Context, ownerKey string) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[ownerKey]
	if !ok {
		return domain.Cart{}, errNotFound
	}
	return cart, nil
}

func (m *memStore) Lines(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, cart, ok := m.cartByID(cartID)
	if !ok {
		return nil, nil
	}
	lines := make([]domain.CartLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		product, ok := m.products[item.ProductID]
		if !ok {
			return nil, errNotFound
		}
		lines = append(lines, domain.CartLine{Item: item, Product: product})
	}
	return lines, nil
}

func (m *memStore) UpsertItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, cart, ok := m.cartByID(item.CartID)
	if !ok {
		return domain.CartItem{}, errNotFound
	}
	for i, existing := range cart.Items {
		if existing.ProductID == item.ProductID {
			cart.Items[i].Quantity += item.Quantity
			cart.Items[i].PriceSnapshot = item.PriceSnapshot
			m.carts[key] = cart
			return cart.Items[i], nil
		}
	}
	cart.Items = append(cart.Items, item)
	m.carts[key] = cart
	return item, nil
}

func (m *memStore) UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, cart, ok := m.cartByID(cartID)
	if !ok {
		return errNotFound
	}
	for i, existing := range cart.Items {
		if existing.ID == itemID {
			cart.Items[i].Quantity = quantity
			m.carts[key] = cart
			return nil
		}
	}
	return errNotFound
}

func (m *memStore) DeleteItem(ctx context.Context, cartID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, cart, ok := m.cartByID(cartID)
	if !ok {
		return errNotFound
	}
	for i, existing := range cart.Items {
		if existing.ID == itemID {
			cart.Items = append(cart.Items[:i:i], cart.Items[i+1:]...)
			m.carts[key] = cart
			return nil
		}
	}
	return errNotFound
}

func (m *memStore) ClearItems(ctx context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, cart, ok := m.cartByID(cartID)
	if !ok {
		return errNotFound
	}
	cart.Items = nil
	m.carts[key] = cart
	return nil
}

// ProductRepository

func (m *memStore) FindByID(ctx context.Context, id string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[id]
	if !ok {
		return domain.Product{}, errNotFound
	}
	return product, nil
}

func (m *memStore) DecrementStock(ctx context.Context, productID string, qty int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[productID]
	if !ok {
		return false, errNotFound
	}
	if product.RequiresStock() && product.Stock < qty {
		return false, nil
	}
	product.Stock -= qty
	m.products[productID] = product
	return true, nil
}

func (m *memStore) IncrementStock(ctx context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[productID]
	if !ok {
		return errNotFound
	}
	product.Stock += qty
	m.products[productID] = product
	return nil
}

// OrderRepository. FindByID is taken by products, so orders are reached through memOrders.

type memOrders struct{ *memStore }

func (o memOrders) Insert(ctx context.Context, order domain.Order) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failInsert != nil {
		return o.failInsert
	}
	for _, existing := range o.orders {
		if existing.OrderNumber == order.OrderNumber {
			return fakeRepositoryError{conflict: true}
		}
	}
	o.orders[order.ID] = order
	o.inserted = append(o.inserted, order)
	return nil
}

func (o memOrders) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[orderID]
	if !ok {
		return domain.Order{}, errNotFound
	}
	return order, nil
}

func (o memOrders) FindByNumber(ctx context.Context, number string) (domain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, order := range o.orders {
		if order.OrderNumber == number {
			return order, nil
		}
	}
	return domain.Order{}, errNotFound
}

func (o memOrders) List(ctx context.Context, filter domain.OrderFilter) (domain.Page[domain.Order], error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var items []domain.Order
	for _, order := range o.orders {
		if filter.OwnerKey != "" && order.OwnerKey != filter.OwnerKey {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, status := range filter.Statuses {
				if order.Status == status {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		items = append(items, order)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return domain.Page[domain.Order]{Items: items}, nil
}

func (o memOrders) UpdateStatus(ctx context.Context, update domain.OrderStatusUpdate) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[update.OrderID]
	if !ok || order.Status != update.ExpectedStatus {
		return false, nil
	}
	o.orders[update.OrderID] = applyUpdate(order, update)
	return true, nil
}

func (o memOrders) UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus, updatedAt time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[orderID]
	if !ok {
		return errNotFound
	}
	order.PaymentStatus = status
	o.orders[orderID] = order
	return nil
}

func (o memOrders) SetPaymentReference(ctx context.Context, orderID, provider, reference string, updatedAt time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[orderID]
	if !ok {
		return errNotFound
	}
	order.PaymentProvider = provider
	order.PaymentReference = reference
	o.orders[orderID] = order
	return nil
}

// CouponRepository

func (m *memStore) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coupon, ok := m.coupons[strings.ToLower(code)]
	if !ok {
		return domain.Coupon{}, errNotFound
	}
	return coupon, nil
}

func (m *memStore) IncrementUsage(ctx context.Context, couponID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.couponRaceLost {
		return false, nil
	}
	for key, coupon := range m.coupons {
		if coupon.ID != couponID {
			continue
		}
		if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
			return false, nil
		}
		coupon.UsedCount++
		m.coupons[key] = coupon
		return true, nil
	}
	return false, errNotFound
}

// CounterRepository

func (m *memStore) Next(ctx context.Context, scope, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope + "/" + name
	m.counters[key]++
	return m.counters[key], nil
}

// stubGateway implements PaymentGateway.
type stubGateway struct {
	mu        sync.Mutex
	intent    payments.Intent
	intentErr error
	payment   payments.Payment
	fetchErr  error
	requests  []payments.IntentRequest
	fetches   int
}

func (g *stubGateway) Default() string { return "stripe" }

func (g *stubGateway) CreatePaymentIntent(ctx context.Context, provider string, req payments.IntentRequest) (payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.intentErr != nil {
		return payments.Intent{}, g.intentErr
	}
	intent := g.intent
	if intent.Provider == "" {
		intent.Provider = "stripe"
	}
	return intent, nil
}

func (g *stubGateway) FetchPayment(ctx context.Context, provider, paymentID string) (payments.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return payments.Payment{}, g.fetchErr
	}
	return g.payment, nil
}

type stubDispatcher struct {
	mu       sync.Mutex
	messages []OrderConfirmation
	err      error
}

func (d *stubDispatcher) EnqueueOrderConfirmation(ctx context.Context, msg OrderConfirmation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.messages = append(d.messages, msg)
	return nil
}

type stubAuthorizer struct {
	allowed map[string]bool
}

func (a stubAuthorizer) Authorize(ctx context.Context, capability string) error {
	if a.allowed[capability] {
		return nil
	}
	return errors.New("forbidden")
}

func allowAll() stubAuthorizer {
	return stubAuthorizer{allowed: map[string]bool{
		CapabilityReadAllOrders:     true,
		CapabilityUpdateOrderStatus: true,
	}}
}

type recordedEvent struct {
	event  string
	fields map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) log(ctx context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event: event, fields: fields})
}

func (r *eventRecorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.event == event {
			return true
		}
	}
	return false
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
