package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/textutil"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	orderCounterScope      = "orders"
	maxCustomerNotesLength = 1000
	maxAddressFieldLength  = 200
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates the owner's cart has no items.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutInsufficientStock indicates a product cannot cover the requested quantity.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutProductUnavailable indicates a cart product is no longer sold.
	ErrCheckoutProductUnavailable = errors.New("checkout: product unavailable")
	// ErrCheckoutConflict indicates a concurrent write aborted the order transaction; retrying may succeed.
	ErrCheckoutConflict = errors.New("checkout: conflict")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutPaymentFailed indicates the gateway payment could not be opened.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutOrderNotPayable indicates the order no longer awaits payment.
	ErrCheckoutOrderNotPayable = errors.New("checkout: order not payable")
)

// InsufficientStockError names the product that could not cover the requested quantity.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("checkout: insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrCheckoutInsufficientStock
}

// PaymentSetupError reports a committed order whose gateway payment could not be opened.
// The order stays pending and payment can be retried.
type PaymentSetupError struct {
	OrderID     string
	OrderNumber string
	Err         error
}

func (e *PaymentSetupError) Error() string {
	return fmt.Sprintf("checkout: payment for order %s failed: %v", e.OrderID, e.Err)
}

func (e *PaymentSetupError) Unwrap() []error {
	return []error{ErrCheckoutPaymentFailed, e.Err}
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts         repositories.CartRepository
	Products      repositories.ProductRepository
	Orders        repositories.OrderRepository
	Coupons       repositories.CouponRepository
	Counters      repositories.CounterRepository
	UnitOfWork    repositories.UnitOfWork
	CouponService CouponService
	Payments      PaymentGateway
	Notifications NotificationDispatcher
	ShippingRates domain.ShippingRates
	Currency      string
	SuccessURL    string
	CancelURL     string
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        Logger
}

type checkoutService struct {
	carts         repositories.CartRepository
	products      repositories.ProductRepository
	orders        repositories.OrderRepository
	coupons       repositories.CouponRepository
	counters      repositories.CounterRepository
	uow           repositories.UnitOfWork
	transitions   orderTransitioner
	couponService CouponService
	payments      PaymentGateway
	notifications NotificationDispatcher
	rates         domain.ShippingRates
	currency      string
	successURL    string
	cancelURL     string
	now           func() time.Time
	newID         func() string
	logger        Logger
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Products == nil:
		return nil, errors.New("checkout service: product repository is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Coupons == nil:
		return nil, errors.New("checkout service: coupon repository is required")
	case deps.Counters == nil:
		return nil, errors.New("checkout service: counter repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("checkout service: unit of work is required")
	case deps.CouponService == nil:
		return nil, errors.New("checkout service: coupon service is required")
	case deps.Payments == nil:
		return nil, errors.New("checkout service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	rates := deps.ShippingRates
	if rates == (domain.ShippingRates{}) {
		rates = domain.DefaultShippingRates()
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "JPY"
	}

	return &checkoutService{
		carts:         deps.Carts,
		products:      deps.Products,
		orders:        deps.Orders,
		coupons:       deps.Coupons,
		counters:      deps.Counters,
		uow:           deps.UnitOfWork,
		transitions:   orderTransitioner{orders: deps.Orders, products: deps.Products, logger: logger},
		couponService: deps.CouponService,
		payments:      deps.Payments,
		notifications: deps.Notifications,
		rates:         rates,
		currency:      currency,
		successURL:    strings.TrimSpace(deps.SuccessURL),
		cancelURL:     strings.TrimSpace(deps.CancelURL),
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// PlaceOrder materialises the owner's cart into a pending order in one transaction, then
// hands off the confirmation and opens the gateway payment.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error) {
	cmd, err := s.normaliseCommand(cmd)
	if err != nil {
		return PlacedOrder{}, err
	}

	cart, err := s.carts.FindByOwner(ctx, cmd.Owner.Key())
	if err != nil {
		if isRepoNotFound(err) {
			return PlacedOrder{}, ErrCheckoutEmptyCart
		}
		return PlacedOrder{}, s.unavailable(ctx, "checkout.cart.failed", err)
	}
	if cmd.CartID != "" && cmd.CartID != cart.ID {
		return PlacedOrder{}, fmt.Errorf("%w: cart does not belong to caller", ErrCheckoutInvalidInput)
	}
	lines, err := s.carts.Lines(ctx, cart.ID)
	if err != nil {
		return PlacedOrder{}, s.unavailable(ctx, "checkout.lines.failed", err)
	}
	if len(lines) == 0 {
		return PlacedOrder{}, ErrCheckoutEmptyCart
	}
	if err := s.checkAvailability(lines); err != nil {
		return PlacedOrder{}, err
	}

	now := s.now()
	subtotal, weight := cartTotals(lines)
	shipping := s.rates.Cost(cmd.Zone, weight)

	var quote *CouponQuote
	if cmd.CouponCode != "" {
		q, err := s.couponService.Validate(ctx, cmd.CouponCode, subtotal, now)
		if err != nil {
			return PlacedOrder{}, err
		}
		quote = &q
	}

	order := s.buildOrder(cmd, lines, subtotal, shipping, quote, now)

	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		seq, err := s.counters.Next(txCtx, orderCounterScope, strconv.Itoa(now.Year()))
		if err != nil {
			return err
		}
		order.OrderNumber = formatOrderNumber(now.Year(), seq)
		if err := s.orders.Insert(txCtx, order); err != nil {
			return err
		}
		for _, line := range lines {
			ok, err := s.products.DecrementStock(txCtx, line.Product.ID, line.Item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return s.stockShortfall(txCtx, line)
			}
		}
		if quote != nil {
			ok, err := s.coupons.IncrementUsage(txCtx, quote.CouponID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrCouponExhausted
			}
		}
		return s.carts.ClearItems(txCtx, cart.ID)
	})
	if err != nil {
		return PlacedOrder{}, s.classifyTxError(ctx, err)
	}

	s.logger(ctx, "checkout.order.placed", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"total":       order.Totals.Total,
		"items":       len(order.Items),
		"coupon":      order.CouponCode,
		"idempotency": cmd.IdempotencyKey,
	})
	s.enqueueConfirmation(ctx, order)

	if order.Totals.Total == 0 {
		return s.settleFreeOrder(ctx, order), nil
	}
	placed := placedOrder(order)
	return s.openPayment(ctx, order, placed, cmd.SuccessURL, cmd.CancelURL, "order:"+order.ID)
}

// settleFreeOrder moves a committed zero-total order from pending to paid. There is nothing to
// collect, so the payment status stays pending. A failed move leaves the order pending.
func (s *checkoutService) settleFreeOrder(ctx context.Context, order Order) PlacedOrder {
	var settled Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		settled, err = s.transitions.apply(txCtx, order, domain.OrderStatusPaid, s.now(), transitionOptions{})
		return err
	})
	if err != nil {
		s.logger(ctx, "checkout.free_order.settle.failed", map[string]any{
			"orderId": order.ID,
			"error":   err,
		})
		return placedOrder(order)
	}
	s.logger(ctx, "checkout.free_order.settled", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
	})
	return placedOrder(settled)
}

// RetryPayment opens a fresh gateway payment for a pending order owned by the caller.
func (s *checkoutService) RetryPayment(ctx context.Context, cmd RetryPaymentCommand) (PlacedOrder, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" || cmd.Owner.IsZero() {
		return PlacedOrder{}, ErrCheckoutInvalidInput
	}
	successURL, cancelURL, err := s.returnURLs(cmd.SuccessURL, cmd.CancelURL)
	if err != nil {
		return PlacedOrder{}, err
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return PlacedOrder{}, ErrOrderNotFound
		}
		return PlacedOrder{}, s.unavailable(ctx, "checkout.retry.load.failed", err)
	}
	if order.OwnerKey != cmd.Owner.Key() {
		return PlacedOrder{}, ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusPending || order.Totals.Total == 0 {
		return PlacedOrder{}, fmt.Errorf("%w: order is %s", ErrCheckoutOrderNotPayable, order.Status)
	}
	key := fmt.Sprintf("order:%s:retry:%d", order.ID, s.now().UnixNano())
	return s.openPayment(ctx, order, placedOrder(order), successURL, cancelURL, key)
}

func (s *checkoutService) openPayment(ctx context.Context, order Order, placed PlacedOrder, successURL, cancelURL, idempotencyKey string) (PlacedOrder, error) {
	req := payments.IntentRequest{
		CorrelationID:  order.ID,
		OrderNumber:    order.OrderNumber,
		Currency:       order.Currency,
		Total:          order.Totals.Total,
		Shipping:       order.Totals.Shipping,
		Discount:       order.Totals.Discount,
		Email:          order.Email,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		IdempotencyKey: idempotencyKey,
		Items:          make([]payments.LineItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, payments.LineItem{
			Name:      item.ProductName,
			SKU:       item.SKU,
			Quantity:  int64(item.Quantity),
			UnitPrice: item.UnitPrice,
		})
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, order.PaymentProvider, req)
	if err != nil {
		s.logger(ctx, "checkout.payment.failed", map[string]any{
			"orderId": order.ID,
			"error":   err,
		})
		return placed, &PaymentSetupError{OrderID: order.ID, OrderNumber: order.OrderNumber, Err: err}
	}

	if err := s.orders.SetPaymentReference(ctx, order.ID, intent.Provider, intent.Reference, s.now()); err != nil {
		// Notifications carry the order id, so the stored reference is informational.
		s.logger(ctx, "checkout.payment.reference.failed", map[string]any{
			"orderId":   order.ID,
			"reference": intent.Reference,
			"error":     err,
		})
	}

	placed.PaymentProvider = intent.Provider
	placed.PaymentReference = intent.Reference
	placed.RedirectURL = intent.RedirectURL
	placed.PaymentExpiresAt = intent.ExpiresAt
	return placed, nil
}

func (s *checkoutService) normaliseCommand(cmd PlaceOrderCommand) (PlaceOrderCommand, error) {
	if cmd.Owner.IsZero() {
		return cmd, fmt.Errorf("%w: owner is required", ErrCheckoutInvalidInput)
	}
	cmd.CartID = strings.TrimSpace(cmd.CartID)
	cmd.CouponCode = strings.TrimSpace(cmd.CouponCode)

	email := strings.TrimSpace(cmd.Email)
	addr, err := mail.ParseAddress(email)
	if email == "" || err != nil {
		return cmd, fmt.Errorf("%w: a valid email is required", ErrCheckoutInvalidInput)
	}
	cmd.Email = addr.Address

	cmd.Zone = domain.ParseShippingZone(string(cmd.Zone))
	if cmd.Zone == "" {
		return cmd, fmt.Errorf("%w: shipping zone is required", ErrCheckoutInvalidInput)
	}

	cmd.ShippingAddress = sanitiseAddress(cmd.ShippingAddress)
	if cmd.Zone != domain.ShippingZonePickup {
		a := cmd.ShippingAddress
		if a.Recipient == "" || a.Line1 == "" || a.City == "" || a.PostalCode == "" || a.Country == "" {
			return cmd, fmt.Errorf("%w: shipping address is incomplete", ErrCheckoutInvalidInput)
		}
	}
	cmd.Notes = textutil.SanitizePlainText(cmd.Notes, maxCustomerNotesLength)

	cmd.SuccessURL, cmd.CancelURL, err = s.returnURLs(cmd.SuccessURL, cmd.CancelURL)
	if err != nil {
		return cmd, err
	}
	return cmd, nil
}

func (s *checkoutService) returnURLs(successURL, cancelURL string) (string, string, error) {
	successURL = strings.TrimSpace(successURL)
	if successURL == "" {
		successURL = s.successURL
	}
	cancelURL = strings.TrimSpace(cancelURL)
	if cancelURL == "" {
		cancelURL = s.cancelURL
	}
	if successURL == "" || cancelURL == "" {
		return "", "", fmt.Errorf("%w: success and cancel urls are required", ErrCheckoutInvalidInput)
	}
	return successURL, cancelURL, nil
}

func (s *checkoutService) checkAvailability(lines []domain.CartLine) error {
	for _, line := range lines {
		product := line.Product
		if !product.Active {
			return fmt.Errorf("%w: %s", ErrCheckoutProductUnavailable, product.ID)
		}
		if product.Currency != "" && !strings.EqualFold(product.Currency, s.currency) {
			return fmt.Errorf("%w: product %s is priced in %s", ErrCheckoutInvalidInput, product.ID, product.Currency)
		}
		if product.RequiresStock() && product.Stock < line.Item.Quantity {
			return &InsufficientStockError{ProductID: product.ID, Requested: line.Item.Quantity, Available: product.Stock}
		}
	}
	return nil
}

func (s *checkoutService) stockShortfall(ctx context.Context, line domain.CartLine) error {
	available := 0
	if product, err := s.products.FindByID(ctx, line.Product.ID); err == nil {
		available = product.Stock
	}
	return &InsufficientStockError{ProductID: line.Product.ID, Requested: line.Item.Quantity, Available: available}
}

func (s *checkoutService) buildOrder(cmd PlaceOrderCommand, lines []domain.CartLine, subtotal, shipping int64, quote *CouponQuote, now time.Time) Order {
	var discount int64
	couponCode := ""
	if quote != nil {
		discount = quote.Discount
		couponCode = quote.Code
	}
	order := Order{
		ID:              s.newID(),
		OwnerKey:        cmd.Owner.Key(),
		UserID:          cmd.Owner.UserID,
		Email:           cmd.Email,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		Currency:        s.currency,
		CouponCode:      couponCode,
		ShippingZone:    cmd.Zone,
		ShippingAddress: cmd.ShippingAddress,
		CustomerNotes:   cmd.Notes,
		PaymentProvider: s.payments.Default(),
		Totals: domain.OrderTotals{
			Subtotal: subtotal,
			Shipping: shipping,
			Discount: discount,
			Total:    domain.OrderTotal(subtotal, shipping, discount),
		},
		CreatedAt: now,
		UpdatedAt: now,
		Items:     make([]OrderItem, 0, len(lines)),
	}
	if order.Totals.Total == 0 {
		order.PaymentProvider = ""
	}
	for _, line := range lines {
		order.Items = append(order.Items, OrderItem{
			ID:          s.newID(),
			OrderID:     order.ID,
			ProductID:   line.Product.ID,
			SKU:         line.Product.SKU,
			ProductName: line.Product.Name,
			Quantity:    line.Item.Quantity,
			UnitPrice:   line.Product.Price,
			LineTotal:   line.Product.Price * int64(line.Item.Quantity),
		})
	}
	return order
}

func (s *checkoutService) enqueueConfirmation(ctx context.Context, order Order) {
	if s.notifications == nil {
		return
	}
	msg := OrderConfirmation{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Email:       order.Email,
		Currency:    order.Currency,
		Subtotal:    order.Totals.Subtotal,
		Shipping:    order.Totals.Shipping,
		Discount:    order.Totals.Discount,
		Total:       order.Totals.Total,
		PlacedAt:    order.CreatedAt,
		Items:       make([]OrderConfirmationItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		msg.Items = append(msg.Items, OrderConfirmationItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	if err := s.notifications.EnqueueOrderConfirmation(ctx, msg); err != nil {
		s.logger(ctx, "checkout.confirmation.enqueue.failed", map[string]any{
			"orderId": order.ID,
			"error":   err,
		})
	}
}

func (s *checkoutService) classifyTxError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrCheckoutInsufficientStock), IsCouponError(err):
		return err
	case isRepoConflict(err):
		s.logger(ctx, "checkout.tx.conflict.warn", map[string]any{"error": err})
		return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
	default:
		return s.unavailable(ctx, "checkout.tx.failed", err)
	}
}

func (s *checkoutService) unavailable(ctx context.Context, event string, err error) error {
	s.logger(ctx, event, map[string]any{"error": err})
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

func placedOrder(order Order) PlacedOrder {
	return PlacedOrder{
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		Status:           order.Status,
		Currency:         order.Currency,
		Totals:           order.Totals,
		PaymentProvider:  order.PaymentProvider,
		PaymentReference: order.PaymentReference,
	}
}

// formatOrderNumber renders YYYY-NNNN; sequences past 9999 keep growing in width.
func formatOrderNumber(year int, seq int64) string {
	return fmt.Sprintf("%04d-%04d", year, seq)
}

func sanitiseAddress(a Address) Address {
	clean := func(v string) string {
		return textutil.SanitizePlainText(v, maxAddressFieldLength)
	}
	return Address{
		Recipient:  clean(a.Recipient),
		Company:    clean(a.Company),
		Line1:      clean(a.Line1),
		Line2:      clean(a.Line2),
		City:       clean(a.City),
		State:      clean(a.State),
		PostalCode: clean(a.PostalCode),
		Country:    strings.ToUpper(clean(a.Country)),
		Phone:      clean(a.Phone),
	}
}
