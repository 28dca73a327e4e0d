package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

const maxCartItemQuantity = 99

var (
	// ErrCartInvalidInput indicates the caller supplied invalid cart parameters.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartEmpty indicates the owner has no cart items.
	ErrCartEmpty = errors.New("cart: empty")
	// ErrCartItemNotFound indicates the cart line does not exist in the owner's cart.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartProductNotFound indicates the product is unknown or no longer sold.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartInsufficientStock indicates the requested quantity exceeds on-hand stock.
	ErrCartInsufficientStock = errors.New("cart: insufficient stock")
	// ErrCartUnavailable indicates the cart store could not be reached.
	ErrCartUnavailable = errors.New("cart: unavailable")
)

// CartServiceDeps wires the dependencies required by the cart service.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	currency string
	now      func() time.Time
	newID    func() string
	logger   Logger
}

// NewCartService constructs a CartService.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
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
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		currency: strings.ToUpper(strings.TrimSpace(deps.Currency)),
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, owner Owner) (CartView, error) {
	if owner.IsZero() {
		return CartView{}, ErrCartInvalidInput
	}
	cart, err := s.carts.FindByOwner(ctx, owner.Key())
	if err != nil {
		if isRepoNotFound(err) {
			return CartView{Currency: s.currency, Items: []CartViewItem{}}, nil
		}
		return CartView{}, s.unavailable(ctx, "cart.get.failed", err)
	}
	return s.view(ctx, cart)
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if cmd.Owner.IsZero() || productID == "" || cmd.Quantity < 1 || cmd.Quantity > maxCartItemQuantity {
		return CartView{}, ErrCartInvalidInput
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return CartView{}, ErrCartProductNotFound
		}
		return CartView{}, s.unavailable(ctx, "cart.product.failed", err)
	}
	if !product.Active {
		return CartView{}, ErrCartProductNotFound
	}

	now := s.now()
	cart, err := s.carts.GetOrCreate(ctx, cmd.Owner.Key(), now)
	if err != nil {
		return CartView{}, s.unavailable(ctx, "cart.create.failed", err)
	}

	quantity := cmd.Quantity
	for _, item := range cart.Items {
		if item.ProductID == productID {
			quantity += item.Quantity
		}
	}
	if quantity > maxCartItemQuantity {
		return CartView{}, fmt.Errorf("%w: quantity exceeds %d", ErrCartInvalidInput, maxCartItemQuantity)
	}
	if product.RequiresStock() && product.Stock < quantity {
		return CartView{}, fmt.Errorf("%w: product %s has %d available", ErrCartInsufficientStock, productID, product.Stock)
	}

	_, err = s.carts.UpsertItem(ctx, domain.CartItem{
		ID:            s.newID(),
		CartID:        cart.ID,
		ProductID:     productID,
		Quantity:      cmd.Quantity,
		PriceSnapshot: product.Price,
		AddedAt:       now,
		UpdatedAt:     now,
	})
	if err != nil {
		return CartView{}, s.unavailable(ctx, "cart.add.failed", err)
	}
	cart.UpdatedAt = now
	return s.view(ctx, cart)
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if cmd.Owner.IsZero() || itemID == "" || cmd.Quantity < 0 || cmd.Quantity > maxCartItemQuantity {
		return CartView{}, ErrCartInvalidInput
	}
	if cmd.Quantity == 0 {
		return s.RemoveItem(ctx, cmd.Owner, itemID)
	}
	cart, err := s.ownerCart(ctx, cmd.Owner)
	if err != nil {
		return CartView{}, err
	}
	lines, err := s.carts.Lines(ctx, cart.ID)
	if err != nil {
		return CartView{}, s.unavailable(ctx, "cart.lines.failed", err)
	}
	var line *domain.CartLine
	for i := range lines {
		if lines[i].Item.ID == itemID {
			line = &lines[i]
			break
		}
	}
	if line == nil {
		return CartView{}, ErrCartItemNotFound
	}
	if line.Product.RequiresStock() && line.Product.Stock < cmd.Quantity {
		return CartView{}, fmt.Errorf("%w: product %s has %d available", ErrCartInsufficientStock, line.Product.ID, line.Product.Stock)
	}

	now := s.now()
	if err := s.carts.UpdateItemQuantity(ctx, cart.ID, itemID, cmd.Quantity, now); err != nil {
		if isRepoNotFound(err) {
			return CartView{}, ErrCartItemNotFound
		}
		return CartView{}, s.unavailable(ctx, "cart.update.failed", err)
	}
	cart.UpdatedAt = now
	return s.view(ctx, cart)
}

func (s *cartService) RemoveItem(ctx context.Context, owner Owner, itemID string) (CartView, error) {
	itemID = strings.TrimSpace(itemID)
	if owner.IsZero() || itemID == "" {
		return CartView{}, ErrCartInvalidInput
	}
	cart, err := s.ownerCart(ctx, owner)
	if err != nil {
		return CartView{}, err
	}
	if err := s.carts.DeleteItem(ctx, cart.ID, itemID); err != nil {
		if isRepoNotFound(err) {
			return CartView{}, ErrCartItemNotFound
		}
		return CartView{}, s.unavailable(ctx, "cart.remove.failed", err)
	}
	return s.view(ctx, cart)
}

func (s *cartService) ownerCart(ctx context.Context, owner Owner) (domain.Cart, error) {
	cart, err := s.carts.FindByOwner(ctx, owner.Key())
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Cart{}, ErrCartItemNotFound
		}
		return domain.Cart{}, s.unavailable(ctx, "cart.get.failed", err)
	}
	return cart, nil
}

func (s *cartService) view(ctx context.Context, cart domain.Cart) (CartView, error) {
	lines, err := s.carts.Lines(ctx, cart.ID)
	if err != nil {
		return CartView{}, s.unavailable(ctx, "cart.lines.failed", err)
	}
	view := CartView{
		ID:        cart.ID,
		Currency:  s.currency,
		Items:     make([]CartViewItem, 0, len(lines)),
		UpdatedAt: cart.UpdatedAt,
	}
	for _, line := range lines {
		if view.Currency == "" && line.Product.Currency != "" {
			view.Currency = strings.ToUpper(line.Product.Currency)
		}
		view.Items = append(view.Items, CartViewItem{
			ItemID:        line.Item.ID,
			ProductID:     line.Product.ID,
			SKU:           line.Product.SKU,
			Name:          line.Product.Name,
			Quantity:      line.Item.Quantity,
			UnitPrice:     line.Product.Price,
			PriceSnapshot: line.Item.PriceSnapshot,
			LineTotal:     line.Product.Price * int64(line.Item.Quantity),
			Available:     line.Product.Active && (!line.Product.RequiresStock() || line.Product.Stock >= line.Item.Quantity),
		})
	}
	view.Subtotal, view.WeightGrams = cartTotals(lines)
	return view, nil
}

func (s *cartService) unavailable(ctx context.Context, event string, err error) error {
	s.logger(ctx, event, map[string]any{"error": err})
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

// cartTotals sums live prices and weights across the cart lines.
func cartTotals(lines []domain.CartLine) (int64, int) {
	var (
		subtotal int64
		weight   int
	)
	for _, line := range lines {
		subtotal += line.Product.Price * int64(line.Item.Quantity)
		weight += line.Product.WeightGrams * line.Item.Quantity
	}
	return subtotal, weight
}
