package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

func newTestCartService(t *testing.T, store *memStore) CartService {
	t.Helper()
	var seq int
	svc, err := NewCartService(CartServiceDeps{
		Carts:    store,
		Products: store,
		Currency: "jpy",
		Clock:    fixedClock(time.Date(2025, time.April, 2, 8, 0, 0, 0, time.UTC)),
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("line_%d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestCartService_GetCart_MissingCartIsEmpty(t *testing.T) {
	svc := newTestCartService(t, newMemStore())

	view, err := svc.GetCart(context.Background(), Owner{GuestToken: "g1"})
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(view.Items) != 0 || view.Subtotal != 0 {
		t.Fatalf("expected empty cart got %+v", view)
	}
	if view.Currency != "JPY" {
		t.Fatalf("expected currency JPY got %s", view.Currency)
	}

	if _, err := svc.GetCart(context.Background(), Owner{}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput for anonymous owner got %v", err)
	}
}

func TestCartService_AddItem_AccumulatesAndPrices(t *testing.T) {
	store := newMemStore()
	store.addProduct(domain.Product{ID: "prod_1", SKU: "SKU-1", Name: "Seal", Price: 3000, Stock: 5, TrackInventory: true, WeightGrams: 400})
	svc := newTestCartService(t, store)
	owner := Owner{UserID: "u1"}

	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{Owner: owner, ProductID: "prod_1", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	view, err := svc.AddItem(context.Background(), AddCartItemCommand{Owner: owner, ProductID: "prod_1", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(view.Items) != 1 {
		t.Fatalf("expected a single merged line got %d", len(view.Items))
	}
	item := view.Items[0]
	if item.Quantity != 3 || item.LineTotal != 9000 || item.PriceSnapshot != 3000 {
		t.Fatalf("unexpected line %+v", item)
	}
	if view.Subtotal != 9000 || view.WeightGrams != 1200 {
		t.Fatalf("unexpected totals subtotal=%d weight=%d", view.Subtotal, view.WeightGrams)
	}
	if !item.Available {
		t.Fatalf("expected line to be available")
	}
}

func TestCartService_AddItem_RejectsBeyondStock(t *testing.T) {
	store := newMemStore()
	store.addProduct(domain.Product{ID: "prod_1", Price: 3000, Stock: 2, TrackInventory: true})
	svc := newTestCartService(t, store)
	owner := Owner{UserID: "u1"}

	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{Owner: owner, ProductID: "prod_1", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	_, err := svc.AddItem(context.Background(), AddCartItemCommand{Owner: owner, ProductID: "prod_1", Quantity: 1})
	if !errors.Is(err, ErrCartInsufficientStock) {
		t.Fatalf("expected ErrCartInsufficientStock got %v", err)
	}
}

func TestCartService_AddItem_BackorderIgnoresStock(t *testing.T) {
	store := newMemStore()
	store.addProduct(domain.Product{ID: "prod_1", Price: 3000, Stock: 0, TrackInventory: true, AllowBackorder: true})
	svc := newTestCartService(t, store)

	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{Owner: Owner{UserID: "u1"}, ProductID: "prod_1", Quantity: 4}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
}

func TestCartService_AddItem_Validation(t *testing.T) {
	store := newMemStore()
	store.addProduct(domain.Product{ID: "prod_1", Price: 3000})
	inactive := domain.Product{ID: "prod_off", Price: 100}
	store.addProduct(inactive)
	store.mu.Lock()
	p := store.products["prod_off"]
	p.Active = false
	store.products["prod_off"] = p
	store.mu.Unlock()
	svc := newTestCartService(t, store)
	owner := Owner{UserID: "u1"}

	tests := []struct {
		name string
		cmd  AddCartItemCommand
		want error
	}{
		{name: "zero quantity", cmd: AddCartItemCommand{Owner: owner, ProductID: "prod_1", Quantity: 0}, want: ErrCartInvalidInput},
		{name: "above limit", cmd: AddCartItemCommand{Owner: owner, ProductID: "prod_1", Quantity: 100}, want: ErrCartInvalidInput},
		{name: "unknown product", cmd: AddCartItemCommand{Owner: owner, ProductID: "missing", Quantity: 1}, want: ErrCartProductNotFound},
		{name: "inactive product", cmd: AddCartItemCommand{Owner: owner, ProductID: "prod_off", Quantity: 1}, want: ErrCartProductNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AddItem(context.Background(), tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, err)
			}
		})
	}
}

func TestCartService_UpdateAndRemove(t *testing.T) {
	store := newMemStore()
	store.addProduct(domain.Product{ID: "prod_1", Price: 1000, Stock: 3, TrackInventory: true})
	owner := Owner{GuestToken: "g1"}
	cart := store.addCartItem(owner.Key(), "prod_1", 1)
	itemID := cart.Items[0].ID
	svc := newTestCartService(t, store)

	view, err := svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{Owner: owner, ItemID: itemID, Quantity: 3})
	if err != nil {
		t.Fatalf("UpdateItemQuantity: %v", err)
	}
	if view.Subtotal != 3000 {
		t.Fatalf("expected subtotal 3000 got %d", view.Subtotal)
	}

	if _, err := svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{Owner: owner, ItemID: itemID, Quantity: 4}); !errors.Is(err, ErrCartInsufficientStock) {
		t.Fatalf("expected ErrCartInsufficientStock got %v", err)
	}
	if _, err := svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{Owner: owner, ItemID: "missing", Quantity: 1}); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound got %v", err)
	}

	view, err = svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{Owner: owner, ItemID: itemID, Quantity: 0})
	if err != nil {
		t.Fatalf("UpdateItemQuantity to zero: %v", err)
	}
	if len(view.Items) != 0 {
		t.Fatalf("expected quantity zero to remove the line, got %+v", view.Items)
	}

	if _, err := svc.RemoveItem(context.Background(), owner, itemID); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound on second removal got %v", err)
	}
}
