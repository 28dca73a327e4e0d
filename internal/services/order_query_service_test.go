package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/hanko-field/storefront/internal/domain"
)

func newTestOrderQueryService(t *testing.T, store *memStore, authorizer OrderAuthorizer) OrderQueryService {
	t.Helper()
	svc, err := NewOrderQueryService(OrderQueryServiceDeps{Orders: memOrders{store}, Authorizer: authorizer})
	if err != nil {
		t.Fatalf("NewOrderQueryService: %v", err)
	}
	return svc
}

func TestOrderQueryService_GetScopedToOwner(t *testing.T) {
	store := newMemStore()
	owner := Owner{GuestToken: "g1"}
	seedOrder(store, "ord_1", owner, domain.OrderStatusPending)
	svc := newTestOrderQueryService(t, store, stubAuthorizer{})

	order, err := svc.GetByID(context.Background(), "ord_1", &owner)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if order.ID != "ord_1" {
		t.Fatalf("unexpected order %s", order.ID)
	}
	if _, err := svc.GetByNumber(context.Background(), "2025-ord_1", &owner); err != nil {
		t.Fatalf("GetByNumber: %v", err)
	}

	stranger := Owner{GuestToken: "g2"}
	if _, err := svc.GetByID(context.Background(), "ord_1", &stranger); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for stranger got %v", err)
	}
	if _, err := svc.GetByID(context.Background(), "missing", &owner); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound got %v", err)
	}
}

func TestOrderQueryService_StaffReadsNeedCapability(t *testing.T) {
	store := newMemStore()
	seedOrder(store, "ord_1", Owner{UserID: "u1"}, domain.OrderStatusPaid)
	seedOrder(store, "ord_2", Owner{UserID: "u2"}, domain.OrderStatusPending)

	denied := newTestOrderQueryService(t, store, stubAuthorizer{})
	if _, err := denied.GetByID(context.Background(), "ord_1", nil); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden got %v", err)
	}
	if _, err := denied.ListAll(context.Background(), OrderListFilter{}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden got %v", err)
	}

	staff := newTestOrderQueryService(t, store, stubAuthorizer{allowed: map[string]bool{CapabilityReadAllOrders: true}})
	if _, err := staff.GetByID(context.Background(), "ord_2", nil); err != nil {
		t.Fatalf("GetByID as staff: %v", err)
	}
	page, err := staff.ListAll(context.Background(), OrderListFilter{Statuses: []domain.OrderStatus{domain.OrderStatusPaid}})
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_1" {
		t.Fatalf("unexpected page %+v", page.Items)
	}
}

func TestOrderQueryService_ListOwnOrders(t *testing.T) {
	store := newMemStore()
	owner := Owner{UserID: "u1"}
	seedOrder(store, "ord_1", owner, domain.OrderStatusPaid)
	seedOrder(store, "ord_2", owner, domain.OrderStatusPending)
	seedOrder(store, "ord_3", Owner{UserID: "u2"}, domain.OrderStatusPending)
	svc := newTestOrderQueryService(t, store, stubAuthorizer{})

	page, err := svc.List(context.Background(), OrderListFilter{Owner: owner})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 orders got %d", len(page.Items))
	}
	for _, order := range page.Items {
		if order.OwnerKey != owner.Key() {
			t.Fatalf("listed foreign order %s", order.ID)
		}
	}

	if _, err := svc.List(context.Background(), OrderListFilter{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for anonymous list got %v", err)
	}
	if _, err := svc.List(context.Background(), OrderListFilter{Owner: owner, Statuses: []domain.OrderStatus{"lost"}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for unknown status got %v", err)
	}
}
