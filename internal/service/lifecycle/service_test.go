package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
	"github.com/vladislavdragonenkov/techstore/internal/storage/memory"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewService(store, nil), store
}

func seedOrder(t *testing.T, store *memory.Store, status domain.OrderStatus, payment domain.PaymentStatus) domain.Order {
	t.Helper()
	now := time.Now().UTC()
	order := domain.Order{
		ID:              "order-1",
		UserID:          "user-1",
		AddressID:       "address-1",
		PaymentMethodID: "pm-cod",
		Status:          status,
		PaymentStatus:   payment,
		SubtotalMinor:   500,
		FinalTotalMinor: 500,
		Lines: []domain.OrderLine{
			{ID: "line-1", ProductID: "product-1", Qty: 5, UnitPriceMinor: 100, StockBefore: 10, StockAfter: 5, CreatedAt: now},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateOrder(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestStaffChain(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	seedOrder(t, store, domain.OrderStatusAwaitingConfirmation, domain.PaymentStatusUnpaid)

	order, err := svc.Confirm(ctx, "order-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed || order.Version != 2 {
		t.Fatalf("unexpected after confirm: %s v%d", order.Status, order.Version)
	}

	if order, err = svc.MarkExported(ctx, "order-1"); err != nil {
		t.Fatalf("export: %v", err)
	}
	if order.Status != domain.OrderStatusAwaitingExport {
		t.Fatalf("expected awaiting_export, got %s", order.Status)
	}

	if order, err = svc.MarkDelivering(ctx, "order-1"); err != nil {
		t.Fatalf("delivering: %v", err)
	}
	if order.Status != domain.OrderStatusAwaitingDelivery {
		t.Fatalf("expected awaiting_delivery, got %s", order.Status)
	}

	if order, err = svc.MarkDelivered(ctx, "order-1"); err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", order.Status)
	}
	// COD: доставка фиксирует оплату.
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid after delivery, got %s", order.PaymentStatus)
	}

	timeline, _ := svc.Timeline(ctx, "order-1")
	var types []string
	for _, ev := range timeline {
		types = append(types, ev.Type)
	}
	want := []string{"OrderConfirmed", "OrderAwaitingExport", "OrderAwaitingDelivery", "OrderDelivered", "PaymentReceived"}
	if len(types) != len(want) {
		t.Fatalf("timeline mismatch: got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("timeline[%d]: got %s, want %s", i, types[i], want[i])
		}
	}

	// Каждый переход породил событие outbox.
	if pending := store.AllPendingOutbox(); len(pending) != 4 {
		t.Fatalf("expected 4 outbox events, got %d", len(pending))
	}
}

func TestMarkDelivered_PrepaidStaysPaid(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	seedOrder(t, store, domain.OrderStatusAwaitingDelivery, domain.PaymentStatusPaid)

	order, err := svc.MarkDelivered(ctx, "order-1")
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", order.PaymentStatus)
	}

	// PaymentReceived не дублируется для уже оплаченных заказов.
	timeline, _ := svc.Timeline(ctx, "order-1")
	for _, ev := range timeline {
		if ev.Type == "PaymentReceived" {
			t.Fatal("prepaid order must not get a second PaymentReceived")
		}
	}
}

func TestTransition_Invalid(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	seedOrder(t, store, domain.OrderStatusAwaitingConfirmation, domain.PaymentStatusUnpaid)

	if _, err := svc.MarkDelivered(ctx, "order-1"); !errors.Is(err, domain.ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	seedOrder(t, store, domain.OrderStatusAwaitingConfirmation, domain.PaymentStatusUnpaid)

	order, err := svc.Cancel(ctx, "order-1", "user-1", "changed my mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}

	timeline, _ := svc.Timeline(ctx, "order-1")
	if len(timeline) != 1 || timeline[0].Type != "OrderCanceled" || timeline[0].Reason != "changed my mind" {
		t.Fatalf("unexpected timeline: %+v", timeline)
	}
}

func TestCancel_ForeignOrderLooksMissing(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	seedOrder(t, store, domain.OrderStatusAwaitingConfirmation, domain.PaymentStatusUnpaid)

	if _, err := svc.Cancel(ctx, "order-1", "other-user", ""); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancel_AfterConfirmDenied(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	seedOrder(t, store, domain.OrderStatusConfirmed, domain.PaymentStatusUnpaid)

	if _, err := svc.Cancel(ctx, "order-1", "user-1", ""); !errors.Is(err, domain.ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
}

func TestCancel_DoesNotRestock(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	store.SeedProduct(domain.Product{ID: "product-1", AvailableQuantity: 5})
	seedOrder(t, store, domain.OrderStatusAwaitingConfirmation, domain.PaymentStatusUnpaid)

	if _, err := svc.Cancel(ctx, "order-1", "user-1", ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	p, _ := store.Product(ctx, "product-1")
	if p.AvailableQuantity != 5 {
		t.Fatalf("cancel must not restock, got %d", p.AvailableQuantity)
	}
}

func TestOrderOwnedBy(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	seedOrder(t, store, domain.OrderStatusAwaitingConfirmation, domain.PaymentStatusUnpaid)

	if _, err := svc.OrderOwnedBy(ctx, "order-1", "user-1"); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := svc.OrderOwnedBy(ctx, "order-1", "intruder"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListOrders_FreshFirst(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"order-a", "order-b"} {
		order := domain.Order{
			ID:              id,
			UserID:          "user-1",
			AddressID:       "address-1",
			PaymentMethodID: "pm-cod",
			Status:          domain.OrderStatusAwaitingConfirmation,
			PaymentStatus:   domain.PaymentStatusUnpaid,
			SubtotalMinor:   100,
			FinalTotalMinor: 100,
			Lines: []domain.OrderLine{
				{ID: "line-" + id, ProductID: "product-1", Qty: 1, UnitPriceMinor: 100, CreatedAt: now},
			},
			Version:   1,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
			UpdatedAt: now.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateOrder(ctx, order); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	orders, err := svc.ListOrders(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "order-b" {
		t.Fatalf("expected fresh-first ordering, got %+v", orders)
	}
}
