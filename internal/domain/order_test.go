package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// helper для создания валидного заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:              "order-1",
		UserID:          "user-1",
		AddressID:       "address-1",
		PaymentMethodID: "pm-1",
		Status:          domain.OrderStatusAwaitingConfirmation,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		SubtotalMinor:   500,
		DiscountMinor:   0,
		FinalTotalMinor: 500,
		Lines: []domain.OrderLine{
			{
				ID:             "line-1",
				ProductID:      "product-1",
				Qty:            5,
				UnitPriceMinor: 100,
				StockBefore:    10,
				StockAfter:     5,
				CreatedAt:      now,
			},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no buyer",
			mut:  func(o *domain.Order) { o.UserID = "" },
		},
		{
			name: "no lines",
			mut:  func(o *domain.Order) { o.Lines = nil },
		},
		{
			name: "qty invalid",
			mut:  func(o *domain.Order) { o.Lines[0].Qty = 0 },
		},
		{
			name: "price invalid",
			mut:  func(o *domain.Order) { o.Lines[0].UnitPriceMinor = -5 },
		},
		{
			name: "subtotal mismatch",
			mut:  func(o *domain.Order) { o.SubtotalMinor = 999; o.FinalTotalMinor = 999 },
		},
		{
			name: "discount above subtotal",
			mut:  func(o *domain.Order) { o.DiscountMinor = 501 },
		},
		{
			name: "final total mismatch",
			mut:  func(o *domain.Order) { o.DiscountMinor = 100 },
		},
		{
			name: "negative final total",
			mut:  func(o *domain.Order) { o.FinalTotalMinor = -1 },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			if errs := order.ValidateInvariants(); len(errs) == 0 {
				t.Fatal("expected validation errors, got none")
			}
		})
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to domain.OrderStatus
	}{
		{domain.OrderStatusPendingPayment, domain.OrderStatusAwaitingConfirmation},
		{domain.OrderStatusPendingPayment, domain.OrderStatusPaymentFailed},
		{domain.OrderStatusAwaitingConfirmation, domain.OrderStatusConfirmed},
		{domain.OrderStatusAwaitingConfirmation, domain.OrderStatusCancelled},
		{domain.OrderStatusConfirmed, domain.OrderStatusAwaitingExport},
		{domain.OrderStatusAwaitingExport, domain.OrderStatusAwaitingDelivery},
		{domain.OrderStatusAwaitingDelivery, domain.OrderStatusDelivered},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected transition %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from, to domain.OrderStatus
	}{
		{domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
		{domain.OrderStatusAwaitingExport, domain.OrderStatusCancelled},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled},
		{domain.OrderStatusCancelled, domain.OrderStatusAwaitingConfirmation},
		{domain.OrderStatusPaymentFailed, domain.OrderStatusAwaitingConfirmation},
		{domain.OrderStatusAwaitingConfirmation, domain.OrderStatusDelivered},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected transition %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestOrderStatusTerminalAndSettled(t *testing.T) {
	if !domain.OrderStatusDelivered.Terminal() || !domain.OrderStatusCancelled.Terminal() || !domain.OrderStatusPaymentFailed.Terminal() {
		t.Fatal("delivered, cancelled and payment_failed must be terminal")
	}
	if domain.OrderStatusAwaitingConfirmation.Terminal() {
		t.Fatal("awaiting_confirmation must not be terminal")
	}

	if domain.OrderStatusPendingPayment.Settled() || domain.OrderStatusPaymentFailed.Settled() {
		t.Fatal("pending_payment and payment_failed must not be settled")
	}
	if !domain.OrderStatusAwaitingConfirmation.Settled() || !domain.OrderStatusDelivered.Settled() {
		t.Fatal("post-commit statuses must be settled")
	}
}
