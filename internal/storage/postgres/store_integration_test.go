package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

func TestPostgresDecrementStock_ConditionalUpdate(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCatalogForIntegrationTest(t, store)
	ctx := context.Background()

	require.NoError(t, store.DecrementStock(ctx, "product-1", 7))

	p, err := store.Product(ctx, "product-1")
	require.NoError(t, err)
	require.Equal(t, int32(3), p.AvailableQuantity)

	err = store.DecrementStock(ctx, "product-1", 4)
	require.True(t, errors.Is(err, domain.ErrInsufficientStock))

	err = store.DecrementStock(ctx, "missing", 1)
	require.True(t, errors.Is(err, domain.ErrProductNotFound))
}

func TestPostgresRedeemVoucher_Exhaustion(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCatalogForIntegrationTest(t, store)
	ctx := context.Background()

	require.NoError(t, store.RedeemVoucher(ctx, "SAVE10"))

	err := store.RedeemVoucher(ctx, "SAVE10")
	require.True(t, errors.Is(err, domain.ErrVoucherOutOfUses))

	err = store.RedeemVoucher(ctx, "NOPE")
	require.True(t, errors.Is(err, domain.ErrVoucherInvalid))
}

func TestPostgresOrders_OptimisticLocking(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCatalogForIntegrationTest(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	order := domain.Order{
		ID:              "order-1",
		UserID:          "user-1",
		AddressID:       "address-1",
		PaymentMethodID: "pm-cod",
		CorrelationID:   "corr-pg",
		Status:          domain.OrderStatusAwaitingConfirmation,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		SubtotalMinor:   200,
		FinalTotalMinor: 200,
		Lines: []domain.OrderLine{
			{ID: "line-1", ProductID: "product-1", Qty: 2, UnitPriceMinor: 100, StockBefore: 10, StockAfter: 8, CreatedAt: now},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateOrder(ctx, order))

	loaded, err := store.Order(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), loaded.Version)
	require.Len(t, loaded.Lines, 1)

	byCorr, err := store.OrderByCorrelationID(ctx, "corr-pg")
	require.NoError(t, err)
	require.Equal(t, "order-1", byCorr.ID)

	loaded.Status = domain.OrderStatusConfirmed
	loaded.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.SaveOrder(ctx, loaded))

	// Повторное сохранение с устаревшей версией — конфликт.
	err = store.SaveOrder(ctx, loaded)
	require.True(t, errors.Is(err, domain.ErrOrderVersionConflict))
}

func TestPostgresInTx_RollsBackAllEffects(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCatalogForIntegrationTest(t, store)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx domain.Repositories) error {
		if err := tx.DecrementStock(ctx, "product-1", 5); err != nil {
			return err
		}
		if err := tx.RedeemVoucher(ctx, "SAVE10"); err != nil {
			return err
		}
		return boom
	})
	require.True(t, errors.Is(err, boom))

	p, err := store.Product(ctx, "product-1")
	require.NoError(t, err)
	require.Equal(t, int32(10), p.AvailableQuantity)

	v, err := store.VoucherByCode(ctx, "SAVE10")
	require.NoError(t, err)
	require.Equal(t, int32(1), v.RemainingUses)
}

func TestPostgresOutbox_Lifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	msg, err := store.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "OrderCommitted",
		Payload:       []byte(`{"order_id":"order-1"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	pending, err := store.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "OrderCommitted", pending[0].EventType)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, store.MarkSent(ctx, msg.ID))

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.PendingCount)
}

func TestPostgresCart_CheckoutExactlyOnce(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCatalogForIntegrationTest(t, store)
	ctx := context.Background()

	cart, err := store.ActiveCart(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "cart-1", cart.ID)
	require.Len(t, cart.Items, 1)

	require.NoError(t, store.MarkCartCheckedOut(ctx, "cart-1"))

	err = store.MarkCartCheckedOut(ctx, "cart-1")
	require.True(t, errors.Is(err, domain.ErrCartCheckedOut))

	_, err = store.ActiveCart(ctx, "user-1")
	require.True(t, errors.Is(err, domain.ErrCartNotFound))
}

func TestPostgresTimeline_AppendAndRead(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCatalogForIntegrationTest(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	order := domain.Order{
		ID:              "order-1",
		UserID:          "user-1",
		AddressID:       "address-1",
		PaymentMethodID: "pm-cod",
		Status:          domain.OrderStatusAwaitingConfirmation,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		SubtotalMinor:   200,
		FinalTotalMinor: 200,
		Lines: []domain.OrderLine{
			{ID: "line-1", ProductID: "product-1", Qty: 2, UnitPriceMinor: 100, CreatedAt: now},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateOrder(ctx, order))

	require.NoError(t, store.AppendTimeline(ctx, domain.TimelineEvent{
		OrderID:  "order-1",
		Type:     "OrderCommitted",
		Occurred: now,
	}))
	require.NoError(t, store.AppendTimeline(ctx, domain.TimelineEvent{
		OrderID:  "order-1",
		Type:     "OrderConfirmed",
		Occurred: now.Add(time.Second),
	}))

	events, err := store.Timeline(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "OrderCommitted", events[0].Type)
	require.Equal(t, "OrderConfirmed", events[1].Type)
}
