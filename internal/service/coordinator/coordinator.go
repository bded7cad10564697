package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
	"github.com/vladislavdragonenkov/techstore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/techstore/internal/metrics"
)

// CommitInput описывает вход атомарного коммита оформления.
type CommitInput struct {
	UserID          string
	CartID          string
	AddressID       string
	PaymentMethodID string
	VoucherCode     string
	// CorrelationID заполнен только для заказов, оплаченных через провайдера.
	CorrelationID string
	// Paid выставляется, когда провайдер уже подтвердил оплату.
	Paid bool
}

// CallbackOutcome — итог обработки gateway-callback.
type CallbackOutcome struct {
	Order domain.Order
	// Duplicate выставлен, если callback уже был обработан ранее.
	Duplicate bool
	// Committed сообщает, что складские эффекты применены и заказ создан.
	Committed bool
	// Reason заполняется при неуспехе для страницы результата.
	Reason string
}

// Coordinator выполняет точку коммита оформления: в одной транзакции
// перечитывает корзину, проверяет остатки, создаёт заказ, списывает сток
// и ваучер. Любая ошибка внутри транзакции откатывает все эффекты.
type Coordinator struct {
	store    domain.Store
	sessions domain.SessionStore
	gateways map[string]domain.PaymentGateway
	notifier domain.NotificationSender
	producer *kafka.Producer // опциональный Kafka producer для event-driven архитектуры
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
	now      func() time.Time
}

// New создаёт рабочий экземпляр координатора.
func New(
	store domain.Store,
	sessions domain.SessionStore,
	gateways map[string]domain.PaymentGateway,
	notifier domain.NotificationSender,
	logger *log.Entry,
) *Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "coordinator")
	}
	return &Coordinator{
		store:    store,
		sessions: sessions,
		gateways: gateways,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics.NewCheckoutMetrics(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewWithKafka создаёт координатор с Kafka producer для прямой публикации событий.
func NewWithKafka(
	store domain.Store,
	sessions domain.SessionStore,
	gateways map[string]domain.PaymentGateway,
	notifier domain.NotificationSender,
	producer *kafka.Producer,
	logger *log.Entry,
) *Coordinator {
	c := New(store, sessions, gateways, notifier, logger)
	c.producer = producer
	return c
}

// NewWithoutMetrics создаёт координатор без метрик (для тестов).
func NewWithoutMetrics(
	store domain.Store,
	sessions domain.SessionStore,
	gateways map[string]domain.PaymentGateway,
	notifier domain.NotificationSender,
	logger *log.Entry,
) *Coordinator {
	c := New(store, sessions, gateways, notifier, logger)
	c.metrics = nil
	return c
}

// WithClock подменяет источник времени (для тестов).
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Commit выполняет атомарный коммит оформления: перечитывает корзину,
// заново проверяет остатки и ваучер, создаёт заказ со снимками остатков,
// списывает сток, погашает ваучер и помечает корзину оформленной.
// Снапшот сессии не используется как источник истины: остатки и ваучер
// читаются внутри транзакции заново.
func (c *Coordinator) Commit(ctx context.Context, in CommitInput) (domain.Order, error) {
	start := c.now()
	if c.metrics != nil {
		c.metrics.RecordCommitStarted()
	}
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordCommitDuration(time.Since(start))
		}
	}()

	var order domain.Order
	err := c.store.InTx(ctx, func(tx domain.Repositories) error {
		built, err := c.buildAndApply(ctx, tx, in)
		if err != nil {
			return err
		}
		order = built
		return nil
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordCommitFailed(failureReason(err))
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"user_id": in.UserID,
			"cart_id": in.CartID,
		}).Warn("checkout commit failed")
		return domain.Order{}, err
	}

	if c.metrics != nil {
		c.metrics.RecordCommitSucceeded()
	}
	c.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"total_minor": order.FinalTotalMinor,
	}).Info("checkout committed")

	c.afterCommit(ctx, order)
	return order, nil
}

// buildAndApply — тело транзакции коммита. Порядок шагов фиксирован:
// сначала все проверки, потом все мутации; откат закрывает любое частичное
// состояние.
func (c *Coordinator) buildAndApply(ctx context.Context, tx domain.Repositories, in CommitInput) (domain.Order, error) {
	now := c.now()

	cart, err := tx.ActiveCart(ctx, in.UserID)
	if err != nil {
		return domain.Order{}, err
	}
	if cart.ID != in.CartID {
		// Сессия ссылается на уже оформленную или чужую корзину.
		return domain.Order{}, domain.ErrCartNotFound
	}
	if len(cart.Items) == 0 {
		return domain.Order{}, domain.ErrCartEmpty
	}

	subtotal := cart.SubtotalMinor()

	lines := make([]domain.OrderLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		product, err := tx.Product(ctx, item.ProductID)
		if err != nil {
			return domain.Order{}, err
		}
		if !product.HasStock(item.Qty) {
			return domain.Order{}, domain.ErrInsufficientStock
		}
		lines = append(lines, domain.OrderLine{
			ID:             uuid.NewString(),
			ProductID:      item.ProductID,
			Qty:            item.Qty,
			UnitPriceMinor: item.UnitPriceMinor,
			StockBefore:    product.AvailableQuantity,
			StockAfter:     product.AvailableQuantity - item.Qty,
			CreatedAt:      now,
		})
	}

	// Скидка пересчитывается по текущему состоянию ваучера, а не по сессии.
	var discount int64
	if in.VoucherCode != "" {
		voucher, err := tx.VoucherByCode(ctx, in.VoucherCode)
		if err != nil {
			return domain.Order{}, err
		}
		if err := voucher.Applicable(now, subtotal); err != nil {
			return domain.Order{}, err
		}
		discount = voucher.Discount(subtotal)
	}

	paymentStatus := domain.PaymentStatusUnpaid
	if in.Paid {
		paymentStatus = domain.PaymentStatusPaid
	}

	order := domain.Order{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		AddressID:       in.AddressID,
		PaymentMethodID: in.PaymentMethodID,
		VoucherCode:     in.VoucherCode,
		CorrelationID:   in.CorrelationID,
		Status:          domain.OrderStatusAwaitingConfirmation,
		PaymentStatus:   paymentStatus,
		SubtotalMinor:   subtotal,
		DiscountMinor:   discount,
		FinalTotalMinor: subtotal - discount,
		Lines:           lines,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	if err := tx.CreateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}
	for _, line := range lines {
		if err := tx.DecrementStock(ctx, line.ProductID, line.Qty); err != nil {
			return domain.Order{}, err
		}
	}
	if in.VoucherCode != "" {
		if err := tx.RedeemVoucher(ctx, in.VoucherCode); err != nil {
			return domain.Order{}, err
		}
	}
	if err := tx.MarkCartCheckedOut(ctx, cart.ID); err != nil {
		return domain.Order{}, err
	}

	if err := tx.AppendTimeline(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     "OrderCommitted",
		Occurred: now,
	}); err != nil {
		return domain.Order{}, err
	}
	if err := c.enqueueOrderEvent(ctx, tx, &order, "OrderCommitted", map[string]interface{}{
		"total_minor": order.FinalTotalMinor,
		"lines":       len(order.Lines),
	}); err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

// CompleteGatewayPayment обрабатывает callback провайдера.
// Метод идемпотентен по correlation id: повторный callback для уже
// обработанного платежа возвращает сохранённый итог без новых эффектов.
func (c *Coordinator) CompleteGatewayPayment(ctx context.Context, provider string, params map[string]string) (CallbackOutcome, error) {
	gateway, ok := c.gateways[provider]
	if !ok {
		return CallbackOutcome{}, domain.ErrPaymentMethodInvalid
	}

	result, err := gateway.VerifyCallback(ctx, params)
	if err != nil {
		return CallbackOutcome{}, err
	}
	if result.CorrelationID == "" {
		return CallbackOutcome{}, domain.ErrGatewayRejected
	}

	logger := c.logger.WithFields(log.Fields{
		"provider":       provider,
		"correlation_id": result.CorrelationID,
	})

	existing, err := c.store.OrderByCorrelationID(ctx, result.CorrelationID)
	switch {
	case err == nil && existing.Status != domain.OrderStatusPendingPayment:
		// Повторный callback: итог уже зафиксирован.
		if c.metrics != nil {
			c.metrics.RecordCallbackDuplicate()
		}
		logger.WithField("order_id", existing.ID).Debug("duplicate gateway callback ignored")
		return CallbackOutcome{
			Order:     existing,
			Duplicate: true,
			Committed: existing.Status.Settled(),
		}, nil
	case err == nil:
		// Wallet-путь: заказ создан до редиректа и ждёт отложенных эффектов.
		return c.settleWalletOrder(ctx, existing, result, logger)
	case errors.Is(err, domain.ErrOrderNotFound):
		// Redirect-путь: заказа ещё нет, коммит выполняется сейчас.
		return c.commitRedirectPayment(ctx, result, logger)
	default:
		return CallbackOutcome{}, err
	}
}

// settleWalletOrder применяет отложенные эффекты к заказу, созданному
// до редиректа на кошелёк-провайдера. Если провайдер отклонил оплату или
// эффекты применить нельзя, заказ помечается payment_failed: деньги
// возвращает провайдер, складские эффекты так и не появляются.
func (c *Coordinator) settleWalletOrder(ctx context.Context, order domain.Order, result domain.CallbackResult, logger *log.Entry) (CallbackOutcome, error) {
	if !result.Verified {
		failed, err := c.failPendingOrder(ctx, order, result.Reason)
		if err != nil {
			return CallbackOutcome{}, err
		}
		c.finishSession(ctx, order.UserID, false)
		return CallbackOutcome{Order: failed, Reason: result.Reason}, nil
	}

	now := c.now()
	settled := order
	err := c.store.InTx(ctx, func(tx domain.Repositories) error {
		for _, line := range settled.Lines {
			product, err := tx.Product(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if !product.HasStock(line.Qty) {
				return domain.ErrInsufficientStock
			}
		}
		for _, line := range settled.Lines {
			if err := tx.DecrementStock(ctx, line.ProductID, line.Qty); err != nil {
				return err
			}
		}
		if settled.VoucherCode != "" {
			if err := tx.RedeemVoucher(ctx, settled.VoucherCode); err != nil {
				return err
			}
		}
		if cart, err := tx.ActiveCart(ctx, settled.UserID); err == nil {
			if err := tx.MarkCartCheckedOut(ctx, cart.ID); err != nil {
				return err
			}
		} else if !errors.Is(err, domain.ErrCartNotFound) {
			return err
		}

		settled.Status = domain.OrderStatusAwaitingConfirmation
		settled.PaymentStatus = domain.PaymentStatusPaid
		settled.UpdatedAt = now
		if err := tx.SaveOrder(ctx, settled); err != nil {
			return err
		}
		settled.Version++

		if err := tx.AppendTimeline(ctx, domain.TimelineEvent{
			OrderID:  settled.ID,
			Type:     "OrderCommitted",
			Occurred: now,
		}); err != nil {
			return err
		}
		return c.enqueueOrderEvent(ctx, tx, &settled, "OrderCommitted", map[string]interface{}{
			"total_minor": settled.FinalTotalMinor,
			"provider":    result.CorrelationID,
		})
	})
	if err != nil {
		if !domain.IsExpected(err) {
			return CallbackOutcome{}, err
		}
		// Отложенные эффекты применить нельзя (чаще всего кончился сток).
		logger.WithError(err).WithField("order_id", order.ID).Warn("wallet settlement failed")
		failed, failErr := c.failPendingOrder(ctx, order, err.Error())
		if failErr != nil {
			return CallbackOutcome{}, failErr
		}
		c.finishSession(ctx, order.UserID, false)
		return CallbackOutcome{Order: failed, Reason: err.Error()}, nil
	}

	if c.metrics != nil {
		c.metrics.RecordCommitSucceeded()
	}
	logger.WithField("order_id", settled.ID).Info("wallet payment settled")
	c.finishSession(ctx, settled.UserID, true)
	c.afterCommit(ctx, settled)
	return CallbackOutcome{Order: settled, Committed: true}, nil
}

// commitRedirectPayment выполняет полный коммит для redirect-провайдера:
// до callback заказа не существовало.
func (c *Coordinator) commitRedirectPayment(ctx context.Context, result domain.CallbackResult, logger *log.Entry) (CallbackOutcome, error) {
	userID, err := c.sessions.UserByCorrelationID(ctx, result.CorrelationID)
	if err != nil {
		return CallbackOutcome{}, err
	}
	session, err := c.sessions.Session(ctx, userID)
	if err != nil {
		return CallbackOutcome{}, err
	}
	if session.State != domain.CheckoutStateAwaitingGatewayCallback ||
		session.Gateway == nil ||
		session.Gateway.CorrelationID != result.CorrelationID {
		return CallbackOutcome{}, domain.ErrCheckoutInvalidState
	}

	if !result.Verified {
		logger.WithField("reason", result.Reason).Info("gateway rejected payment")
		c.finishSession(ctx, userID, false)
		return CallbackOutcome{Reason: result.Reason}, nil
	}

	order, err := c.Commit(ctx, CommitInput{
		UserID:          session.UserID,
		CartID:          session.CartID,
		AddressID:       session.AddressID,
		PaymentMethodID: session.PaymentMethodID,
		VoucherCode:     session.VoucherCode,
		CorrelationID:   result.CorrelationID,
		Paid:            true,
	})
	if err != nil {
		if !domain.IsExpected(err) {
			return CallbackOutcome{}, err
		}
		logger.WithError(err).Warn("redirect commit failed after verified payment")
		c.finishSession(ctx, userID, false)
		return CallbackOutcome{Reason: err.Error()}, nil
	}

	c.finishSession(ctx, userID, true)
	return CallbackOutcome{Order: order, Committed: true}, nil
}

// failPendingOrder переводит заказ pending_payment в payment_failed.
func (c *Coordinator) failPendingOrder(ctx context.Context, order domain.Order, reason string) (domain.Order, error) {
	now := c.now()
	failed := order
	err := c.store.InTx(ctx, func(tx domain.Repositories) error {
		failed.Status = domain.OrderStatusPaymentFailed
		failed.PaymentStatus = domain.PaymentStatusFailed
		failed.UpdatedAt = now
		if err := tx.SaveOrder(ctx, failed); err != nil {
			return err
		}
		failed.Version++

		if err := tx.AppendTimeline(ctx, domain.TimelineEvent{
			OrderID:  failed.ID,
			Type:     "PaymentFailed",
			Reason:   reason,
			Occurred: now,
		}); err != nil {
			return err
		}
		return c.enqueueOrderEvent(ctx, tx, &failed, "OrderPaymentFailed", map[string]interface{}{
			"reason": reason,
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	if c.metrics != nil {
		c.metrics.RecordCommitFailed("gateway_rejected")
	}
	c.logger.WithFields(log.Fields{
		"order_id": failed.ID,
		"reason":   reason,
	}).Warn("pending order marked payment_failed")
	return failed, nil
}

// finishSession переводит сессию пользователя в терминальное состояние.
// Сессия хранится ещё немного, чтобы страница результата показала итог.
func (c *Coordinator) finishSession(ctx context.Context, userID string, committed bool) {
	session, err := c.sessions.Session(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrCheckoutSessionNotFound) {
			c.logger.WithError(err).WithField("user_id", userID).Warn("failed to load session for finish")
		}
		return
	}

	now := c.now()
	if committed {
		err = session.MarkCommitted(now)
	} else {
		err = session.MarkFailed(now)
	}
	if err != nil {
		return
	}

	if err := c.sessions.PutSession(ctx, session, domain.TerminalSessionRetention); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("failed to store terminal session")
	}
	if c.metrics != nil {
		c.metrics.RecordSessionFinished()
	}
}

// enqueueOrderEvent кладёт событие заказа в transactional outbox внутри
// текущей транзакции: событие и заказ становятся видимыми атомарно.
func (c *Coordinator) enqueueOrderEvent(ctx context.Context, tx domain.Repositories, order *domain.Order, eventType string, payload map[string]interface{}) error {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["order_id"] = order.ID
	payload["user_id"] = order.UserID
	payload["status"] = string(order.Status)
	payload["ts"] = c.now().Format(time.RFC3339Nano)

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := tx.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       body,
	}); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordOutboxEvent()
	}
	return nil
}

// afterCommit выполняет пост-транзакционные best-effort действия:
// уведомление покупателя и прямую публикацию в Kafka. Ошибки здесь
// логируются и не влияют на уже зафиксированный заказ.
func (c *Coordinator) afterCommit(ctx context.Context, order domain.Order) {
	if c.notifier != nil {
		user, err := c.store.User(ctx, order.UserID)
		if err != nil {
			c.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to resolve user for notification")
		} else if err := c.notifier.Send(ctx, user.Email, "Order confirmed", orderNotificationBody(order)); err != nil {
			c.logger.WithError(err).WithField("order_id", order.ID).Warn("order notification failed")
		}
	}

	if c.producer != nil {
		event := kafka.NewOrderEvent(kafka.EventTypeOrderCreated, order.ID, order.UserID, string(order.Status), map[string]interface{}{
			"total_minor": order.FinalTotalMinor,
			"lines":       len(order.Lines),
		})
		if err := c.producer.PublishOrderEvent(event); err != nil {
			c.logger.WithError(err).WithField("order_id", order.ID).Warn("kafka publish failed")
		}
	}
}

func orderNotificationBody(order domain.Order) string {
	return fmt.Sprintf(
		"Your order %s has been placed. Items: %d, total: %d. We will notify you once it is confirmed.",
		order.ID, len(order.Lines), order.FinalTotalMinor,
	)
}

// failureReason переводит ошибку коммита в label для метрик.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrVoucherInvalid),
		errors.Is(err, domain.ErrVoucherExpired),
		errors.Is(err, domain.ErrVoucherOutOfUses),
		errors.Is(err, domain.ErrVoucherBelowMinimum):
		return "voucher"
	case errors.Is(err, domain.ErrCartNotFound),
		errors.Is(err, domain.ErrCartEmpty),
		errors.Is(err, domain.ErrCartCheckedOut):
		return "cart"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product"
	default:
		return "storage"
	}
}
