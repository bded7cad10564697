package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// Service управляет статусами заказа после точки коммита.
// Складские эффекты здесь не меняются: отмена не возвращает сток,
// возврат остатков оформляется отдельной приёмкой на склад.
type Service struct {
	store  domain.Store
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис жизненного цикла заказов.
func NewService(store domain.Store, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "lifecycle")
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени (для тестов).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Order возвращает заказ по идентификатору.
func (s *Service) Order(ctx context.Context, orderID string) (domain.Order, error) {
	return s.store.Order(ctx, orderID)
}

// OrderOwnedBy возвращает заказ, проверяя принадлежность пользователю.
// Чужой заказ неотличим от несуществующего.
func (s *Service) OrderOwnedBy(ctx context.Context, orderID, userID string) (domain.Order, error) {
	order, err := s.store.Order(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListOrders возвращает заказы пользователя, свежие первыми.
func (s *Service) ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return s.store.ListOrdersByUser(ctx, userID, limit)
}

// Timeline возвращает события жизненного цикла заказа.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	return s.store.Timeline(ctx, orderID)
}

// Confirm подтверждает заказ менеджером.
func (s *Service) Confirm(ctx context.Context, orderID string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusConfirmed, "OrderConfirmed", "")
}

// MarkExported помечает заказ ожидающим выгрузку со склада.
func (s *Service) MarkExported(ctx context.Context, orderID string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusAwaitingExport, "OrderAwaitingExport", "")
}

// MarkDelivering помечает заказ переданным в доставку.
func (s *Service) MarkDelivering(ctx context.Context, orderID string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusAwaitingDelivery, "OrderAwaitingDelivery", "")
}

// MarkDelivered помечает заказ доставленным. Для cash-on-delivery
// одновременно фиксируется факт оплаты.
func (s *Service) MarkDelivered(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.transition(ctx, orderID, domain.OrderStatusDelivered, "OrderDelivered", "")
	if err != nil {
		return domain.Order{}, err
	}
	if order.PaymentStatus == domain.PaymentStatusUnpaid {
		order, err = s.markPaid(ctx, order.ID)
		if err != nil {
			return domain.Order{}, err
		}
	}
	return order, nil
}

// Cancel отменяет заказ по инициативе покупателя. Разрешён только
// из awaiting_confirmation; после подтверждения менеджером покупатель
// отменить заказ не может. Сток при отмене не возвращается.
func (s *Service) Cancel(ctx context.Context, orderID, userID, reason string) (domain.Order, error) {
	if _, err := s.OrderOwnedBy(ctx, orderID, userID); err != nil {
		return domain.Order{}, err
	}
	return s.transition(ctx, orderID, domain.OrderStatusCancelled, "OrderCanceled", reason)
}

const (
	transitionRetries = 3
	transitionBackoff = 10 * time.Millisecond
)

// transition меняет статус заказа с проверкой допустимости перехода.
// Конфликт версий разрешается перечитыванием заказа и повтором
// с exponential backoff.
func (s *Service) transition(ctx context.Context, orderID string, next domain.OrderStatus, eventType, reason string) (domain.Order, error) {
	var result domain.Order

	for attempt := 0; attempt < transitionRetries; attempt++ {
		now := s.now()
		err := s.store.InTx(ctx, func(tx domain.Repositories) error {
			order, err := tx.Order(ctx, orderID)
			if err != nil {
				return err
			}
			if !order.Status.CanTransitionTo(next) {
				return domain.ErrOrderInvalidTransition
			}

			order.Status = next
			order.UpdatedAt = now
			if err := tx.SaveOrder(ctx, order); err != nil {
				return err
			}
			order.Version++

			if err := tx.AppendTimeline(ctx, domain.TimelineEvent{
				OrderID:  orderID,
				Type:     eventType,
				Reason:   reason,
				Occurred: now,
			}); err != nil {
				return err
			}
			if err := s.enqueueStatusEvent(ctx, tx, &order, reason); err != nil {
				return err
			}

			result = order
			return nil
		})
		if err == nil {
			s.logger.WithFields(log.Fields{
				"order_id": orderID,
				"status":   next,
			}).Info("order status changed")
			return result, nil
		}
		if domain.IsVersionConflict(err) && attempt < transitionRetries-1 {
			s.logger.WithFields(log.Fields{
				"order_id": orderID,
				"attempt":  attempt + 1,
			}).Warn("version conflict detected, retrying")
			time.Sleep(transitionBackoff * time.Duration(1<<uint(attempt)))
			continue
		}
		return domain.Order{}, err
	}
	return domain.Order{}, domain.ErrOrderVersionConflict
}

// markPaid фиксирует оплату без смены клиентского статуса.
func (s *Service) markPaid(ctx context.Context, orderID string) (domain.Order, error) {
	var result domain.Order
	now := s.now()
	err := s.store.InTx(ctx, func(tx domain.Repositories) error {
		order, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		order.PaymentStatus = domain.PaymentStatusPaid
		order.UpdatedAt = now
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		order.Version++
		result = order
		return tx.AppendTimeline(ctx, domain.TimelineEvent{
			OrderID:  orderID,
			Type:     "PaymentReceived",
			Occurred: now,
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

func (s *Service) enqueueStatusEvent(ctx context.Context, tx domain.Repositories, order *domain.Order, reason string) error {
	payload := map[string]interface{}{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"status":   string(order.Status),
		"ts":       s.now().Format(time.RFC3339Nano),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     "OrderStatusChanged",
		Payload:       body,
	})
	return err
}
