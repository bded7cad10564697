package domain

import (
	"context"
	"time"
)

// SessionStore хранит checkout-сессии с TTL, ключ — идентификатор пользователя.
// Реализация обязана переживать потерю записей: до коммита сессия
// восстанавливается повторным началом оформления из корзины.
type SessionStore interface {
	// Session возвращает сессию пользователя или ErrCheckoutSessionNotFound.
	Session(ctx context.Context, userID string) (CheckoutSession, error)
	// PutSession сохраняет сессию, обновляя TTL.
	PutSession(ctx context.Context, session CheckoutSession, ttl time.Duration) error
	// DeleteSession удаляет сессию; отсутствие записи не считается ошибкой.
	DeleteSession(ctx context.Context, userID string) error
	// BindCorrelationID индексирует платёжную корреляцию на пользователя,
	// чтобы gateway-callback нашёл сессию без cookie.
	BindCorrelationID(ctx context.Context, correlationID, userID string, ttl time.Duration) error
	// UserByCorrelationID возвращает пользователя по корреляции
	// или ErrCheckoutSessionNotFound.
	UserByCorrelationID(ctx context.Context, correlationID string) (string, error)
}

// NotificationSender отправляет исходящие уведомления (OTP, подтверждение заказа).
// Ошибки отправки логируются и никогда не блокируют коммит.
type NotificationSender interface {
	Send(ctx context.Context, destination, subject, body string) error
}

// CallbackResult — результат проверки входящего callback от провайдера.
type CallbackResult struct {
	Verified      bool
	CorrelationID string
	// Reason заполняется при отказе для логов и timeline.
	Reason string
}

// PaymentGateway абстрагирует внешнего платёжного провайдера.
// Схемы подписей и wire-форматы целиком на стороне реализации.
type PaymentGateway interface {
	// CreatePaymentURL строит URL редиректа для заданной суммы и корреляции.
	CreatePaymentURL(ctx context.Context, correlationID string, amountMinor int64, description string) (string, error)
	// VerifyCallback проверяет параметры callback и возвращает вердикт.
	VerifyCallback(ctx context.Context, params map[string]string) (CallbackResult, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
