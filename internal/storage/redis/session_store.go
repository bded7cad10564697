package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

const (
	sessionKeyPrefix     = "techstore:checkout:session:"
	correlationKeyPrefix = "techstore:checkout:correlation:"
)

// SessionStore хранит checkout-сессии в Redis с нативным TTL.
// Отдельный sweeper не требуется: просроченные ключи Redis удаляет сам.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore создаёт session store поверх Redis.
func NewSessionStore(addr, password string, db int) *SessionStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &SessionStore{client: client}
}

// NewSessionStoreWithClient оборачивает существующий клиент (для тестов).
func NewSessionStoreWithClient(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Ping проверяет доступность Redis.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close закрывает соединение с Redis.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

// Session возвращает сессию пользователя или ErrCheckoutSessionNotFound.
func (s *SessionStore) Session(ctx context.Context, userID string) (domain.CheckoutSession, error) {
	val, err := s.client.Get(ctx, sessionKeyPrefix+userID).Result()
	if err == redis.Nil {
		return domain.CheckoutSession{}, domain.ErrCheckoutSessionNotFound
	}
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("failed to load session: %w", err)
	}

	var session domain.CheckoutSession
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return session, nil
}

// PutSession сохраняет сессию, обновляя TTL.
func (s *SessionStore) PutSession(ctx context.Context, session domain.CheckoutSession, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+session.UserID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// DeleteSession удаляет сессию; отсутствие записи не считается ошибкой.
func (s *SessionStore) DeleteSession(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// BindCorrelationID индексирует платёжную корреляцию на пользователя.
func (s *SessionStore) BindCorrelationID(ctx context.Context, correlationID, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, correlationKeyPrefix+correlationID, userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to bind correlation id: %w", err)
	}
	return nil
}

// UserByCorrelationID возвращает пользователя по платёжной корреляции.
func (s *SessionStore) UserByCorrelationID(ctx context.Context, correlationID string) (string, error) {
	val, err := s.client.Get(ctx, correlationKeyPrefix+correlationID).Result()
	if err == redis.Nil {
		return "", domain.ErrCheckoutSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve correlation id: %w", err)
	}
	return val, nil
}

var _ domain.SessionStore = (*SessionStore)(nil)
