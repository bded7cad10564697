package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// sessionRecord хранит сессию и её дедлайн.
type sessionRecord struct {
	session  domain.CheckoutSession
	expireAt time.Time
}

// SessionStore — in-memory реализация domain.SessionStore с TTL.
// Просроченные записи отфильтровываются лениво при чтении и вычищаются
// session-sweep воркером.
type SessionStore struct {
	mu           sync.RWMutex
	sessions     map[string]*sessionRecord
	correlations map[string]*correlationRecord
}

type correlationRecord struct {
	userID   string
	expireAt time.Time
}

// NewSessionStore возвращает in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:     make(map[string]*sessionRecord),
		correlations: make(map[string]*correlationRecord),
	}
}

// Session возвращает живую сессию пользователя или ErrCheckoutSessionNotFound.
func (s *SessionStore) Session(_ context.Context, userID string) (domain.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[userID]
	if !ok || time.Now().UTC().After(rec.expireAt) {
		return domain.CheckoutSession{}, domain.ErrCheckoutSessionNotFound
	}
	return cloneSession(rec.session), nil
}

// PutSession сохраняет сессию и продлевает TTL.
func (s *SessionStore) PutSession(_ context.Context, session domain.CheckoutSession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.UserID] = &sessionRecord{
		session:  cloneSession(session),
		expireAt: time.Now().UTC().Add(ttl),
	}
	return nil
}

// DeleteSession удаляет сессию; отсутствие записи не считается ошибкой.
func (s *SessionStore) DeleteSession(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, userID)
	return nil
}

// BindCorrelationID индексирует платёжную корреляцию на пользователя.
func (s *SessionStore) BindCorrelationID(_ context.Context, correlationID, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.correlations[correlationID] = &correlationRecord{
		userID:   userID,
		expireAt: time.Now().UTC().Add(ttl),
	}
	return nil
}

// UserByCorrelationID возвращает пользователя по корреляции.
func (s *SessionStore) UserByCorrelationID(_ context.Context, correlationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.correlations[correlationID]
	if !ok || time.Now().UTC().After(rec.expireAt) {
		return "", domain.ErrCheckoutSessionNotFound
	}
	return rec.userID, nil
}

// DeleteExpired удаляет просроченные записи порциями до limit штук.
// Используется session-sweep воркером; redis-реализация в этом не нуждается.
func (s *SessionStore) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, rec := range s.sessions {
		if rec.expireAt.After(before) {
			continue
		}
		delete(s.sessions, userID)
		removed++
		if limit > 0 && removed >= limit {
			return removed, nil
		}
	}
	for correlationID, rec := range s.correlations {
		if rec.expireAt.After(before) {
			continue
		}
		delete(s.correlations, correlationID)
		removed++
		if limit > 0 && removed >= limit {
			return removed, nil
		}
	}
	return removed, nil
}

func cloneSession(src domain.CheckoutSession) domain.CheckoutSession {
	dst := src
	dst.Lines = make([]domain.CartItem, len(src.Lines))
	copy(dst.Lines, src.Lines)
	if src.Otp != nil {
		otp := *src.Otp
		dst.Otp = &otp
	}
	if src.Gateway != nil {
		gw := *src.Gateway
		dst.Gateway = &gw
	}
	return dst
}

var _ domain.SessionStore = (*SessionStore)(nil)
