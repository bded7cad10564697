package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// AddressOwnedBy проверяет, что адрес существует и принадлежит пользователю.
func (r repos) AddressOwnedBy(ctx context.Context, addressID, userID string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM addresses WHERE id = $1 AND user_id = $2
		)
	`, addressID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check address ownership: %w", err)
	}
	return exists, nil
}

// PaymentMethod возвращает способ оплаты по идентификатору.
func (r repos) PaymentMethod(ctx context.Context, id string) (domain.PaymentMethod, error) {
	var (
		method domain.PaymentMethod
		kind   string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, kind, provider
		FROM payment_methods
		WHERE id = $1
	`, id).Scan(&method.ID, &method.Name, &kind, &method.Provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentMethod{}, domain.ErrPaymentMethodInvalid
		}
		return domain.PaymentMethod{}, fmt.Errorf("select payment method: %w", err)
	}
	method.Kind = domain.PaymentKind(kind)
	return method, nil
}

// User возвращает контакт пользователя.
func (r repos) User(ctx context.Context, id string) (domain.User, error) {
	var user domain.User
	err := r.q.QueryRowContext(ctx, `
		SELECT id, email, name
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}
