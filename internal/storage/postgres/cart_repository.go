package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// ActiveCart возвращает единственную активную корзину пользователя.
// Уникальный partial-индекс на (user_id) WHERE NOT checked_out
// гарантирует, что активная корзина одна.
func (r repos) ActiveCart(ctx context.Context, userID string) (domain.Cart, error) {
	var cart domain.Cart
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, checked_out, version, created_at, updated_at
		FROM carts
		WHERE user_id = $1
		  AND NOT checked_out
	`, userID).Scan(
		&cart.ID, &cart.UserID, &cart.CheckedOut,
		&cart.Version, &cart.CreatedAt, &cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select active cart: %w", err)
	}

	items, err := r.loadCartItems(ctx, cart.ID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart.Items = items
	return cart, nil
}

// MarkCartCheckedOut помечает корзину оформленной. Повторная пометка
// отклоняется: оформленная корзина неизменяема.
func (r repos) MarkCartCheckedOut(ctx context.Context, cartID string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE carts
		SET checked_out = TRUE,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND NOT checked_out
	`, cartID)
	if err != nil {
		return fmt.Errorf("mark cart checked out: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.rowExists(ctx, `SELECT id FROM carts WHERE id = $1`, cartID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrCartNotFound
		}
		return domain.ErrCartCheckedOut
	}
	return nil
}

func (r repos) loadCartItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, qty, unit_price_minor, created_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY created_at ASC, id ASC
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Qty, &item.UnitPriceMinor, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}

	return items, nil
}
