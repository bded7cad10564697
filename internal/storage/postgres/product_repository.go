package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// Product возвращает товар по идентификатору.
func (r repos) Product(ctx context.Context, id string) (domain.Product, error) {
	var product domain.Product
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, price_minor, available_quantity, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&product.ID, &product.Name, &product.PriceMinor,
		&product.AvailableQuantity, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

// DecrementStock условно списывает qty единиц: UPDATE срабатывает
// только при достаточном остатке, поэтому параллельные списания
// не могут увести остаток в минус.
func (r repos) DecrementStock(ctx context.Context, productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrLineQtyInvalid
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET available_quantity = available_quantity - $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND available_quantity >= $2
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.rowExists(ctx, `SELECT id FROM products WHERE id = $1`, productID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrProductNotFound
		}
		return domain.ErrInsufficientStock
	}
	return nil
}

func (r repos) rowExists(ctx context.Context, query string, args ...any) (bool, error) {
	var id string
	err := r.q.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check row exists: %w", err)
}
