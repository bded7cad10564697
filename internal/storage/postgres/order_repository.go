package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// CreateOrder сохраняет новый заказ вместе с позициями.
func (r repos) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, address_id, payment_method_id, voucher_code,
			correlation_id, status, payment_status, subtotal_minor,
			discount_minor, final_total_minor, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		order.ID, order.UserID, order.AddressID, order.PaymentMethodID,
		order.VoucherCode, order.CorrelationID, string(order.Status),
		string(order.PaymentStatus), order.SubtotalMinor, order.DiscountMinor,
		order.FinalTotalMinor, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, line := range order.Lines {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_lines (
				id, order_id, product_id, qty, unit_price_minor,
				stock_before, stock_after, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			line.ID, order.ID, line.ProductID, line.Qty, line.UnitPriceMinor,
			line.StockBefore, line.StockAfter, line.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	return nil
}

// Order возвращает заказ по идентификатору.
func (r repos) Order(ctx context.Context, id string) (domain.Order, error) {
	return r.selectOrder(ctx, `WHERE id = $1`, id)
}

// OrderByCorrelationID находит заказ по платёжной корреляции.
func (r repos) OrderByCorrelationID(ctx context.Context, correlationID string) (domain.Order, error) {
	return r.selectOrder(ctx, `WHERE correlation_id = $1 AND correlation_id <> ''`, correlationID)
}

func (r repos) selectOrder(ctx context.Context, where string, arg any) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		paymentStatus string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, address_id, payment_method_id, voucher_code,
		       correlation_id, status, payment_status, subtotal_minor,
		       discount_minor, final_total_minor, version, created_at, updated_at
		FROM orders
	`+where, arg).Scan(
		&order.ID, &order.UserID, &order.AddressID, &order.PaymentMethodID,
		&order.VoucherCode, &order.CorrelationID, &status, &paymentStatus,
		&order.SubtotalMinor, &order.DiscountMinor, &order.FinalTotalMinor,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)

	lines, err := r.loadOrderLines(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines

	return order, nil
}

// ListOrdersByUser возвращает заказы пользователя, свежие первыми.
func (r repos) ListOrdersByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	query := `
		SELECT id, user_id, address_id, payment_method_id, voucher_code,
		       correlation_id, status, payment_status, subtotal_minor,
		       discount_minor, final_total_minor, version, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.q.QueryContext(ctx, query+" LIMIT $2", userID, limit)
	} else {
		rows, err = r.q.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			order         domain.Order
			status        string
			paymentStatus string
		)
		if err := rows.Scan(
			&order.ID, &order.UserID, &order.AddressID, &order.PaymentMethodID,
			&order.VoucherCode, &order.CorrelationID, &status, &paymentStatus,
			&order.SubtotalMinor, &order.DiscountMinor, &order.FinalTotalMinor,
			&order.Version, &order.CreatedAt, &order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.Status = domain.OrderStatus(status)
		order.PaymentStatus = domain.PaymentStatus(paymentStatus)
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		lines, err := r.loadOrderLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}

	return orders, nil
}

// SaveOrder применяет обновления к заказу с учётом optimistic locking.
// Позиции заказа неизменяемы и не перезаписываются.
func (r repos) SaveOrder(ctx context.Context, order domain.Order) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $4
		  AND version = $5
	`,
		string(order.Status),
		string(order.PaymentStatus),
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.rowExists(ctx, `SELECT id FROM orders WHERE id = $1`, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}
	return nil
}

func (r repos) loadOrderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, qty, unit_price_minor, stock_before, stock_after, created_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(
			&line.ID, &line.ProductID, &line.Qty, &line.UnitPriceMinor,
			&line.StockBefore, &line.StockAfter, &line.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return lines, nil
}
