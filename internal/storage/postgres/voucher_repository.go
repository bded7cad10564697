package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// VoucherByCode возвращает ваучер по коду.
func (r repos) VoucherByCode(ctx context.Context, code string) (domain.Voucher, error) {
	var (
		voucher      domain.Voucher
		discountType string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, code, discount_value, discount_type, max_discount_minor,
		       min_order_minor, remaining_uses, valid_from, valid_to, active,
		       created_at, updated_at
		FROM vouchers
		WHERE code = $1
	`, code).Scan(
		&voucher.ID, &voucher.Code, &voucher.DiscountValue, &discountType,
		&voucher.MaxDiscountMinor, &voucher.MinOrderMinor, &voucher.RemainingUses,
		&voucher.ValidFrom, &voucher.ValidTo, &voucher.Active,
		&voucher.CreatedAt, &voucher.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Voucher{}, domain.ErrVoucherInvalid
		}
		return domain.Voucher{}, fmt.Errorf("select voucher: %w", err)
	}
	voucher.DiscountType = domain.DiscountType(discountType)
	return voucher, nil
}

// RedeemVoucher условно списывает одно применение: UPDATE срабатывает
// только при remaining_uses > 0, что делает погашение атомарным.
func (r repos) RedeemVoucher(ctx context.Context, code string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE vouchers
		SET remaining_uses = remaining_uses - 1,
		    updated_at = NOW()
		WHERE code = $1
		  AND remaining_uses > 0
	`, code)
	if err != nil {
		return fmt.Errorf("redeem voucher: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.rowExists(ctx, `SELECT id FROM vouchers WHERE code = $1`, code)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrVoucherInvalid
		}
		return domain.ErrVoucherOutOfUses
	}
	return nil
}
