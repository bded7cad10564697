package domain

import "time"

// DiscountType задаёт способ вычисления скидки ваучера.
type DiscountType string

const (
	// DiscountTypePercent — скидка в процентах от субтотала.
	DiscountTypePercent DiscountType = "percent"
	// DiscountTypeAmount — фиксированная скидка в минимальных денежных единицах.
	DiscountTypeAmount DiscountType = "amount"
)

// Voucher описывает купон на скидку с ограниченным числом применений.
type Voucher struct {
	ID   string
	Code string
	// DiscountValue — проценты для percent и сумма в минорных единицах для amount.
	DiscountValue int64
	DiscountType  DiscountType
	// MaxDiscountMinor ограничивает скидку сверху; 0 означает отсутствие потолка.
	MaxDiscountMinor int64
	MinOrderMinor    int64
	RemainingUses    int32
	ValidFrom        time.Time
	ValidTo          time.Time
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Applicable проверяет применимость ваучера к заказу на момент asOf.
// Проверка только читает состояние; списание применений происходит
// исключительно внутри транзакции коммита.
func (v *Voucher) Applicable(asOf time.Time, subtotalMinor int64) error {
	if !v.Active {
		return ErrVoucherInvalid
	}
	if asOf.Before(v.ValidFrom) || asOf.After(v.ValidTo) {
		return ErrVoucherExpired
	}
	if v.RemainingUses <= 0 {
		return ErrVoucherOutOfUses
	}
	if subtotalMinor < v.MinOrderMinor {
		return ErrVoucherBelowMinimum
	}
	return nil
}

// Discount вычисляет размер скидки для данного субтотала.
// Скидка никогда не превышает MaxDiscountMinor (если задан) и сам субтотал,
// чтобы итог заказа не ушёл в минус.
func (v *Voucher) Discount(subtotalMinor int64) int64 {
	var discount int64
	switch v.DiscountType {
	case DiscountTypePercent:
		discount = subtotalMinor * v.DiscountValue / 100
	case DiscountTypeAmount:
		discount = v.DiscountValue
	default:
		return 0
	}

	if v.MaxDiscountMinor > 0 && discount > v.MaxDiscountMinor {
		discount = v.MaxDiscountMinor
	}
	if discount > subtotalMinor {
		discount = subtotalMinor
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}
