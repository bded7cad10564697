package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

func makeVoucher() domain.Voucher {
	now := time.Now().UTC()
	return domain.Voucher{
		ID:            "voucher-1",
		Code:          "SAVE10",
		DiscountValue: 10,
		DiscountType:  domain.DiscountTypePercent,
		MinOrderMinor: 100,
		RemainingUses: 5,
		ValidFrom:     now.Add(-time.Hour),
		ValidTo:       now.Add(time.Hour),
		Active:        true,
	}
}

func TestVoucherApplicable_Ok(t *testing.T) {
	v := makeVoucher()
	if err := v.Applicable(time.Now().UTC(), 200); err != nil {
		t.Fatalf("expected voucher to be applicable, got %v", err)
	}
}

func TestVoucherApplicable_Errors(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name     string
		mut      func(v *domain.Voucher)
		subtotal int64
		want     error
	}{
		{
			name:     "inactive",
			mut:      func(v *domain.Voucher) { v.Active = false },
			subtotal: 200,
			want:     domain.ErrVoucherInvalid,
		},
		{
			name:     "not started yet",
			mut:      func(v *domain.Voucher) { v.ValidFrom = now.Add(time.Minute) },
			subtotal: 200,
			want:     domain.ErrVoucherExpired,
		},
		{
			name:     "already expired",
			mut:      func(v *domain.Voucher) { v.ValidTo = now.Add(-time.Minute) },
			subtotal: 200,
			want:     domain.ErrVoucherExpired,
		},
		{
			name:     "no uses left",
			mut:      func(v *domain.Voucher) { v.RemainingUses = 0 },
			subtotal: 200,
			want:     domain.ErrVoucherOutOfUses,
		},
		{
			name:     "below minimum",
			mut:      func(v *domain.Voucher) {},
			subtotal: 99,
			want:     domain.ErrVoucherBelowMinimum,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := makeVoucher()
			tc.mut(&v)
			err := v.Applicable(now, tc.subtotal)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVoucherDiscount(t *testing.T) {
	cases := []struct {
		name     string
		mut      func(v *domain.Voucher)
		subtotal int64
		want     int64
	}{
		{
			name:     "ten percent of 200",
			mut:      func(v *domain.Voucher) {},
			subtotal: 200,
			want:     20,
		},
		{
			name: "fixed amount",
			mut: func(v *domain.Voucher) {
				v.DiscountType = domain.DiscountTypeAmount
				v.DiscountValue = 50
			},
			subtotal: 200,
			want:     50,
		},
		{
			name: "fixed amount clamped to subtotal",
			mut: func(v *domain.Voucher) {
				v.DiscountType = domain.DiscountTypeAmount
				v.DiscountValue = 500
			},
			subtotal: 200,
			want:     200,
		},
		{
			name: "percent capped by max discount",
			mut: func(v *domain.Voucher) {
				v.DiscountValue = 50
				v.MaxDiscountMinor = 30
			},
			subtotal: 200,
			want:     30,
		},
		{
			name: "unknown type yields zero",
			mut: func(v *domain.Voucher) {
				v.DiscountType = domain.DiscountType("unknown")
			},
			subtotal: 200,
			want:     0,
		},
		{
			name:     "zero subtotal",
			mut:      func(v *domain.Voucher) {},
			subtotal: 0,
			want:     0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := makeVoucher()
			tc.mut(&v)
			if got := v.Discount(tc.subtotal); got != tc.want {
				t.Fatalf("expected discount %d, got %d", tc.want, got)
			}
		})
	}
}
