package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
	"github.com/vladislavdragonenkov/techstore/internal/service/coordinator"
)

type selectDetailsRequest struct {
	AddressID       string `json:"address_id"`
	PaymentMethodID string `json:"payment_method_id"`
	VoucherCode     string `json:"voucher_code,omitempty"`
}

type voucherPreviewRequest struct {
	VoucherCode string `json:"voucher_code"`
}

type voucherPreviewResponse struct {
	DiscountMinor int64 `json:"discount_minor"`
}

type verifyOtpRequest struct {
	Code string `json:"code"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

type startPaymentResponse struct {
	PaymentURL string `json:"payment_url"`
}

type sessionResponse struct {
	UserID          string           `json:"user_id"`
	CartID          string           `json:"cart_id"`
	State           string           `json:"state"`
	Lines           []sessionLine    `json:"lines"`
	AddressID       string           `json:"address_id,omitempty"`
	PaymentMethodID string           `json:"payment_method_id,omitempty"`
	VoucherCode     string           `json:"voucher_code,omitempty"`
	SubtotalMinor   int64            `json:"subtotal_minor"`
	DiscountMinor   int64            `json:"discount_minor"`
	FinalTotalMinor int64            `json:"final_total_minor"`
	Otp             *otpChallengeDTO `json:"otp,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type sessionLine struct {
	ProductID      string `json:"product_id"`
	Qty            int32  `json:"qty"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// otpChallengeDTO не содержит кода: клиент получает код по каналу доставки.
type otpChallengeDTO struct {
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

type orderResponse struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	AddressID       string      `json:"address_id"`
	PaymentMethodID string      `json:"payment_method_id"`
	VoucherCode     string      `json:"voucher_code,omitempty"`
	Status          string      `json:"status"`
	PaymentStatus   string      `json:"payment_status"`
	SubtotalMinor   int64       `json:"subtotal_minor"`
	DiscountMinor   int64       `json:"discount_minor"`
	FinalTotalMinor int64       `json:"final_total_minor"`
	Lines           []orderLine `json:"lines"`
	Version         int64       `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

type orderLine struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	Qty            int32  `json:"qty"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

type timelineEventDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type callbackResponse struct {
	Committed bool           `json:"committed"`
	Duplicate bool           `json:"duplicate"`
	Reason    string         `json:"reason,omitempty"`
	Order     *orderResponse `json:"order,omitempty"`
}

func toSessionResponse(session domain.CheckoutSession) sessionResponse {
	lines := make([]sessionLine, 0, len(session.Lines))
	for _, item := range session.Lines {
		lines = append(lines, sessionLine{
			ProductID:      item.ProductID,
			Qty:            item.Qty,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}
	resp := sessionResponse{
		UserID:          session.UserID,
		CartID:          session.CartID,
		State:           string(session.State),
		Lines:           lines,
		AddressID:       session.AddressID,
		PaymentMethodID: session.PaymentMethodID,
		VoucherCode:     session.VoucherCode,
		SubtotalMinor:   session.SubtotalMinor,
		DiscountMinor:   session.DiscountMinor,
		FinalTotalMinor: session.FinalTotalMinor,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
	}
	if session.Otp != nil {
		resp.Otp = &otpChallengeDTO{
			ExpiresAt: session.Otp.ExpiresAt,
			Attempts:  session.Otp.Attempts,
		}
	}
	return resp
}

func toOrderResponse(order domain.Order) orderResponse {
	lines := make([]orderLine, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, orderLine{
			ID:             l.ID,
			ProductID:      l.ProductID,
			Qty:            l.Qty,
			UnitPriceMinor: l.UnitPriceMinor,
		})
	}
	return orderResponse{
		ID:              order.ID,
		UserID:          order.UserID,
		AddressID:       order.AddressID,
		PaymentMethodID: order.PaymentMethodID,
		VoucherCode:     order.VoucherCode,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		SubtotalMinor:   order.SubtotalMinor,
		DiscountMinor:   order.DiscountMinor,
		FinalTotalMinor: order.FinalTotalMinor,
		Lines:           lines,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func toCallbackResponse(outcome coordinator.CallbackOutcome) callbackResponse {
	resp := callbackResponse{
		Committed: outcome.Committed,
		Duplicate: outcome.Duplicate,
		Reason:    outcome.Reason,
	}
	if outcome.Order.ID != "" {
		order := toOrderResponse(outcome.Order)
		resp.Order = &order
	}
	return resp
}
