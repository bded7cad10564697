package domain

import "time"

// CheckoutState описывает состояние checkout-сессии.
type CheckoutState string

const (
	// CheckoutStateBuilding — корзина выбрана, адрес и способ оплаты ещё нет.
	CheckoutStateBuilding CheckoutState = "building"
	// CheckoutStateAwaitingPaymentInput — адрес и способ оплаты выбраны, итоги посчитаны.
	CheckoutStateAwaitingPaymentInput CheckoutState = "awaiting_payment_input"
	// CheckoutStateAwaitingOtp — отправлен OTP, ждём подтверждения кода.
	CheckoutStateAwaitingOtp CheckoutState = "awaiting_otp"
	// CheckoutStateAwaitingGatewayCallback — пользователь ушёл на провайдера, ждём callback.
	CheckoutStateAwaitingGatewayCallback CheckoutState = "awaiting_gateway_callback"
	// CheckoutStateCommitted — заказ создан, терминальный успех.
	CheckoutStateCommitted CheckoutState = "committed"
	// CheckoutStateFailed — терминальный неуспех (лимит OTP, отказ провайдера).
	CheckoutStateFailed CheckoutState = "failed"
	// CheckoutStateExpired — сессия истекла по TTL; побочных эффектов нет.
	CheckoutStateExpired CheckoutState = "expired"
	// CheckoutStateAbandoned — пользователь явно отменил оформление.
	CheckoutStateAbandoned CheckoutState = "abandoned"
)

// TerminalSessionRetention — время хранения терминальной сессии после
// завершения оформления, чтобы UI успел показать итог. Одно значение
// для всех путей завершения: OTP, gateway-callback и abandon.
const TerminalSessionRetention = 15 * time.Minute

// Terminal сообщает, завершена ли сессия.
func (s CheckoutState) Terminal() bool {
	switch s {
	case CheckoutStateCommitted, CheckoutStateFailed, CheckoutStateExpired, CheckoutStateAbandoned:
		return true
	default:
		return false
	}
}

const (
	// OtpLength — число цифр в OTP-коде.
	OtpLength = 6
	// OtpMaxAttempts — максимум попыток ввода до перевода сессии в Failed.
	OtpMaxAttempts = 3
	// OtpTTL — срок действия OTP-кода.
	OtpTTL = 5 * time.Minute
)

// OtpChallenge хранит состояние синхронного подтверждения кодом.
type OtpChallenge struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

// GatewayAttempt связывает сессию с внешней платёжной сессией провайдера.
type GatewayAttempt struct {
	Provider      string `json:"provider"`
	CorrelationID string `json:"correlation_id"`
	// OrderID заполнен только для wallet-провайдеров, требующих заказ до редиректа.
	OrderID string `json:"order_id,omitempty"`
}

// CheckoutSession — эфемерное состояние оформления заказа одного пользователя.
// Живёт в session store с TTL и никогда не персистится долговременно:
// потеря сессии до коммита безопасна, частичного заказа не существует.
type CheckoutSession struct {
	UserID string        `json:"user_id"`
	CartID string        `json:"cart_id"`
	State  CheckoutState `json:"state"`
	// Lines — снапшот позиций корзины на момент начала оформления.
	// Остатки склада при коммите перечитываются заново, снапшот не используется
	// для проверки стока.
	Lines           []CartItem      `json:"lines"`
	AddressID       string          `json:"address_id,omitempty"`
	PaymentMethodID string          `json:"payment_method_id,omitempty"`
	VoucherCode     string          `json:"voucher_code,omitempty"`
	SubtotalMinor   int64           `json:"subtotal_minor"`
	DiscountMinor   int64           `json:"discount_minor"`
	FinalTotalMinor int64           `json:"final_total_minor"`
	Otp             *OtpChallenge   `json:"otp,omitempty"`
	Gateway         *GatewayAttempt `json:"gateway,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewCheckoutSession создаёт сессию в состоянии Building со снапшотом корзины.
func NewCheckoutSession(userID string, cart Cart, now time.Time) *CheckoutSession {
	lines := make([]CartItem, len(cart.Items))
	copy(lines, cart.Items)

	subtotal := cart.SubtotalMinor()
	return &CheckoutSession{
		UserID:          userID,
		CartID:          cart.ID,
		State:           CheckoutStateBuilding,
		Lines:           lines,
		SubtotalMinor:   subtotal,
		FinalTotalMinor: subtotal,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ChooseDetails фиксирует адрес, способ оплаты и предварительную скидку.
// Допустим повторный выбор из AwaitingPaymentInput (пользователь передумал).
func (s *CheckoutSession) ChooseDetails(addressID, paymentMethodID, voucherCode string, discountMinor int64, now time.Time) error {
	if s.State != CheckoutStateBuilding && s.State != CheckoutStateAwaitingPaymentInput {
		return ErrCheckoutInvalidState
	}
	if discountMinor < 0 || discountMinor > s.SubtotalMinor {
		return ErrDiscountInvalid
	}

	s.AddressID = addressID
	s.PaymentMethodID = paymentMethodID
	s.VoucherCode = voucherCode
	s.DiscountMinor = discountMinor
	s.FinalTotalMinor = s.SubtotalMinor - discountMinor
	s.State = CheckoutStateAwaitingPaymentInput
	s.UpdatedAt = now
	return nil
}

// BeginOtp переводит сессию в ожидание OTP с новым кодом.
func (s *CheckoutSession) BeginOtp(code string, now time.Time) error {
	if s.State != CheckoutStateAwaitingPaymentInput {
		return ErrCheckoutInvalidState
	}
	s.Otp = &OtpChallenge{
		Code:      code,
		ExpiresAt: now.Add(OtpTTL),
		Attempts:  0,
	}
	s.Gateway = nil
	s.State = CheckoutStateAwaitingOtp
	s.UpdatedAt = now
	return nil
}

// ResetOtp выдаёт новый код, сбрасывая срок действия и счётчик попыток.
func (s *CheckoutSession) ResetOtp(code string, now time.Time) error {
	if s.State != CheckoutStateAwaitingOtp {
		return ErrCheckoutInvalidState
	}
	s.Otp = &OtpChallenge{
		Code:      code,
		ExpiresAt: now.Add(OtpTTL),
		Attempts:  0,
	}
	s.UpdatedAt = now
	return nil
}

// SubmitOtp проверяет введённый код.
// Порядок проверок: истечение срока, лимит попыток, совпадение кода.
// Неверный код инкрементирует счётчик; достижение лимита переводит сессию
// в Failed, после чего любой ввод отклоняется без сверки кода.
func (s *CheckoutSession) SubmitOtp(input string, now time.Time) error {
	if s.State == CheckoutStateFailed {
		return ErrOtpAttemptsExceeded
	}
	if s.State != CheckoutStateAwaitingOtp || s.Otp == nil {
		return ErrCheckoutInvalidState
	}

	if now.After(s.Otp.ExpiresAt) {
		return ErrOtpExpired
	}
	if s.Otp.Attempts >= OtpMaxAttempts {
		s.State = CheckoutStateFailed
		s.UpdatedAt = now
		return ErrOtpAttemptsExceeded
	}

	if input != s.Otp.Code {
		s.Otp.Attempts++
		s.UpdatedAt = now
		if s.Otp.Attempts >= OtpMaxAttempts {
			s.State = CheckoutStateFailed
			return ErrOtpAttemptsExceeded
		}
		return ErrOtpMismatch
	}

	return nil
}

// BeginGateway переводит сессию в ожидание callback от провайдера.
func (s *CheckoutSession) BeginGateway(provider, correlationID, orderID string, now time.Time) error {
	if s.State != CheckoutStateAwaitingPaymentInput {
		return ErrCheckoutInvalidState
	}
	s.Gateway = &GatewayAttempt{
		Provider:      provider,
		CorrelationID: correlationID,
		OrderID:       orderID,
	}
	s.Otp = nil
	s.State = CheckoutStateAwaitingGatewayCallback
	s.UpdatedAt = now
	return nil
}

// MarkCommitted фиксирует терминальный успех сессии.
func (s *CheckoutSession) MarkCommitted(now time.Time) error {
	if s.State.Terminal() {
		return ErrCheckoutInvalidState
	}
	s.State = CheckoutStateCommitted
	s.UpdatedAt = now
	return nil
}

// MarkFailed фиксирует терминальный неуспех сессии.
func (s *CheckoutSession) MarkFailed(now time.Time) error {
	if s.State.Terminal() {
		return ErrCheckoutInvalidState
	}
	s.State = CheckoutStateFailed
	s.UpdatedAt = now
	return nil
}

// MarkAbandoned фиксирует явную отмену оформления пользователем.
// Побочных эффектов нет: до коммита ни сток, ни ваучер не изменялись.
func (s *CheckoutSession) MarkAbandoned(now time.Time) error {
	if s.State.Terminal() {
		return ErrCheckoutInvalidState
	}
	s.State = CheckoutStateAbandoned
	s.UpdatedAt = now
	return nil
}
