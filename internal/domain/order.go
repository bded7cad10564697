package domain

import "time"

// OrderStatus описывает клиентский жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPendingPayment — заказ создан до редиректа на кошелёк-провайдера,
	// складские и ваучерные эффекты ещё не применены.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusAwaitingConfirmation — коммит выполнен, заказ ждёт подтверждения менеджером.
	OrderStatusAwaitingConfirmation OrderStatus = "awaiting_confirmation"
	// OrderStatusConfirmed — заказ подтверждён и готов к сборке.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusAwaitingExport — заказ ждёт выгрузки со склада.
	OrderStatusAwaitingExport OrderStatus = "awaiting_export"
	// OrderStatusAwaitingDelivery — заказ передан в доставку.
	OrderStatusAwaitingDelivery OrderStatus = "awaiting_delivery"
	// OrderStatusDelivered — заказ доставлен покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён покупателем до подтверждения.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusPaymentFailed — оплата не состоялась, заказ завершён неуспехом.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
)

// PaymentStatus — параллельный к OrderStatus статус оплаты.
type PaymentStatus string

const (
	// PaymentStatusUnpaid — оплата ещё не выполнялась (COD до получения).
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusPaid — провайдер подтвердил оплату.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — провайдер отклонил оплату.
	PaymentStatusFailed PaymentStatus = "payment_failed"
)

// orderTransitions фиксирует разрешённые переходы статусов.
// Cancelled достижим только из AwaitingConfirmation: после подтверждения
// покупатель отменить заказ не может.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment:       {OrderStatusAwaitingConfirmation, OrderStatusPaymentFailed},
	OrderStatusAwaitingConfirmation: {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:            {OrderStatusAwaitingExport},
	OrderStatusAwaitingExport:       {OrderStatusAwaitingDelivery},
	OrderStatusAwaitingDelivery:     {OrderStatusDelivered},
}

// CanTransitionTo проверяет, разрешён ли переход статуса.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal сообщает, является ли статус конечным для попытки оплаты:
// повторный gateway-callback для заказа в таком статусе — no-op.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusPaymentFailed:
		return true
	default:
		return false
	}
}

// Settled сообщает, прошёл ли заказ точку коммита: складские эффекты применены.
func (s OrderStatus) Settled() bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusPaymentFailed:
		return false
	default:
		return true
	}
}

// OrderLine представляет одну неизменяемую позицию заказа.
type OrderLine struct {
	ID        string
	ProductID string
	Qty       int32
	// UnitPriceMinor — цена за единицу, зафиксированная в корзине.
	UnitPriceMinor int64
	// StockBefore и StockAfter — аудиторский снимок остатка до и после списания.
	StockBefore int32
	StockAfter  int32
	CreatedAt   time.Time
}

// Order агрегирует состояние заказа и его позиции.
// Позиции неизменяемы после создания; меняется только статус заказа.
type Order struct {
	ID              string
	UserID          string
	AddressID       string
	PaymentMethodID string
	// VoucherCode пуст, если скидка не применялась.
	VoucherCode string
	// CorrelationID связывает заказ с внешней платёжной сессией.
	CorrelationID   string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	SubtotalMinor   int64
	DiscountMinor   int64
	FinalTotalMinor int64
	Lines           []OrderLine
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if o.SubtotalMinor < 0 || o.FinalTotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем субтотал с суммой позиций: qty * price.
	var calc int64
	for _, line := range o.Lines {
		if line.Qty <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.UnitPriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
		calc += int64(line.Qty) * line.UnitPriceMinor
	}
	if calc != o.SubtotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	if o.DiscountMinor < 0 || o.DiscountMinor > o.SubtotalMinor {
		errs = append(errs, ErrDiscountInvalid)
	} else if o.SubtotalMinor-o.DiscountMinor != o.FinalTotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// PaymentKind определяет путь подтверждения оплаты.
type PaymentKind string

const (
	// PaymentKindOTP — синхронное подтверждение кодом (cash-on-delivery).
	PaymentKindOTP PaymentKind = "otp"
	// PaymentKindRedirect — редирект на провайдера, заказ создаётся после callback.
	PaymentKindRedirect PaymentKind = "redirect"
	// PaymentKindWallet — провайдер требует существующий заказ до редиректа.
	PaymentKindWallet PaymentKind = "wallet"
)

// PaymentMethod описывает доступный способ оплаты.
type PaymentMethod struct {
	ID       string
	Name     string
	Kind     PaymentKind
	Provider string
}

// Address — адрес доставки; проверяется только принадлежность пользователю.
type Address struct {
	ID        string
	UserID    string
	Recipient string
	Line      string
}

// User хранит контакт для доставки OTP и подтверждений.
type User struct {
	ID    string
	Email string
	Name  string
}

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
