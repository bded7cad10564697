package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора покупателя.
	ErrBuyerRequired = errors.New("user_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrLineQtyInvalid = errors.New("line qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrLinePriceInvalid = errors.New("line price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order subtotal does not match lines sum")
	// Ошибка скидки вне диапазона [0, субтотал].
	ErrDiscountInvalid = errors.New("discount must be within [0, subtotal]")

	// ErrProductNotFound возвращается, если товар не найден в хранилище.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock — на складе меньше товара, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrVoucherInvalid — ваучер не существует или деактивирован.
	ErrVoucherInvalid = errors.New("voucher invalid")
	// ErrVoucherExpired — текущая дата вне окна действия ваучера.
	ErrVoucherExpired = errors.New("voucher expired")
	// ErrVoucherOutOfUses — лимит применений ваучера исчерпан.
	ErrVoucherOutOfUses = errors.New("voucher out of uses")
	// ErrVoucherBelowMinimum — сумма заказа меньше минимальной для ваучера.
	ErrVoucherBelowMinimum = errors.New("order subtotal below voucher minimum")

	// ErrCartNotFound — у пользователя нет активной корзины.
	ErrCartNotFound = errors.New("active cart not found")
	// ErrCartEmpty — корзина не содержит позиций.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrCartCheckedOut — корзина уже оформлена и неизменяема.
	ErrCartCheckedOut = errors.New("cart already checked out")

	// ErrOtpExpired — срок действия OTP-кода истёк.
	ErrOtpExpired = errors.New("otp expired")
	// ErrOtpMismatch — введён неверный OTP-код.
	ErrOtpMismatch = errors.New("otp mismatch")
	// ErrOtpAttemptsExceeded — исчерпан лимит попыток ввода OTP.
	ErrOtpAttemptsExceeded = errors.New("otp attempts exceeded")

	// ErrGatewayRejected — платёжный провайдер отклонил попытку оплаты.
	ErrGatewayRejected = errors.New("payment gateway rejected")

	// ErrAddressInvalid — адрес не существует или принадлежит другому пользователю.
	ErrAddressInvalid = errors.New("address invalid")
	// ErrPaymentMethodInvalid — неизвестный способ оплаты.
	ErrPaymentMethodInvalid = errors.New("payment method invalid")
	// ErrUserNotFound — пользователь не найден в справочнике.
	ErrUserNotFound = errors.New("user not found")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderInvalidTransition — запрошенный переход статуса запрещён.
	ErrOrderInvalidTransition = errors.New("order status transition not allowed")

	// ErrCheckoutSessionNotFound — checkout-сессия отсутствует или истекла.
	ErrCheckoutSessionNotFound = errors.New("checkout session not found")
	// ErrCheckoutInvalidState — операция неприменима в текущем состоянии сессии.
	ErrCheckoutInvalidState = errors.New("checkout session in invalid state")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// expectedErrors перечисляет бизнес-ошибки, которые возвращаются вызывающему
// как исходы, а не как системные сбои.
var expectedErrors = []error{
	ErrProductNotFound,
	ErrInsufficientStock,
	ErrVoucherInvalid,
	ErrVoucherExpired,
	ErrVoucherOutOfUses,
	ErrVoucherBelowMinimum,
	ErrCartNotFound,
	ErrCartEmpty,
	ErrCartCheckedOut,
	ErrOtpExpired,
	ErrOtpMismatch,
	ErrOtpAttemptsExceeded,
	ErrGatewayRejected,
	ErrAddressInvalid,
	ErrPaymentMethodInvalid,
	ErrUserNotFound,
	ErrOrderNotFound,
	ErrOrderInvalidTransition,
	ErrCheckoutSessionNotFound,
	ErrCheckoutInvalidState,
}

// IsExpected отличает ожидаемые доменные исходы от системных сбоев:
// первые конвертируются в конкретные сообщения пользователю,
// вторые логируются и наружу уходят как generic ошибка.
func IsExpected(err error) bool {
	for _, expected := range expectedErrors {
		if errors.Is(err, expected) {
			return true
		}
	}
	return false
}
