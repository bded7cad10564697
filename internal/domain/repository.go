package domain

import "context"

// ProductRepository описывает требования к хранилищу складских остатков.
type ProductRepository interface {
	// Product возвращает товар по идентификатору или ErrProductNotFound.
	Product(ctx context.Context, id string) (Product, error)
	// DecrementStock атомарно списывает qty единиц при условии достаточного
	// остатка; при нехватке возвращает ErrInsufficientStock, остаток не меняется.
	DecrementStock(ctx context.Context, productID string, qty int32) error
}

// VoucherRepository описывает требования к хранилищу ваучеров.
type VoucherRepository interface {
	// VoucherByCode возвращает ваучер по коду или ErrVoucherInvalid.
	VoucherByCode(ctx context.Context, code string) (Voucher, error)
	// RedeemVoucher атомарно списывает одно применение при условии
	// remaining_uses > 0; иначе возвращает ErrVoucherOutOfUses.
	RedeemVoucher(ctx context.Context, code string) error
}

// CartRepository описывает требования к хранилищу корзин.
type CartRepository interface {
	// ActiveCart возвращает единственную активную корзину пользователя
	// или ErrCartNotFound.
	ActiveCart(ctx context.Context, userID string) (Cart, error)
	// MarkCartCheckedOut помечает корзину оформленной (терминально);
	// повторная пометка возвращает ErrCartCheckedOut.
	MarkCartCheckedOut(ctx context.Context, cartID string) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// CreateOrder сохраняет новый заказ вместе с позициями.
	CreateOrder(ctx context.Context, order Order) error
	// Order возвращает заказ по идентификатору или ErrOrderNotFound.
	Order(ctx context.Context, id string) (Order, error)
	// OrderByCorrelationID находит заказ по платёжной корреляции
	// или возвращает ErrOrderNotFound.
	OrderByCorrelationID(ctx context.Context, correlationID string) (Order, error)
	// ListOrdersByUser возвращает заказы пользователя, свежие первыми.
	ListOrdersByUser(ctx context.Context, userID string, limit int) ([]Order, error)
	// SaveOrder применяет обновления к заказу с учётом optimistic locking.
	SaveOrder(ctx context.Context, order Order) error
}

// DirectoryRepository — справочные данные: адреса, способы оплаты, контакты.
type DirectoryRepository interface {
	// AddressOwnedBy проверяет, что адрес существует и принадлежит пользователю.
	AddressOwnedBy(ctx context.Context, addressID, userID string) (bool, error)
	// PaymentMethod возвращает способ оплаты или ErrPaymentMethodInvalid.
	PaymentMethod(ctx context.Context, id string) (PaymentMethod, error)
	// User возвращает контакт пользователя или ErrUserNotFound.
	User(ctx context.Context, id string) (User, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
// Enqueue вызывается внутри транзакции коммита, чтобы событие и заказ
// появлялись атомарно.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	AppendTimeline(ctx context.Context, event TimelineEvent) error
	Timeline(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// Repositories объединяет все репозитории, доступные внутри одной транзакции.
type Repositories interface {
	ProductRepository
	VoucherRepository
	CartRepository
	OrderRepository
	DirectoryRepository
	OutboxRepository
	TimelineRepository
}

// Store — транзакционная граница над persistence-хранилищем.
// Методы Repositories вне InTx выполняются как одиночные операции.
type Store interface {
	Repositories
	// InTx выполняет fn в одной атомарной транзакции: любой возврат ошибки
	// откатывает все мутации. Коммиты по одному товару сериализуются на
	// уровне хранилища, чтобы конкурентные списания не ушли в минус.
	InTx(ctx context.Context, fn func(tx Repositories) error) error
}
