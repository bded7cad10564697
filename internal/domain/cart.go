package domain

import "time"

// CartItem представляет одну позицию корзины.
type CartItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string `json:"id"`
	// ProductID — идентификатор товара из каталога.
	ProductID string `json:"product_id"`
	// Qty — количество единиц товара.
	Qty int32 `json:"qty"`
	// UnitPriceMinor — цена за единицу на момент добавления в корзину.
	UnitPriceMinor int64 `json:"unit_price_minor"`
	// CreatedAt фиксирует момент добавления позиции в корзину.
	CreatedAt time.Time `json:"created_at"`
}

// Cart агрегирует активную корзину пользователя.
// У пользователя существует не более одной активной (не оформленной) корзины;
// при коммите заказа корзина помечается оформленной и становится неизменяемой.
type Cart struct {
	ID         string
	UserID     string
	CheckedOut bool
	Items      []CartItem
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SubtotalMinor суммирует позиции корзины: qty * price.
func (c *Cart) SubtotalMinor() int64 {
	var total int64
	for _, item := range c.Items {
		total += int64(item.Qty) * item.UnitPriceMinor
	}
	return total
}

// Validate проверяет базовые инварианты корзины и возвращает список замечаний.
func (c *Cart) Validate() []error {
	var errs []error

	if c.UserID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if len(c.Items) == 0 {
		errs = append(errs, ErrCartEmpty)
	}
	for _, item := range c.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}

	return errs
}
