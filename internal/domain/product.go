package domain

import "time"

// Product описывает складскую позицию каталога.
// AvailableQuantity меняется только условным декрементом при коммите заказа;
// приход на склад — внешняя операция вне ядра.
type Product struct {
	ID                string
	Name              string
	PriceMinor        int64
	AvailableQuantity int32
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasStock проверяет, хватает ли остатка под запрошенное количество.
func (p *Product) HasStock(qty int32) bool {
	return qty > 0 && p.AvailableQuantity >= qty
}
