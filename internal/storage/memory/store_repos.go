package memory

import (
	"context"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// Методы Store выполняют одиночные операции под мьютексом;
// одноимённые методы txView работают внутри уже начатой транзакции.

func (s *Store) Product(_ context.Context, id string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.product(id)
}

func (s *Store) DecrementStock(_ context.Context, productID string, qty int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.decrementStock(productID, qty)
}

func (s *Store) VoucherByCode(_ context.Context, code string) (domain.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.voucherByCode(code)
}

func (s *Store) RedeemVoucher(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.redeemVoucher(code)
}

func (s *Store) ActiveCart(_ context.Context, userID string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.activeCart(userID)
}

func (s *Store) MarkCartCheckedOut(_ context.Context, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.markCartCheckedOut(cartID)
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createOrder(order)
}

func (s *Store) Order(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.order(id)
}

func (s *Store) OrderByCorrelationID(_ context.Context, correlationID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.orderByCorrelationID(correlationID)
}

func (s *Store) ListOrdersByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listOrdersByUser(userID, limit)
}

func (s *Store) SaveOrder(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.saveOrder(order)
}

func (s *Store) AddressOwnedBy(_ context.Context, addressID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.addressOwnedBy(addressID, userID)
}

func (s *Store) PaymentMethod(_ context.Context, id string) (domain.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.paymentMethod(id)
}

func (s *Store) User(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.user(id)
}

func (s *Store) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.enqueue(msg)
}

func (s *Store) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.pullPending(limit)
}

func (s *Store) Stats(_ context.Context) (domain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.outboxStats()
}

func (s *Store) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.markOutbox(id, "sent")
}

func (s *Store) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.markOutbox(id, "failed")
}

func (s *Store) AppendTimeline(_ context.Context, event domain.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.appendTimeline(event)
}

func (s *Store) Timeline(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listTimeline(orderID)
}

// --- txView: те же операции без захвата мьютекса ---

func (t *txView) Product(_ context.Context, id string) (domain.Product, error) {
	return t.st.product(id)
}

func (t *txView) DecrementStock(_ context.Context, productID string, qty int32) error {
	return t.st.decrementStock(productID, qty)
}

func (t *txView) VoucherByCode(_ context.Context, code string) (domain.Voucher, error) {
	return t.st.voucherByCode(code)
}

func (t *txView) RedeemVoucher(_ context.Context, code string) error {
	return t.st.redeemVoucher(code)
}

func (t *txView) ActiveCart(_ context.Context, userID string) (domain.Cart, error) {
	return t.st.activeCart(userID)
}

func (t *txView) MarkCartCheckedOut(_ context.Context, cartID string) error {
	return t.st.markCartCheckedOut(cartID)
}

func (t *txView) CreateOrder(_ context.Context, order domain.Order) error {
	return t.st.createOrder(order)
}

func (t *txView) Order(_ context.Context, id string) (domain.Order, error) {
	return t.st.order(id)
}

func (t *txView) OrderByCorrelationID(_ context.Context, correlationID string) (domain.Order, error) {
	return t.st.orderByCorrelationID(correlationID)
}

func (t *txView) ListOrdersByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	return t.st.listOrdersByUser(userID, limit)
}

func (t *txView) SaveOrder(_ context.Context, order domain.Order) error {
	return t.st.saveOrder(order)
}

func (t *txView) AddressOwnedBy(_ context.Context, addressID, userID string) (bool, error) {
	return t.st.addressOwnedBy(addressID, userID)
}

func (t *txView) PaymentMethod(_ context.Context, id string) (domain.PaymentMethod, error) {
	return t.st.paymentMethod(id)
}

func (t *txView) User(_ context.Context, id string) (domain.User, error) {
	return t.st.user(id)
}

func (t *txView) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return t.st.enqueue(msg)
}

func (t *txView) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	return t.st.pullPending(limit)
}

func (t *txView) Stats(_ context.Context) (domain.OutboxStats, error) {
	return t.st.outboxStats()
}

func (t *txView) MarkSent(_ context.Context, id string) error {
	return t.st.markOutbox(id, "sent")
}

func (t *txView) MarkFailed(_ context.Context, id string) error {
	return t.st.markOutbox(id, "failed")
}

func (t *txView) AppendTimeline(_ context.Context, event domain.TimelineEvent) error {
	return t.st.appendTimeline(event)
}

func (t *txView) Timeline(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	return t.st.listTimeline(orderID)
}
