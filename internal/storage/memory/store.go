package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// state — снимок всех таблиц хранилища. Клонируется целиком перед транзакцией,
// чтобы ошибка внутри InTx откатывала все мутации разом.
type state struct {
	products       map[string]domain.Product
	vouchers       map[string]domain.Voucher // ключ — код ваучера
	carts          map[string]domain.Cart
	orders         map[string]domain.Order
	addresses      map[string]domain.Address
	paymentMethods map[string]domain.PaymentMethod
	users          map[string]domain.User
	outbox         map[string]*outboxRecord
	timeline       map[string][]domain.TimelineEvent
}

func newState() *state {
	return &state{
		products:       make(map[string]domain.Product),
		vouchers:       make(map[string]domain.Voucher),
		carts:          make(map[string]domain.Cart),
		orders:         make(map[string]domain.Order),
		addresses:      make(map[string]domain.Address),
		paymentMethods: make(map[string]domain.PaymentMethod),
		users:          make(map[string]domain.User),
		outbox:         make(map[string]*outboxRecord),
		timeline:       make(map[string][]domain.TimelineEvent),
	}
}

func (st *state) clone() *state {
	dst := newState()
	for k, v := range st.products {
		dst.products[k] = v
	}
	for k, v := range st.vouchers {
		dst.vouchers[k] = v
	}
	for k, v := range st.carts {
		dst.carts[k] = cloneCart(v)
	}
	for k, v := range st.orders {
		dst.orders[k] = cloneOrder(v)
	}
	for k, v := range st.addresses {
		dst.addresses[k] = v
	}
	for k, v := range st.paymentMethods {
		dst.paymentMethods[k] = v
	}
	for k, v := range st.users {
		dst.users[k] = v
	}
	for k, v := range st.outbox {
		rec := *v
		dst.outbox[k] = &rec
	}
	for k, v := range st.timeline {
		events := make([]domain.TimelineEvent, len(v))
		copy(events, v)
		dst.timeline[k] = events
	}
	return dst
}

func cloneCart(src domain.Cart) domain.Cart {
	dst := src
	dst.Items = make([]domain.CartItem, len(src.Items))
	copy(dst.Items, src.Items)
	return dst
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Lines = make([]domain.OrderLine, len(src.Lines))
	copy(dst.Lines, src.Lines)
	return dst
}

// Store — in-memory реализация domain.Store для локальной разработки и тестов.
// Единый мьютекс сериализует транзакции целиком: два конкурентных коммита
// по одному товару не могут одновременно пройти проверку остатка.
type Store struct {
	mu   sync.Mutex
	data *state
}

// NewStore возвращает пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{data: newState()}
}

// InTx выполняет fn под глобальным мьютексом; при ошибке восстанавливает
// снимок состояния, сделанный до начала транзакции.
func (s *Store) InTx(_ context.Context, fn func(tx domain.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.data.clone()
	if err := fn(&txView{st: s.data}); err != nil {
		s.data = backup
		return err
	}
	return nil
}

// txView выполняет операции без повторного захвата мьютекса:
// он уже удерживается на время всей транзакции.
type txView struct {
	st *state
}

var (
	_ domain.Store        = (*Store)(nil)
	_ domain.Repositories = (*txView)(nil)
)

// --- Seed-хелперы для wiring и тестов ---

// SeedProduct кладёт товар в хранилище, перезаписывая существующий.
func (s *Store) SeedProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[p.ID] = p
}

// SeedVoucher кладёт ваучер в хранилище по коду.
func (s *Store) SeedVoucher(v domain.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.vouchers[v.Code] = v
}

// SeedCart кладёт корзину в хранилище.
func (s *Store) SeedCart(c domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.carts[c.ID] = cloneCart(c)
}

// SeedAddress кладёт адрес в хранилище.
func (s *Store) SeedAddress(a domain.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.addresses[a.ID] = a
}

// SeedPaymentMethod кладёт способ оплаты в хранилище.
func (s *Store) SeedPaymentMethod(pm domain.PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.paymentMethods[pm.ID] = pm
}

// SeedUser кладёт контакт пользователя в хранилище.
func (s *Store) SeedUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[u.ID] = u
}

// AllPendingOutbox возвращает копию всех pending-сообщений (используется в тестах).
func (s *Store) AllPendingOutbox() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.OutboxMessage, 0, len(s.data.outbox))
	for _, rec := range s.data.outbox {
		if rec.status == "pending" {
			result = append(result, rec.msg)
		}
	}
	return result
}

// --- Операции уровня state ---

func (st *state) product(id string) (domain.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (st *state) decrementStock(productID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrLineQtyInvalid
	}
	p, ok := st.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	// Условное списание: проверка и запись под одним мьютексом неделимы.
	if p.AvailableQuantity < qty {
		return domain.ErrInsufficientStock
	}
	p.AvailableQuantity -= qty
	p.UpdatedAt = time.Now().UTC()
	st.products[productID] = p
	return nil
}

func (st *state) voucherByCode(code string) (domain.Voucher, error) {
	v, ok := st.vouchers[code]
	if !ok {
		return domain.Voucher{}, domain.ErrVoucherInvalid
	}
	return v, nil
}

func (st *state) redeemVoucher(code string) error {
	v, ok := st.vouchers[code]
	if !ok {
		return domain.ErrVoucherInvalid
	}
	if v.RemainingUses <= 0 {
		return domain.ErrVoucherOutOfUses
	}
	v.RemainingUses--
	v.UpdatedAt = time.Now().UTC()
	st.vouchers[code] = v
	return nil
}

func (st *state) activeCart(userID string) (domain.Cart, error) {
	for _, cart := range st.carts {
		if cart.UserID == userID && !cart.CheckedOut {
			return cloneCart(cart), nil
		}
	}
	return domain.Cart{}, domain.ErrCartNotFound
}

func (st *state) markCartCheckedOut(cartID string) error {
	cart, ok := st.carts[cartID]
	if !ok {
		return domain.ErrCartNotFound
	}
	if cart.CheckedOut {
		return domain.ErrCartCheckedOut
	}
	cart.CheckedOut = true
	cart.UpdatedAt = time.Now().UTC()
	st.carts[cartID] = cart
	return nil
}

func (st *state) createOrder(order domain.Order) error {
	if _, exists := st.orders[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	st.orders[order.ID] = cloneOrder(order)
	return nil
}

func (st *state) order(id string) (domain.Order, error) {
	order, ok := st.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (st *state) orderByCorrelationID(correlationID string) (domain.Order, error) {
	if correlationID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	for _, order := range st.orders {
		if order.CorrelationID == correlationID {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (st *state) listOrdersByUser(userID string, limit int) ([]domain.Order, error) {
	result := make([]domain.Order, 0, len(st.orders))
	for _, order := range st.orders {
		if order.UserID != userID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (st *state) saveOrder(order domain.Order) error {
	current, ok := st.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	st.orders[order.ID] = cloneOrder(order)
	return nil
}

func (st *state) addressOwnedBy(addressID, userID string) (bool, error) {
	addr, ok := st.addresses[addressID]
	if !ok {
		return false, nil
	}
	return addr.UserID == userID, nil
}

func (st *state) paymentMethod(id string) (domain.PaymentMethod, error) {
	pm, ok := st.paymentMethods[id]
	if !ok {
		return domain.PaymentMethod{}, domain.ErrPaymentMethodInvalid
	}
	return pm, nil
}

func (st *state) user(id string) (domain.User, error) {
	u, ok := st.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (st *state) enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	st.outbox[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    "pending",
		createdAt: now,
		updatedAt: now,
	}
	return msg, nil
}

func (st *state) pullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	ids := make([]string, 0, len(st.outbox))
	for id, rec := range st.outbox {
		if rec.status == "pending" {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return st.outbox[ids[i]].createdAt.Before(st.outbox[ids[j]].createdAt)
	})

	result := make([]domain.OutboxMessage, 0, limit)
	for _, id := range ids {
		result = append(result, st.outbox[id].msg)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (st *state) outboxStats() (domain.OutboxStats, error) {
	stats := domain.OutboxStats{}
	for _, rec := range st.outbox {
		if rec.status != "pending" {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

func (st *state) markOutbox(id, status string) error {
	rec, ok := st.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.status = status
	rec.attemptCnt++
	rec.updatedAt = time.Now().UTC()
	return nil
}

func (st *state) appendTimeline(event domain.TimelineEvent) error {
	st.timeline[event.OrderID] = append(st.timeline[event.OrderID], event)
	sort.Slice(st.timeline[event.OrderID], func(i, j int) bool {
		return st.timeline[event.OrderID][i].Occurred.Before(st.timeline[event.OrderID][j].Occurred)
	})
	return nil
}

func (st *state) listTimeline(orderID string) ([]domain.TimelineEvent, error) {
	events := st.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}
