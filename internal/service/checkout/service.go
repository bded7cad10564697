package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
	"github.com/vladislavdragonenkov/techstore/internal/metrics"
	"github.com/vladislavdragonenkov/techstore/internal/service/coordinator"
)

// DefaultSessionTTL — срок жизни активной checkout-сессии.
const DefaultSessionTTL = 30 * time.Minute

// Committer выполняет атомарный коммит оформления.
type Committer interface {
	Commit(ctx context.Context, in coordinator.CommitInput) (domain.Order, error)
}

// Service управляет checkout-сессией: от снапшота корзины до передачи
// коммита координатору. Сессия эфемерна; до точки коммита ни сток,
// ни ваучер не меняются.
type Service struct {
	store      domain.Store
	sessions   domain.SessionStore
	gateways   map[string]domain.PaymentGateway
	notifier   domain.NotificationSender
	committer  Committer
	logger     *log.Entry
	metrics    *metrics.CheckoutMetrics
	now        func() time.Time
	sessionTTL time.Duration

	// userLocks сериализует мутации сессии одного пользователя внутри процесса.
	userLocks userLocker
}

// Option настраивает Service.
type Option func(*Service)

// WithSessionTTL задаёт срок жизни активной сессии.
func WithSessionTTL(ttl time.Duration) Option {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return func(s *Service) { s.sessionTTL = ttl }
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithoutMetrics отключает метрики (для тестов).
func WithoutMetrics() Option {
	return func(s *Service) { s.metrics = nil }
}

// NewService создаёт сервис оформления заказа.
func NewService(
	store domain.Store,
	sessions domain.SessionStore,
	gateways map[string]domain.PaymentGateway,
	notifier domain.NotificationSender,
	committer Committer,
	logger *log.Entry,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	s := &Service{
		store:      store,
		sessions:   sessions,
		gateways:   gateways,
		notifier:   notifier,
		committer:  committer,
		logger:     logger,
		metrics:    metrics.NewCheckoutMetrics(),
		now:        func() time.Time { return time.Now().UTC() },
		sessionTTL: DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) lockUser(userID string) func() {
	return s.userLocks.lock(userID)
}

// Begin начинает оформление: снимает снапшот активной корзины и создаёт
// сессию в состоянии Building. Существующая незавершённая сессия
// перезаписывается свежим снапшотом.
func (s *Service) Begin(ctx context.Context, userID string) (domain.CheckoutSession, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	cart, err := s.store.ActiveCart(ctx, userID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if len(cart.Items) == 0 {
		return domain.CheckoutSession{}, domain.ErrCartEmpty
	}
	if errs := cart.Validate(); len(errs) > 0 {
		return domain.CheckoutSession{}, errors.Join(errs...)
	}

	session := domain.NewCheckoutSession(userID, cart, s.now())
	if err := s.sessions.PutSession(ctx, *session, s.sessionTTL); err != nil {
		return domain.CheckoutSession{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordSessionStarted()
	}
	s.logger.WithFields(log.Fields{
		"user_id":        userID,
		"cart_id":        cart.ID,
		"subtotal_minor": session.SubtotalMinor,
	}).Info("checkout session started")
	return *session, nil
}

// Session возвращает текущую сессию пользователя.
func (s *Service) Session(ctx context.Context, userID string) (domain.CheckoutSession, error) {
	return s.sessions.Session(ctx, userID)
}

// SelectDetails фиксирует адрес, способ оплаты и опциональный ваучер.
// Скидка здесь предварительная: при коммите ваучер перечитывается заново.
func (s *Service) SelectDetails(ctx context.Context, userID, addressID, paymentMethodID, voucherCode string) (domain.CheckoutSession, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	session, err := s.sessions.Session(ctx, userID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	owned, err := s.store.AddressOwnedBy(ctx, addressID, userID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if !owned {
		return domain.CheckoutSession{}, domain.ErrAddressInvalid
	}
	if _, err := s.store.PaymentMethod(ctx, paymentMethodID); err != nil {
		return domain.CheckoutSession{}, err
	}

	var discount int64
	if voucherCode != "" {
		discount, err = s.previewDiscount(ctx, voucherCode, session.SubtotalMinor)
		if err != nil {
			return domain.CheckoutSession{}, err
		}
	}

	if err := session.ChooseDetails(addressID, paymentMethodID, voucherCode, discount, s.now()); err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := s.sessions.PutSession(ctx, session, s.sessionTTL); err != nil {
		return domain.CheckoutSession{}, err
	}
	return session, nil
}

// PreviewVoucher считает скидку по коду без каких-либо мутаций.
func (s *Service) PreviewVoucher(ctx context.Context, userID, voucherCode string) (int64, error) {
	session, err := s.sessions.Session(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.previewDiscount(ctx, voucherCode, session.SubtotalMinor)
}

func (s *Service) previewDiscount(ctx context.Context, code string, subtotalMinor int64) (int64, error) {
	voucher, err := s.store.VoucherByCode(ctx, code)
	if err != nil {
		return 0, err
	}
	if err := voucher.Applicable(s.now(), subtotalMinor); err != nil {
		return 0, err
	}
	return voucher.Discount(subtotalMinor), nil
}

// StartOtp выдаёт OTP-код и переводит сессию в ожидание подтверждения.
// Код доставляется через NotificationSender; ошибка доставки возвращается
// вызывающему, потому что без кода пользователь продолжить не может.
func (s *Service) StartOtp(ctx context.Context, userID string) (domain.CheckoutSession, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	session, err := s.sessions.Session(ctx, userID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := s.requirePaymentKind(ctx, session.PaymentMethodID, domain.PaymentKindOTP); err != nil {
		return domain.CheckoutSession{}, err
	}

	code, err := generateOtp()
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := session.BeginOtp(code, s.now()); err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := s.deliverOtp(ctx, userID, code); err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := s.sessions.PutSession(ctx, session, s.sessionTTL); err != nil {
		return domain.CheckoutSession{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordOtpIssued()
	}
	s.logger.WithField("user_id", userID).Info("otp issued")
	return session, nil
}

// ResendOtp выдаёт новый код, сбрасывая срок действия и счётчик попыток.
func (s *Service) ResendOtp(ctx context.Context, userID string) (domain.CheckoutSession, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	session, err := s.sessions.Session(ctx, userID)
	if err != nil {
		return domain.CheckoutSession{}, err
	}

	code, err := generateOtp()
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := session.ResetOtp(code, s.now()); err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := s.deliverOtp(ctx, userID, code); err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := s.sessions.PutSession(ctx, session, s.sessionTTL); err != nil {
		return domain.CheckoutSession{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordOtpIssued()
	}
	s.logger.WithField("user_id", userID).Info("otp reissued")
	return session, nil
}

func (s *Service) deliverOtp(ctx context.Context, userID, code string) error {
	user, err := s.store.User(ctx, userID)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Your confirmation code is %s. It expires in %d minutes.",
		code, int(domain.OtpTTL.Minutes()))
	if err := s.notifier.Send(ctx, user.Email, "Order confirmation code", body); err != nil {
		return fmt.Errorf("failed to deliver otp: %w", err)
	}
	return nil
}

// VerifyOtp проверяет код и при совпадении выполняет коммит оформления.
// Мутации сессии одного пользователя сериализуются, поэтому повторный
// submit из второй вкладки увидит уже оформленную корзину.
func (s *Service) VerifyOtp(ctx context.Context, userID, code string) (domain.Order, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	session, err := s.sessions.Session(ctx, userID)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	if err := session.SubmitOtp(code, now); err != nil {
		// Счётчик попыток и возможный переход в Failed должны пережить запрос.
		ttl := s.sessionTTL
		if session.State.Terminal() {
			ttl = domain.TerminalSessionRetention
			if s.metrics != nil {
				s.metrics.RecordSessionFinished()
			}
		}
		if putErr := s.sessions.PutSession(ctx, session, ttl); putErr != nil {
			s.logger.WithError(putErr).WithField("user_id", userID).Error("failed to persist otp attempt")
		}
		if s.metrics != nil {
			s.metrics.RecordOtpRejected(otpRejectReason(err))
		}
		return domain.Order{}, err
	}

	order, err := s.committer.Commit(ctx, coordinator.CommitInput{
		UserID:          session.UserID,
		CartID:          session.CartID,
		AddressID:       session.AddressID,
		PaymentMethodID: session.PaymentMethodID,
		VoucherCode:     session.VoucherCode,
	})
	if err != nil {
		if domain.IsExpected(err) {
			s.finishSession(ctx, session, false)
		}
		return domain.Order{}, err
	}

	s.finishSession(ctx, session, true)
	return order, nil
}

// StartGatewayPayment строит URL редиректа на платёжного провайдера.
// Для wallet-провайдера заказ создаётся заранее в pending_payment без
// каких-либо складских эффектов; они применяются при callback.
func (s *Service) StartGatewayPayment(ctx context.Context, userID string) (string, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	session, err := s.sessions.Session(ctx, userID)
	if err != nil {
		return "", err
	}
	method, err := s.store.PaymentMethod(ctx, session.PaymentMethodID)
	if err != nil {
		return "", err
	}
	if method.Kind != domain.PaymentKindRedirect && method.Kind != domain.PaymentKindWallet {
		return "", domain.ErrPaymentMethodInvalid
	}
	gateway, ok := s.gateways[method.Provider]
	if !ok {
		return "", domain.ErrPaymentMethodInvalid
	}

	correlationID := uuid.NewString()

	var orderID string
	if method.Kind == domain.PaymentKindWallet {
		order, err := s.createPendingOrder(ctx, session, correlationID)
		if err != nil {
			return "", err
		}
		orderID = order.ID
	}

	description := fmt.Sprintf("techstore order for user %s", userID)
	redirectURL, err := gateway.CreatePaymentURL(ctx, correlationID, session.FinalTotalMinor, description)
	if err != nil {
		// Для wallet-провайдера заказ уже существует и должен быть закрыт.
		if orderID != "" {
			s.failPendingOrder(ctx, orderID, "payment url creation failed")
		}
		return "", fmt.Errorf("failed to create payment url: %w", err)
	}

	if err := session.BeginGateway(method.Provider, correlationID, orderID, s.now()); err != nil {
		return "", err
	}
	if err := s.sessions.BindCorrelationID(ctx, correlationID, userID, s.sessionTTL); err != nil {
		return "", err
	}
	if err := s.sessions.PutSession(ctx, session, s.sessionTTL); err != nil {
		return "", err
	}

	s.logger.WithFields(log.Fields{
		"user_id":        userID,
		"provider":       method.Provider,
		"correlation_id": correlationID,
	}).Info("gateway payment started")
	return redirectURL, nil
}

// createPendingOrder создаёт заказ pending_payment до редиректа на кошелёк.
// Снимки остатков в позициях фиксируют состояние на момент создания;
// сами остатки не меняются до подтверждения оплаты.
func (s *Service) createPendingOrder(ctx context.Context, session domain.CheckoutSession, correlationID string) (domain.Order, error) {
	now := s.now()
	var order domain.Order
	err := s.store.InTx(ctx, func(tx domain.Repositories) error {
		lines := make([]domain.OrderLine, 0, len(session.Lines))
		for _, item := range session.Lines {
			product, err := tx.Product(ctx, item.ProductID)
			if err != nil {
				return err
			}
			if !product.HasStock(item.Qty) {
				return domain.ErrInsufficientStock
			}
			lines = append(lines, domain.OrderLine{
				ID:             uuid.NewString(),
				ProductID:      item.ProductID,
				Qty:            item.Qty,
				UnitPriceMinor: item.UnitPriceMinor,
				StockBefore:    product.AvailableQuantity,
				StockAfter:     product.AvailableQuantity - item.Qty,
				CreatedAt:      now,
			})
		}

		order = domain.Order{
			ID:              uuid.NewString(),
			UserID:          session.UserID,
			AddressID:       session.AddressID,
			PaymentMethodID: session.PaymentMethodID,
			VoucherCode:     session.VoucherCode,
			CorrelationID:   correlationID,
			Status:          domain.OrderStatusPendingPayment,
			PaymentStatus:   domain.PaymentStatusUnpaid,
			SubtotalMinor:   session.SubtotalMinor,
			DiscountMinor:   session.DiscountMinor,
			FinalTotalMinor: session.FinalTotalMinor,
			Lines:           lines,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		return tx.AppendTimeline(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     "OrderCreatedPendingPayment",
			Occurred: now,
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// failPendingOrder закрывает pending-заказ, для которого редирект не состоялся.
func (s *Service) failPendingOrder(ctx context.Context, orderID, reason string) {
	now := s.now()
	err := s.store.InTx(ctx, func(tx domain.Repositories) error {
		order, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		order.Status = domain.OrderStatusPaymentFailed
		order.PaymentStatus = domain.PaymentStatusFailed
		order.UpdatedAt = now
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		return tx.AppendTimeline(ctx, domain.TimelineEvent{
			OrderID:  orderID,
			Type:     "PaymentFailed",
			Reason:   reason,
			Occurred: now,
		})
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("failed to close pending order")
	}
}

// Abandon явно завершает оформление без каких-либо эффектов.
func (s *Service) Abandon(ctx context.Context, userID string) error {
	unlock := s.lockUser(userID)
	defer unlock()

	session, err := s.sessions.Session(ctx, userID)
	if err != nil {
		return err
	}
	if err := session.MarkAbandoned(s.now()); err != nil {
		return err
	}
	if err := s.sessions.PutSession(ctx, session, domain.TerminalSessionRetention); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordSessionFinished()
	}
	s.logger.WithField("user_id", userID).Info("checkout abandoned")
	return nil
}

func (s *Service) finishSession(ctx context.Context, session domain.CheckoutSession, committed bool) {
	now := s.now()
	var err error
	if committed {
		err = session.MarkCommitted(now)
	} else {
		err = session.MarkFailed(now)
	}
	if err != nil {
		return
	}
	if err := s.sessions.PutSession(ctx, session, domain.TerminalSessionRetention); err != nil {
		s.logger.WithError(err).WithField("user_id", session.UserID).Warn("failed to store terminal session")
	}
	if s.metrics != nil {
		s.metrics.RecordSessionFinished()
	}
}

func (s *Service) requirePaymentKind(ctx context.Context, methodID string, kind domain.PaymentKind) error {
	method, err := s.store.PaymentMethod(ctx, methodID)
	if err != nil {
		return err
	}
	if method.Kind != kind {
		return domain.ErrPaymentMethodInvalid
	}
	return nil
}

func otpRejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrOtpExpired):
		return "expired"
	case errors.Is(err, domain.ErrOtpAttemptsExceeded):
		return "attempts_exceeded"
	case errors.Is(err, domain.ErrOtpMismatch):
		return "mismatch"
	default:
		return "state"
	}
}
