package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

func makeCart() domain.Cart {
	now := time.Now().UTC()
	return domain.Cart{
		ID:     "cart-1",
		UserID: "user-1",
		Items: []domain.CartItem{
			{ID: "item-1", ProductID: "product-1", Qty: 2, UnitPriceMinor: 100, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func makeSession(now time.Time) *domain.CheckoutSession {
	return domain.NewCheckoutSession("user-1", makeCart(), now)
}

func TestNewCheckoutSession(t *testing.T) {
	now := time.Now().UTC()
	session := makeSession(now)

	if session.State != domain.CheckoutStateBuilding {
		t.Fatalf("expected building state, got %s", session.State)
	}
	if session.SubtotalMinor != 200 || session.FinalTotalMinor != 200 {
		t.Fatalf("expected subtotal 200, got %d/%d", session.SubtotalMinor, session.FinalTotalMinor)
	}
	if len(session.Lines) != 1 {
		t.Fatalf("expected cart snapshot with one line, got %d", len(session.Lines))
	}
}

func TestChooseDetails(t *testing.T) {
	now := time.Now().UTC()
	session := makeSession(now)

	if err := session.ChooseDetails("address-1", "pm-1", "SAVE10", 20, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.State != domain.CheckoutStateAwaitingPaymentInput {
		t.Fatalf("expected awaiting_payment_input, got %s", session.State)
	}
	if session.FinalTotalMinor != 180 {
		t.Fatalf("expected final total 180, got %d", session.FinalTotalMinor)
	}

	// Повторный выбор из awaiting_payment_input разрешён.
	if err := session.ChooseDetails("address-2", "pm-2", "", 0, now); err != nil {
		t.Fatalf("re-select must be allowed: %v", err)
	}
	if session.FinalTotalMinor != 200 {
		t.Fatalf("expected final total reset to 200, got %d", session.FinalTotalMinor)
	}
}

func TestChooseDetails_DiscountBounds(t *testing.T) {
	now := time.Now().UTC()

	session := makeSession(now)
	if err := session.ChooseDetails("a", "pm", "", -1, now); !errors.Is(err, domain.ErrDiscountInvalid) {
		t.Fatalf("expected ErrDiscountInvalid for negative discount, got %v", err)
	}

	session = makeSession(now)
	if err := session.ChooseDetails("a", "pm", "", 201, now); !errors.Is(err, domain.ErrDiscountInvalid) {
		t.Fatalf("expected ErrDiscountInvalid for discount above subtotal, got %v", err)
	}
}

func TestSubmitOtp_Success(t *testing.T) {
	now := time.Now().UTC()
	session := makeSession(now)
	mustChooseDetails(t, session, now)

	if err := session.BeginOtp("123456", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := session.SubmitOtp("123456", now.Add(time.Minute)); err != nil {
		t.Fatalf("expected otp accepted, got %v", err)
	}
}

func TestSubmitOtp_Expired(t *testing.T) {
	now := time.Now().UTC()
	session := makeSession(now)
	mustChooseDetails(t, session, now)

	if err := session.BeginOtp("123456", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := session.SubmitOtp("123456", now.Add(domain.OtpTTL+time.Second))
	if !errors.Is(err, domain.ErrOtpExpired) {
		t.Fatalf("expected ErrOtpExpired, got %v", err)
	}
}

func TestSubmitOtp_AttemptCeiling(t *testing.T) {
	now := time.Now().UTC()
	session := makeSession(now)
	mustChooseDetails(t, session, now)

	if err := session.BeginOtp("123456", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Первые две неверные попытки возвращают mismatch.
	for i := 0; i < domain.OtpMaxAttempts-1; i++ {
		if err := session.SubmitOtp("000000", now); !errors.Is(err, domain.ErrOtpMismatch) {
			t.Fatalf("attempt %d: expected ErrOtpMismatch, got %v", i+1, err)
		}
	}

	// Третья неверная попытка исчерпывает лимит и фейлит сессию.
	if err := session.SubmitOtp("000000", now); !errors.Is(err, domain.ErrOtpAttemptsExceeded) {
		t.Fatalf("expected ErrOtpAttemptsExceeded, got %v", err)
	}
	if session.State != domain.CheckoutStateFailed {
		t.Fatalf("expected failed state, got %s", session.State)
	}

	// Четвёртый ввод отклоняется даже с верным кодом.
	if err := session.SubmitOtp("123456", now); !errors.Is(err, domain.ErrOtpAttemptsExceeded) {
		t.Fatalf("expected ErrOtpAttemptsExceeded after failure, got %v", err)
	}
}

func TestResetOtp(t *testing.T) {
	now := time.Now().UTC()
	session := makeSession(now)
	mustChooseDetails(t, session, now)

	if err := session.BeginOtp("111111", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := session.SubmitOtp("000000", now); !errors.Is(err, domain.ErrOtpMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	if err := session.ResetOtp("222222", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Otp.Attempts != 0 {
		t.Fatalf("expected attempts reset, got %d", session.Otp.Attempts)
	}
	if err := session.SubmitOtp("222222", now); err != nil {
		t.Fatalf("expected new code accepted, got %v", err)
	}
}

func TestBeginGateway(t *testing.T) {
	now := time.Now().UTC()
	session := makeSession(now)
	mustChooseDetails(t, session, now)

	if err := session.BeginGateway("cardpay", "corr-1", "", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.State != domain.CheckoutStateAwaitingGatewayCallback {
		t.Fatalf("expected awaiting_gateway_callback, got %s", session.State)
	}
	if session.Gateway == nil || session.Gateway.CorrelationID != "corr-1" {
		t.Fatal("expected gateway attempt to be recorded")
	}

	// Из состояния ожидания callback повторный старт запрещён.
	if err := session.BeginGateway("cardpay", "corr-2", "", now); !errors.Is(err, domain.ErrCheckoutInvalidState) {
		t.Fatalf("expected ErrCheckoutInvalidState, got %v", err)
	}
}

func TestTerminalTransitions(t *testing.T) {
	now := time.Now().UTC()

	session := makeSession(now)
	if err := session.MarkAbandoned(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !session.State.Terminal() {
		t.Fatal("abandoned must be terminal")
	}

	// Терминальная сессия не переводится повторно.
	if err := session.MarkCommitted(now); !errors.Is(err, domain.ErrCheckoutInvalidState) {
		t.Fatalf("expected ErrCheckoutInvalidState, got %v", err)
	}
	if err := session.MarkFailed(now); !errors.Is(err, domain.ErrCheckoutInvalidState) {
		t.Fatalf("expected ErrCheckoutInvalidState, got %v", err)
	}
}

func mustChooseDetails(t *testing.T, session *domain.CheckoutSession, now time.Time) {
	t.Helper()
	if err := session.ChooseDetails("address-1", "pm-1", "", 0, now); err != nil {
		t.Fatalf("choose details: %v", err)
	}
}
