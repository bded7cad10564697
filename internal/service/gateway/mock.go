package gateway

import (
	"context"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для тестов.
type MockGateway struct {
	CreateURL    string
	CreateErr    error
	VerifyResult domain.CallbackResult
	VerifyErr    error

	CreateCalls int
	VerifyCalls int

	// LastCorrelationID хранит корреляцию последнего CreatePaymentURL.
	LastCorrelationID string
	LastAmountMinor   int64
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		CreateURL:    "https://pay.example.test/redirect",
		VerifyResult: domain.CallbackResult{Verified: true},
	}
}

// CreatePaymentURL возвращает настроенный URL и считает вызовы.
func (m *MockGateway) CreatePaymentURL(ctx context.Context, correlationID string, amountMinor int64, description string) (string, error) {
	m.CreateCalls++
	m.LastCorrelationID = correlationID
	m.LastAmountMinor = amountMinor
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	return m.CreateURL, nil
}

// VerifyCallback возвращает настроенный результат и считает вызовы.
// Если в результате не задана корреляция, берётся correlation_id из params.
func (m *MockGateway) VerifyCallback(ctx context.Context, params map[string]string) (domain.CallbackResult, error) {
	m.VerifyCalls++
	if m.VerifyErr != nil {
		return domain.CallbackResult{}, m.VerifyErr
	}
	result := m.VerifyResult
	if result.CorrelationID == "" {
		result.CorrelationID = params["correlation_id"]
	}
	return result, nil
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
