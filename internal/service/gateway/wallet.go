package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// Параметры wallet-протокола. Подпись HMAC-SHA256 по фиксированному
// набору полей в документированном порядке.
const (
	walletParamPartnerCode = "partnerCode"
	walletParamRequestID   = "requestId"
	walletParamOrderID     = "orderId"
	walletParamAmount      = "amount"
	walletParamResultCode  = "resultCode"
	walletParamMessage     = "message"
	walletParamSignature   = "signature"

	walletResultSuccess = "0"
)

// WalletGateway реализует кошелёк-провайдера: заказ обязан существовать
// до редиректа, итог оплаты приходит callback-ом с resultCode.
type WalletGateway struct {
	payURL      string
	partnerCode string
	secret      []byte
}

// NewWallet создаёт wallet-провайдера.
func NewWallet(payURL, partnerCode, secret string) *WalletGateway {
	return &WalletGateway{
		payURL:      payURL,
		partnerCode: partnerCode,
		secret:      []byte(secret),
	}
}

// CreatePaymentURL строит подписанный URL оплаты в кошельке.
func (g *WalletGateway) CreatePaymentURL(ctx context.Context, correlationID string, amountMinor int64, description string) (string, error) {
	if amountMinor <= 0 {
		return "", fmt.Errorf("payment amount must be positive, got %d", amountMinor)
	}

	requestID := uuid.NewString()
	signature := g.sign(g.partnerCode, requestID, correlationID, fmt.Sprintf("%d", amountMinor))

	return fmt.Sprintf("%s?%s=%s&%s=%s&%s=%s&%s=%d&%s=%s",
		g.payURL,
		walletParamPartnerCode, g.partnerCode,
		walletParamRequestID, requestID,
		walletParamOrderID, correlationID,
		walletParamAmount, amountMinor,
		walletParamSignature, signature,
	), nil
}

// VerifyCallback проверяет подпись и resultCode callback.
func (g *WalletGateway) VerifyCallback(ctx context.Context, params map[string]string) (domain.CallbackResult, error) {
	received := params[walletParamSignature]
	if received == "" {
		return domain.CallbackResult{}, fmt.Errorf("callback missing %s", walletParamSignature)
	}

	expected := g.sign(
		params[walletParamPartnerCode],
		params[walletParamRequestID],
		params[walletParamOrderID],
		params[walletParamAmount],
		params[walletParamResultCode],
	)
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return domain.CallbackResult{}, fmt.Errorf("callback signature mismatch")
	}

	result := domain.CallbackResult{
		CorrelationID: params[walletParamOrderID],
	}
	if params[walletParamResultCode] == walletResultSuccess {
		result.Verified = true
	} else {
		result.Reason = params[walletParamMessage]
		if result.Reason == "" {
			result.Reason = "wallet result code " + params[walletParamResultCode]
		}
	}
	return result, nil
}

// sign считает HMAC-SHA256 по полям, склеенным через '|' в порядке передачи.
func (g *WalletGateway) sign(fields ...string) string {
	mac := hmac.New(sha256.New, g.secret)
	for i, field := range fields {
		if i > 0 {
			mac.Write([]byte{'|'})
		}
		mac.Write([]byte(field))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

var _ domain.PaymentGateway = (*WalletGateway)(nil)
