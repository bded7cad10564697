package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

// Параметры redirect-протокола. Подпись считается по отсортированной
// query-строке всех pay_-параметров без самой подписи.
const (
	paramAmount       = "pay_Amount"
	paramTxnRef       = "pay_TxnRef"
	paramOrderInfo    = "pay_OrderInfo"
	paramCreateDate   = "pay_CreateDate"
	paramReturnURL    = "pay_ReturnUrl"
	paramResponseCode = "pay_ResponseCode"
	paramSecureHash   = "pay_SecureHash"

	responseCodeSuccess = "00"
)

// SignedRedirectGateway реализует redirect-провайдера с HMAC-SHA512
// подписью запроса и callback. Заказ до callback не существует;
// провайдер возвращает покупателя на returnURL со всеми параметрами.
type SignedRedirectGateway struct {
	payURL    string
	returnURL string
	secret    []byte
	now       func() time.Time
}

// NewSignedRedirect создаёт redirect-провайдера.
func NewSignedRedirect(payURL, returnURL, secret string) *SignedRedirectGateway {
	return &SignedRedirectGateway{
		payURL:    payURL,
		returnURL: returnURL,
		secret:    []byte(secret),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени (для тестов).
func (g *SignedRedirectGateway) WithClock(now func() time.Time) *SignedRedirectGateway {
	g.now = now
	return g
}

// CreatePaymentURL строит подписанный URL редиректа на провайдера.
func (g *SignedRedirectGateway) CreatePaymentURL(ctx context.Context, correlationID string, amountMinor int64, description string) (string, error) {
	if amountMinor <= 0 {
		return "", fmt.Errorf("payment amount must be positive, got %d", amountMinor)
	}

	params := map[string]string{
		paramAmount:     strconv.FormatInt(amountMinor, 10),
		paramTxnRef:     correlationID,
		paramOrderInfo:  description,
		paramCreateDate: g.now().Format("20060102150405"),
		paramReturnURL:  g.returnURL,
	}

	query := canonicalQuery(params)
	signature := g.sign(query)

	return g.payURL + "?" + query + "&" + paramSecureHash + "=" + signature, nil
}

// VerifyCallback проверяет подпись callback и код ответа провайдера.
// Неверная подпись отличается от отказа провайдера: первая — повод
// не доверять параметрам вовсе, второй — честный неуспех оплаты.
func (g *SignedRedirectGateway) VerifyCallback(ctx context.Context, params map[string]string) (domain.CallbackResult, error) {
	received := params[paramSecureHash]
	if received == "" {
		return domain.CallbackResult{}, fmt.Errorf("callback missing %s", paramSecureHash)
	}

	payload := make(map[string]string, len(params))
	for key, value := range params {
		if key == paramSecureHash || !strings.HasPrefix(key, "pay_") {
			continue
		}
		payload[key] = value
	}

	expected := g.sign(canonicalQuery(payload))
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return domain.CallbackResult{}, fmt.Errorf("callback signature mismatch")
	}

	result := domain.CallbackResult{
		CorrelationID: params[paramTxnRef],
	}
	if code := params[paramResponseCode]; code == responseCodeSuccess {
		result.Verified = true
	} else {
		result.Reason = "provider response code " + params[paramResponseCode]
	}
	return result, nil
}

func (g *SignedRedirectGateway) sign(query string) string {
	mac := hmac.New(sha512.New, g.secret)
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQuery строит детерминированную query-строку: ключи
// сортируются, значения url-кодируются.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[key]))
	}
	return b.String()
}

var _ domain.PaymentGateway = (*SignedRedirectGateway)(nil)
