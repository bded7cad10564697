package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
	"github.com/vladislavdragonenkov/techstore/internal/health"
	"github.com/vladislavdragonenkov/techstore/internal/service/checkout"
	"github.com/vladislavdragonenkov/techstore/internal/service/coordinator"
	"github.com/vladislavdragonenkov/techstore/internal/service/gateway"
	"github.com/vladislavdragonenkov/techstore/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/techstore/internal/service/notify"
	"github.com/vladislavdragonenkov/techstore/internal/storage/memory"
)

type testEnv struct {
	server   *httptest.Server
	store    *memory.Store
	notifier *notify.MockSender
	gateway  *gateway.MockGateway
	auth     *TokenManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	sessions := memory.NewSessionStore()
	mockGateway := gateway.NewMockGateway()
	notifier := notify.NewMockSender()

	store.SeedUser(domain.User{ID: "user-1", Email: "user@example.test", Name: "User"})
	store.SeedAddress(domain.Address{ID: "address-1", UserID: "user-1"})
	store.SeedPaymentMethod(domain.PaymentMethod{ID: "pm-cod", Kind: domain.PaymentKindOTP})
	store.SeedPaymentMethod(domain.PaymentMethod{ID: "pm-card", Kind: domain.PaymentKindRedirect, Provider: "mock"})
	store.SeedProduct(domain.Product{ID: "product-1", Name: "SSD", PriceMinor: 100, AvailableQuantity: 10})
	store.SeedCart(domain.Cart{ID: "cart-1", UserID: "user-1", Items: []domain.CartItem{
		{ID: "item-1", ProductID: "product-1", Qty: 2, UnitPriceMinor: 100},
	}})

	gateways := map[string]domain.PaymentGateway{"mock": mockGateway}
	coord := coordinator.NewWithoutMetrics(store, sessions, gateways, notifier, nil)
	checkoutSvc := checkout.NewService(store, sessions, gateways, notifier, coord, nil, checkout.WithoutMetrics())
	lifecycleSvc := lifecycle.NewService(store, nil)
	auth := NewTokenManager("test-secret", time.Hour)

	quiet := log.New()
	quiet.SetLevel(log.PanicLevel)
	logger := log.NewEntry(quiet)

	api := NewAPI(checkoutSvc, coord, lifecycleSvc, auth, logger)
	router := NewRouter(api, health.NewHandler("test"), logger)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{
		server:   server,
		store:    store,
		notifier: notifier,
		gateway:  mockGateway,
		auth:     auth,
	}
}

func (e *testEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := e.auth.Issue(userID, role)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func otpCode(t *testing.T, notifier *notify.MockSender) string {
	t.Helper()
	for _, word := range strings.Fields(notifier.LastBody()) {
		trimmed := strings.TrimSuffix(word, ".")
		if len(trimmed) == 6 && strings.Trim(trimmed, "0123456789") == "" {
			return trimmed
		}
	}
	t.Fatalf("no otp code in %q", notifier.LastBody())
	return ""
}

func TestCheckoutFlow_OtpCommit(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1", RoleCustomer)

	resp := env.do(t, http.MethodPost, "/api/checkout", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	session := decode[sessionResponse](t, resp)
	assert.Equal(t, "building", session.State)
	assert.Equal(t, int64(200), session.SubtotalMinor)

	resp = env.do(t, http.MethodPost, "/api/checkout/details", token, selectDetailsRequest{
		AddressID:       "address-1",
		PaymentMethodID: "pm-cod",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/checkout/otp", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session = decode[sessionResponse](t, resp)
	require.NotNil(t, session.Otp)
	assert.Empty(t, session.VoucherCode)

	resp = env.do(t, http.MethodPost, "/api/checkout/otp/verify", token, verifyOtpRequest{Code: otpCode(t, env.notifier)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decode[orderResponse](t, resp)
	assert.Equal(t, "awaiting_confirmation", order.Status)
	assert.Equal(t, int64(200), order.FinalTotalMinor)

	// Заказ виден в списке и по id.
	resp = env.do(t, http.MethodGet, "/api/orders", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	orders := decode[[]orderResponse](t, resp)
	require.Len(t, orders, 1)

	resp = env.do(t, http.MethodGet, "/api/orders/"+order.ID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCheckout_Unauthorized(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/checkout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCheckout_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1", RoleCustomer)

	resp := env.do(t, http.MethodPost, "/api/checkout", token, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Пустой address_id.
	resp = env.do(t, http.MethodPost, "/api/checkout/details", token, selectDetailsRequest{PaymentMethodID: "pm-cod"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decode[errorResponse](t, resp)
	assert.Equal(t, "invalid_request", errResp.Error.Code)

	// Несуществующая сессия другого пользователя.
	env.store.SeedUser(domain.User{ID: "user-2", Email: "u2@example.test"})
	other := env.token(t, "user-2", RoleCustomer)
	resp = env.do(t, http.MethodGet, "/api/checkout", other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckout_OtpGoneAfterCeiling(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1", RoleCustomer)

	env.do(t, http.MethodPost, "/api/checkout", token, nil)
	env.do(t, http.MethodPost, "/api/checkout/details", token, selectDetailsRequest{
		AddressID:       "address-1",
		PaymentMethodID: "pm-cod",
	})
	env.do(t, http.MethodPost, "/api/checkout/otp", token, nil)

	code := otpCode(t, env.notifier)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodPost, "/api/checkout/otp/verify", token, verifyOtpRequest{Code: wrong})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	}
	resp := env.do(t, http.MethodPost, "/api/checkout/otp/verify", token, verifyOtpRequest{Code: wrong})
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	errResp := decode[errorResponse](t, resp)
	assert.Equal(t, "otp_unusable", errResp.Error.Code)
}

func TestPaymentCallback_PublicRoute(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1", RoleCustomer)

	env.do(t, http.MethodPost, "/api/checkout", token, nil)
	env.do(t, http.MethodPost, "/api/checkout/details", token, selectDetailsRequest{
		AddressID:       "address-1",
		PaymentMethodID: "pm-card",
	})
	resp := env.do(t, http.MethodPost, "/api/checkout/payment", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payment := decode[startPaymentResponse](t, resp)
	require.NotEmpty(t, payment.PaymentURL)

	correlationID := env.gateway.LastCorrelationID
	require.NotEmpty(t, correlationID)
	env.gateway.VerifyResult = domain.CallbackResult{Verified: true, CorrelationID: correlationID}

	// Callback приходит без Authorization.
	callbackURL := "/api/payment/callback/mock?correlation_id=" + url.QueryEscape(correlationID)
	resp = env.do(t, http.MethodGet, callbackURL, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	outcome := decode[callbackResponse](t, resp)
	assert.True(t, outcome.Committed)
	require.NotNil(t, outcome.Order)
	assert.Equal(t, "paid", outcome.Order.PaymentStatus)

	// Повтор того же callback — duplicate.
	resp = env.do(t, http.MethodGet, callbackURL, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	outcome = decode[callbackResponse](t, resp)
	assert.True(t, outcome.Duplicate)
}

func TestPaymentCallback_UnknownProvider(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/payment/callback/nonexistent", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestStaffRoutes_RoleEnforcement(t *testing.T) {
	env := newTestEnv(t)
	customer := env.token(t, "user-1", RoleCustomer)

	resp := env.do(t, http.MethodPost, "/api/staff/orders/any/confirm", customer, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStaffRoutes_TransitionChain(t *testing.T) {
	env := newTestEnv(t)
	customer := env.token(t, "user-1", RoleCustomer)
	staff := env.token(t, "staff-1", RoleStaff)

	env.do(t, http.MethodPost, "/api/checkout", customer, nil)
	env.do(t, http.MethodPost, "/api/checkout/details", customer, selectDetailsRequest{
		AddressID:       "address-1",
		PaymentMethodID: "pm-cod",
	})
	env.do(t, http.MethodPost, "/api/checkout/otp", customer, nil)
	resp := env.do(t, http.MethodPost, "/api/checkout/otp/verify", customer, verifyOtpRequest{Code: otpCode(t, env.notifier)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decode[orderResponse](t, resp)

	for _, step := range []struct {
		path   string
		status string
	}{
		{"/confirm", "confirmed"},
		{"/export", "awaiting_export"},
		{"/deliver", "awaiting_delivery"},
		{"/delivered", "delivered"},
	} {
		resp := env.do(t, http.MethodPost, "/api/staff/orders/"+order.ID+step.path, staff, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, step.path)
		updated := decode[orderResponse](t, resp)
		assert.Equal(t, step.status, updated.Status, step.path)
	}

	// Повторный confirm из терминального статуса — конфликт.
	resp = env.do(t, http.MethodPost, "/api/staff/orders/"+order.ID+"/confirm", staff, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1", RoleCustomer)

	env.do(t, http.MethodPost, "/api/checkout", token, nil)
	env.do(t, http.MethodPost, "/api/checkout/details", token, selectDetailsRequest{
		AddressID:       "address-1",
		PaymentMethodID: "pm-cod",
	})
	env.do(t, http.MethodPost, "/api/checkout/otp", token, nil)
	resp := env.do(t, http.MethodPost, "/api/checkout/otp/verify", token, verifyOtpRequest{Code: otpCode(t, env.notifier)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decode[orderResponse](t, resp)

	resp = env.do(t, http.MethodPost, "/api/orders/"+order.ID+"/cancel", token, cancelOrderRequest{Reason: "changed my mind"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[orderResponse](t, resp)
	assert.Equal(t, "cancelled", cancelled.Status)

	// Чужой заказ выглядит отсутствующим.
	env.store.SeedUser(domain.User{ID: "user-2", Email: "u2@example.test"})
	other := env.token(t, "user-2", RoleCustomer)
	resp = env.do(t, http.MethodPost, "/api/orders/"+order.ID+"/cancel", other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrderTimeline(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1", RoleCustomer)

	env.do(t, http.MethodPost, "/api/checkout", token, nil)
	env.do(t, http.MethodPost, "/api/checkout/details", token, selectDetailsRequest{
		AddressID:       "address-1",
		PaymentMethodID: "pm-cod",
	})
	env.do(t, http.MethodPost, "/api/checkout/otp", token, nil)
	resp := env.do(t, http.MethodPost, "/api/checkout/otp/verify", token, verifyOtpRequest{Code: otpCode(t, env.notifier)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := decode[orderResponse](t, resp)

	resp = env.do(t, http.MethodGet, "/api/orders/"+order.ID+"/timeline", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]timelineEventDTO](t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, "OrderCommitted", events[0].Type)
}

func TestHealthEndpoints_Public(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/health"} {
		resp := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
