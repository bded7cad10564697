package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
	"github.com/vladislavdragonenkov/techstore/internal/service/checkout"
	"github.com/vladislavdragonenkov/techstore/internal/service/coordinator"
	"github.com/vladislavdragonenkov/techstore/internal/service/lifecycle"
)

// API агрегирует сервисы слоя приложения для HTTP-обработчиков.
type API struct {
	checkout    *checkout.Service
	coordinator *coordinator.Coordinator
	lifecycle   *lifecycle.Service
	auth        *TokenManager
	logger      *log.Entry
}

// NewAPI создаёт набор HTTP-обработчиков поверх сервисов.
func NewAPI(
	checkoutSvc *checkout.Service,
	coord *coordinator.Coordinator,
	lifecycleSvc *lifecycle.Service,
	auth *TokenManager,
	logger *log.Entry,
) *API {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &API{
		checkout:    checkoutSvc,
		coordinator: coord,
		lifecycle:   lifecycleSvc,
		auth:        auth,
		logger:      logger.WithField("component", "httpapi"),
	}
}

func (a *API) beginCheckout(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	session, err := a.checkout.Begin(r.Context(), actor.UserID)
	if err != nil {
		a.logExpected(err, "begin checkout failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

func (a *API) getCheckout(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	session, err := a.checkout.Session(r.Context(), actor.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (a *API) selectDetails(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req selectDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.AddressID == "" || req.PaymentMethodID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "address_id and payment_method_id are required")
		return
	}
	session, err := a.checkout.SelectDetails(r.Context(), actor.UserID, req.AddressID, req.PaymentMethodID, req.VoucherCode)
	if err != nil {
		a.logExpected(err, "select details failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (a *API) previewVoucher(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req voucherPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.VoucherCode == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "voucher_code is required")
		return
	}
	discount, err := a.checkout.PreviewVoucher(r.Context(), actor.UserID, req.VoucherCode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voucherPreviewResponse{DiscountMinor: discount})
}

func (a *API) startOtp(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	session, err := a.checkout.StartOtp(r.Context(), actor.UserID)
	if err != nil {
		a.logExpected(err, "start otp failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (a *API) resendOtp(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	session, err := a.checkout.ResendOtp(r.Context(), actor.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (a *API) verifyOtp(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req verifyOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}
	order, err := a.checkout.VerifyOtp(r.Context(), actor.UserID, req.Code)
	if err != nil {
		a.logExpected(err, "verify otp failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (a *API) startGatewayPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	paymentURL, err := a.checkout.StartGatewayPayment(r.Context(), actor.UserID)
	if err != nil {
		a.logExpected(err, "start gateway payment failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startPaymentResponse{PaymentURL: paymentURL})
}

func (a *API) abandonCheckout(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	if err := a.checkout.Abandon(r.Context(), actor.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// paymentCallback обрабатывает возврат браузера от платёжного провайдера.
// Маршрут публичный: провайдер не знает наших токенов, подлинность
// подтверждается подписью в параметрах, а не заголовком Authorization.
func (a *API) paymentCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	params := make(map[string]string, len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	outcome, err := a.coordinator.CompleteGatewayPayment(r.Context(), provider, params)
	if err != nil {
		a.logExpected(err, "payment callback failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCallbackResponse(outcome))
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	orders, err := a.lifecycle.ListOrders(r.Context(), actor.UserID, 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	order, err := a.lifecycle.OrderOwnedBy(r.Context(), chi.URLParam(r, "id"), actor.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (a *API) getOrderTimeline(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	orderID := chi.URLParam(r, "id")
	if _, err := a.lifecycle.OrderOwnedBy(r.Context(), orderID, actor.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	events, err := a.lifecycle.Timeline(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := make([]timelineEventDTO, 0, len(events))
	for _, e := range events {
		resp = append(resp, timelineEventDTO{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req cancelOrderRequest
	// Тело опционально, невалидный JSON при этом отклоняем.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	order, err := a.lifecycle.Cancel(r.Context(), chi.URLParam(r, "id"), actor.UserID, req.Reason)
	if err != nil {
		a.logExpected(err, "cancel order failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// Staff-переходы статусов: маршруты закрыты ролью staff.

func (a *API) confirmOrder(w http.ResponseWriter, r *http.Request) {
	a.staffTransition(w, r, a.lifecycle.Confirm)
}

func (a *API) exportOrder(w http.ResponseWriter, r *http.Request) {
	a.staffTransition(w, r, a.lifecycle.MarkExported)
}

func (a *API) deliverOrder(w http.ResponseWriter, r *http.Request) {
	a.staffTransition(w, r, a.lifecycle.MarkDelivering)
}

func (a *API) completeOrder(w http.ResponseWriter, r *http.Request) {
	a.staffTransition(w, r, a.lifecycle.MarkDelivered)
}

func (a *API) staffTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orderID string) (domain.Order, error)) {
	order, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.logExpected(err, "order transition failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// logExpected пишет ожидаемые ошибки как warn, системные — как error.
func (a *API) logExpected(err error, msg string) {
	if domain.IsExpected(err) {
		a.logger.WithError(err).Warn(msg)
		return
	}
	a.logger.WithError(err).Error(msg)
}
