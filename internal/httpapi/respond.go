package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// writeDomainError переводит доменные ошибки в HTTP-статусы.
// Непредвиденные ошибки не раскрываются клиенту.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, status, code, message)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrCheckoutSessionNotFound),
		errors.Is(err, domain.ErrCartNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrVoucherOutOfUses),
		errors.Is(err, domain.ErrCartCheckedOut),
		errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrOrderInvalidTransition),
		errors.Is(err, domain.ErrCheckoutInvalidState):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrOtpExpired),
		errors.Is(err, domain.ErrOtpAttemptsExceeded):
		return http.StatusGone, "otp_unusable"
	case errors.Is(err, domain.ErrGatewayRejected):
		return http.StatusBadGateway, "gateway_rejected"
	case domain.IsExpected(err):
		return http.StatusUnprocessableEntity, "validation_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
