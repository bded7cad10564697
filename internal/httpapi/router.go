package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/techstore/internal/health"
)

// NewRouter собирает HTTP-маршруты сервиса.
// Callback платёжного провайдера и health-пробы публичные,
// остальные маршруты требуют Bearer-токен.
func NewRouter(api *API, healthHandler *health.Handler, logger *log.Entry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", healthHandler.ReadinessHandler)
	r.Get("/health", healthHandler.ServeHTTP)

	r.Get("/api/payment/callback/{provider}", api.paymentCallback)

	r.Group(func(r chi.Router) {
		r.Use(api.auth.Authenticate)

		r.Route("/api/checkout", func(r chi.Router) {
			r.Post("/", api.beginCheckout)
			r.Get("/", api.getCheckout)
			r.Post("/details", api.selectDetails)
			r.Post("/voucher/preview", api.previewVoucher)
			r.Post("/otp", api.startOtp)
			r.Post("/otp/resend", api.resendOtp)
			r.Post("/otp/verify", api.verifyOtp)
			r.Post("/payment", api.startGatewayPayment)
			r.Post("/abandon", api.abandonCheckout)
		})

		r.Route("/api/orders", func(r chi.Router) {
			r.Get("/", api.listOrders)
			r.Get("/{id}", api.getOrder)
			r.Get("/{id}/timeline", api.getOrderTimeline)
			r.Post("/{id}/cancel", api.cancelOrder)
		})

		r.Route("/api/staff/orders", func(r chi.Router) {
			r.Use(RequireRole(RoleStaff))
			r.Post("/{id}/confirm", api.confirmOrder)
			r.Post("/{id}/export", api.exportOrder)
			r.Post("/{id}/deliver", api.deliverOrder)
			r.Post("/{id}/delivered", api.completeOrder)
		})
	})

	return r
}

// requestLogger логирует завершённые запросы через logrus.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(started).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Info("http request")
		})
	}
}
