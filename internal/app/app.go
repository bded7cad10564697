package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/techstore/internal/health"
	"github.com/vladislavdragonenkov/techstore/internal/httpapi"
	"github.com/vladislavdragonenkov/techstore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/techstore/internal/service/checkout"
	"github.com/vladislavdragonenkov/techstore/internal/service/coordinator"
	"github.com/vladislavdragonenkov/techstore/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/techstore/internal/service/outbox"
	"github.com/vladislavdragonenkov/techstore/internal/service/sessionsweep"
	"github.com/vladislavdragonenkov/techstore/internal/version"
)

// Run собирает зависимости и запускает HTTP-сервер, сервер метрик
// и фоновые воркеры. Блокируется до отмены контекста или фатальной ошибки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Координатор коммита и сервисы приложения.
	var coord *coordinator.Coordinator
	if deps.Producer != nil {
		coord = coordinator.NewWithKafka(
			deps.Store,
			deps.Sessions,
			deps.Gateways,
			deps.Notifier,
			deps.Producer,
			logger.WithField("component", "coordinator"),
		)
	} else {
		coord = coordinator.New(
			deps.Store,
			deps.Sessions,
			deps.Gateways,
			deps.Notifier,
			logger.WithField("component", "coordinator"),
		)
	}

	checkoutSvc := checkout.NewService(
		deps.Store,
		deps.Sessions,
		deps.Gateways,
		deps.Notifier,
		coord,
		logger.WithField("component", "checkout"),
		checkout.WithSessionTTL(cfg.SessionTTL),
	)
	lifecycleSvc := lifecycle.NewService(deps.Store, logger.WithField("component", "lifecycle"))

	auth := httpapi.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	if cfg.JWTSecret == "" {
		logger.Warn("TECHSTORE_JWT_SECRET is not set, using insecure development secret")
	}

	healthHandler := healthcheck.NewHandler(version.String())
	deps.RegisterHealthChecks(healthHandler)

	api := httpapi.NewAPI(checkoutSvc, coord, lifecycleSvc, auth, logger)
	router := httpapi.NewRouter(api, healthHandler, logger.WithField("component", "http"))

	// Фоновые воркеры.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	outboxWorker := outbox.NewWorker(
		deps.Store,
		outboxPublisher(deps),
		outboxOptions(cfg, deps)...,
	)
	workers.Add(1)
	go func() {
		defer workers.Done()
		outboxWorker.Run(workerCtx)
	}()

	if deps.MemorySessions != nil {
		sweeper := sessionsweep.NewSweeper(
			deps.MemorySessions,
			sessionsweep.WithLogger(logger.WithField("component", "sessionsweep")),
			sessionsweep.WithInterval(cfg.SweepInterval),
		)
		workers.Add(1)
		go func() {
			defer workers.Done()
			sweeper.Run(workerCtx)
		}()
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("graceful shutdown превысил таймаут")
			_ = srv.Close()
		}
		stopWorkers()
		workers.Wait()
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		stopWorkers()
		workers.Wait()
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// outboxPublisher выбирает издателя outbox: Kafka либо лог-издатель,
// который пишет события в журнал вместо брокера.
func outboxPublisher(deps *Dependencies) domain.OutboxPublisher {
	if deps.Producer != nil {
		return kafka.NewOutboxPublisher(deps.Producer, kafka.TopicOrderEvents)
	}
	return outbox.NewLogPublisher(deps.Logger.WithField("component", "outbox"))
}

func outboxOptions(cfg Config, deps *Dependencies) []outbox.Option {
	opts := []outbox.Option{
		outbox.WithLogger(deps.Logger.WithField("component", "outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
	}
	if deps.Producer != nil {
		opts = append(opts, outbox.WithDLQPublisher(kafka.NewDLQPublisher(deps.Producer)))
	}
	return opts
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
