package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/techstore/internal/health"
	"github.com/vladislavdragonenkov/techstore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/techstore/internal/service/gateway"
	"github.com/vladislavdragonenkov/techstore/internal/service/notify"
	"github.com/vladislavdragonenkov/techstore/internal/storage/memory"
	"github.com/vladislavdragonenkov/techstore/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/techstore/internal/storage/redis"
)

// Имена платёжных провайдеров: ключи карты гейтвеев и значения
// поля provider в справочнике способов оплаты.
const (
	ProviderCardPay = "cardpay"
	ProviderWallet  = "wallet"
)

// Dependencies содержит инфраструктурные зависимости приложения.
type Dependencies struct {
	Store    domain.Store
	Sessions domain.SessionStore
	Gateways map[string]domain.PaymentGateway
	Notifier domain.NotificationSender
	Producer *kafka.Producer
	Logger   *log.Entry

	// MemorySessions не nil, когда сессии живут в памяти: для них нужен
	// фоновый sweeper, Redis чистит ключи по TTL сам.
	MemorySessions *memory.SessionStore

	closers []func() error
}

// NewDependencies собирает зависимости по конфигурации.
// Kafka опционален: без брокеров события остаются в outbox.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Logger:   logger,
		Notifier: notify.NewLogSender(logger.WithField("component", "notify")),
		Gateways: map[string]domain.PaymentGateway{
			ProviderCardPay: gateway.NewSignedRedirect(cfg.CardPayURL, cfg.CardReturnURL, cfg.CardSecret),
			ProviderWallet:  gateway.NewWallet(cfg.WalletPayURL, cfg.WalletPartnerCode, cfg.WalletSecret),
		},
	}

	switch cfg.Storage {
	case StoragePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		deps.Store = store
		deps.closers = append(deps.closers, store.Close)
		logger.Info("postgres storage initialized")
	case StorageMemory:
		deps.Store = memory.NewStore()
		logger.Info("in-memory storage initialized")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}

	switch cfg.Sessions {
	case SessionsRedis:
		sessions := redisstore.NewSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := sessions.Ping(ctx); err != nil {
			deps.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		deps.Sessions = sessions
		deps.closers = append(deps.closers, sessions.Close)
		logger.Info("redis session store initialized")
	case SessionsMemory:
		sessions := memory.NewSessionStore()
		deps.Sessions = sessions
		deps.MemorySessions = sessions
		logger.Info("in-memory session store initialized")
	default:
		deps.close()
		return nil, fmt.Errorf("unknown session backend %q", cfg.Sessions)
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			deps.Producer = producer
			deps.closers = append(deps.closers, producer.Close)
			logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
		}
	}

	return deps, nil
}

// RegisterHealthChecks подключает проверки живости внешних зависимостей.
func (d *Dependencies) RegisterHealthChecks(handler *healthcheck.Handler) {
	if store, ok := d.Store.(*postgres.Store); ok {
		handler.RegisterChecker("postgres", healthcheck.NewPingChecker(store, 2*time.Second))
	}
	if sessions, ok := d.Sessions.(*redisstore.SessionStore); ok {
		handler.RegisterChecker("redis", healthcheck.NewPingChecker(sessions, 2*time.Second))
	}
}

// Close освобождает ресурсы в обратном порядке создания.
func (d *Dependencies) Close() {
	d.close()
}

func (d *Dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.WithError(err).Warn("dependency close failed")
		}
	}
	d.closers = nil
}
