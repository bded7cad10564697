package sessionsweep

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultSweepInterval  = 5 * time.Minute
	defaultSweepBatchSize = 500
)

var (
	sessionSweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techstore_session_sweep_runs_total",
		Help: "Total number of checkout session sweep runs grouped by result.",
	}, []string{"result"})
	sessionSweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techstore_session_sweep_deleted_total",
		Help: "Total number of deleted expired checkout sessions.",
	})
	sessionSweepLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "techstore_session_sweep_last_deleted",
		Help: "Number of deleted sessions during the last sweep run.",
	})
)

// ExpiredDeleter удаляет просроченные сессии порциями.
// Redis-хранилищу sweeper не нужен (TTL нативный); in-memory хранилище
// реализует интерфейс и чистится воркером.
type ExpiredDeleter interface {
	DeleteExpired(before time.Time, limit int) (int, error)
}

// SweepOptions задает параметры воркера очистки сессий.
type SweepOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// Option настраивает Sweeper.
type Option func(*SweepOptions)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *SweepOptions) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между циклами очистки.
func WithInterval(interval time.Duration) Option {
	return func(opts *SweepOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер batch для одного удаления.
func WithBatchSize(batchSize int) Option {
	return func(opts *SweepOptions) {
		opts.BatchSize = batchSize
	}
}

// Sweeper периодически удаляет просроченные checkout-сессии.
// Истечение сессии безопасно: до точки коммита ни сток, ни ваучер
// не менялись, удаление не оставляет частичного заказа.
type Sweeper struct {
	store     ExpiredDeleter
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewSweeper создает воркер очистки сессий.
func NewSweeper(store ExpiredDeleter, options ...Option) *Sweeper {
	opts := SweepOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "session-sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &Sweeper{
		store:     store,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *Sweeper) Run(ctx context.Context) {
	if w.store == nil {
		w.logger.Warn("session sweeper is disabled: store is nil")
		return
	}

	w.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx, time.Now().UTC())
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context, before time.Time) {
	deleted, err := w.DeleteExpired(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sessionSweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("session sweep run failed")
		return
	}

	sessionSweepRunsTotal.WithLabelValues("ok").Inc()
	sessionSweepLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("session sweep completed")
	}
}

// DeleteExpired удаляет все сессии с ttl <= before порциями batchSize.
func (w *Sweeper) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.store.DeleteExpired(before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted > 0 {
			sessionSweepDeletedTotal.Add(float64(deleted))
		}

		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
