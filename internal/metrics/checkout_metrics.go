package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики checkout/commit операций.
type CheckoutMetrics struct {
	// Счётчики исходов коммита
	commitStarted   prometheus.Counter
	commitSucceeded prometheus.Counter
	commitFailed    *prometheus.CounterVec

	// Гистограмма времени выполнения коммита
	commitDuration prometheus.Histogram

	// Счётчики checkout-событий
	otpIssued          prometheus.Counter
	otpRejected        *prometheus.CounterVec
	callbackDuplicates prometheus.Counter
	outboxEvents       prometheus.Counter

	// Gauge для активных checkout-сессий
	activeSessions prometheus.Gauge
}

// NewCheckoutMetrics создаёт новый экземпляр метрик checkout.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		commitStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "techstore_commit_started_total",
			Help: "Total number of checkout commit attempts started",
		}),
		commitSucceeded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "techstore_commit_succeeded_total",
			Help: "Total number of checkout commits completed successfully",
		}),
		commitFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "techstore_commit_failed_total",
			Help: "Total number of checkout commits failed grouped by reason",
		}, []string{"reason"}),
		commitDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "techstore_commit_duration_seconds",
			Help:    "Duration of checkout commit transactions in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		otpIssued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "techstore_otp_issued_total",
			Help: "Total number of OTP codes issued",
		}),
		otpRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "techstore_otp_rejected_total",
			Help: "Total number of rejected OTP submissions grouped by reason",
		}, []string{"reason"}),
		callbackDuplicates: registerCounter(registerer, prometheus.CounterOpts{
			Name: "techstore_gateway_callback_duplicates_total",
			Help: "Total number of duplicate gateway callbacks resolved idempotently",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "techstore_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		activeSessions: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "techstore_active_checkout_sessions",
			Help: "Number of currently active checkout sessions",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCommitStarted увеличивает счётчик начатых коммитов.
func (m *CheckoutMetrics) RecordCommitStarted() {
	m.commitStarted.Inc()
}

// RecordCommitSucceeded увеличивает счётчик успешных коммитов.
func (m *CheckoutMetrics) RecordCommitSucceeded() {
	m.commitSucceeded.Inc()
}

// RecordCommitFailed увеличивает счётчик неуспешных коммитов по причине.
func (m *CheckoutMetrics) RecordCommitFailed(reason string) {
	m.commitFailed.WithLabelValues(reason).Inc()
}

// RecordCommitDuration записывает время выполнения коммита.
func (m *CheckoutMetrics) RecordCommitDuration(duration time.Duration) {
	m.commitDuration.Observe(duration.Seconds())
}

// RecordOtpIssued увеличивает счётчик выданных OTP-кодов.
func (m *CheckoutMetrics) RecordOtpIssued() {
	m.otpIssued.Inc()
}

// RecordOtpRejected увеличивает счётчик отклонённых OTP по причине.
func (m *CheckoutMetrics) RecordOtpRejected(reason string) {
	m.otpRejected.WithLabelValues(reason).Inc()
}

// RecordCallbackDuplicate увеличивает счётчик дублированных callback.
func (m *CheckoutMetrics) RecordCallbackDuplicate() {
	m.callbackDuplicates.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordSessionStarted увеличивает количество активных сессий.
func (m *CheckoutMetrics) RecordSessionStarted() {
	m.activeSessions.Inc()
}

// RecordSessionFinished уменьшает количество активных сессий.
func (m *CheckoutMetrics) RecordSessionFinished() {
	m.activeSessions.Dec()
}
