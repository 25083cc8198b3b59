// Package metrics exposes portal metrics to Prometheus.
//
// A nil *Metrics is valid: every method is a no-op and Instrument returns
// the directory unchanged, so callers never need to check whether metrics
// are enabled.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ipa "github.com/netresearch/ipa-admin-portal"
)

// DefaultSlowCallThreshold is the directory call latency above which a
// warning is logged.
const DefaultSlowCallThreshold = 2 * time.Second

// Metrics holds the portal collectors.
type Metrics struct {
	registry *prometheus.Registry
	logger   *slog.Logger
	slowCall time.Duration

	directoryCalls    *prometheus.CounterVec
	directoryDuration *prometheus.HistogramVec
	bulkItems         *prometheus.CounterVec
	logins            *prometheus.CounterVec
}

// New registers the portal collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New(logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		logger:   logger.With(slog.String("component", "metrics")),
		slowCall: DefaultSlowCallThreshold,
		directoryCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipa_portal_directory_calls_total",
				Help: "Directory calls by operation and outcome",
			},
			[]string{"op", "outcome"}, // outcome: success, not_found, error
		),
		directoryDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ipa_portal_directory_call_duration_seconds",
				Help:    "Directory call latency by operation",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),
		bulkItems: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipa_portal_bulk_items_total",
				Help: "Items processed by bulk operations by outcome",
			},
			[]string{"operation", "outcome"}, // outcome: success, rejected, failed
		),
		logins: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ipa_portal_logins_total",
				Help: "Operator login attempts by outcome",
			},
			[]string{"outcome"}, // outcome: success, invalid_credentials, locked_out, error
		),
	}
}

// SetSlowCallThreshold changes the latency above which directory calls are
// logged; zero disables the warning.
func (m *Metrics) SetSlowCallThreshold(d time.Duration) {
	if m == nil {
		return
	}
	m.slowCall = d
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveBulkItem counts one processed bulk item.
func (m *Metrics) ObserveBulkItem(operation, outcome string) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(operation, outcome).Inc()
}

// ObserveLogin counts one login attempt.
func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// TrackSessions exposes count as the ipa_portal_sessions_active gauge.
func (m *Metrics) TrackSessions(count func() int) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ipa_portal_sessions_active",
			Help: "Operator sessions currently stored",
		},
		func() float64 { return float64(count()) },
	)
}

func (m *Metrics) observeCall(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ipa.ErrUserNotFound), errors.Is(err, ipa.ErrGroupNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	m.directoryCalls.WithLabelValues(op, outcome).Inc()
	m.directoryDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	if m.slowCall > 0 && elapsed > m.slowCall {
		m.logger.Warn("directory_call_slow",
			slog.String("op", op),
			slog.Duration("duration", elapsed),
			slog.Duration("threshold", m.slowCall))
	}
}
