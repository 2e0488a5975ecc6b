// Package observability holds the Prometheus metrics recorded by the vault.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "claude_accounts"

// Refresh outcomes recorded in RefreshTotal.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeNetwork  = "network_error"
	OutcomeError    = "error"
)

// Metrics holds the vault's Prometheus collectors. A nil *Metrics is valid and
// records nothing, which keeps short-lived CLI invocations free of registry setup.
type Metrics struct {
	RefreshTotal        *prometheus.CounterVec
	RefreshDuration     prometheus.Histogram
	LaunchTotal         *prometheus.CounterVec
	SyncFailuresTotal   prometheus.Counter
	ExportsTotal        prometheus.Counter
	CircuitBreakerState prometheus.Gauge
}

// refreshBuckets are histogram buckets for token exchanges (in seconds).
var refreshBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// NewMetrics creates and registers all collectors on reg, or on the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oauth",
				Name:      "refresh_total",
				Help:      "Token refresh exchanges by outcome",
			},
			[]string{"outcome"},
		),
		RefreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "oauth",
				Name:      "refresh_duration_seconds",
				Help:      "Duration of token refresh exchanges",
				Buckets:   refreshBuckets,
			},
		),
		LaunchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "launch_total",
				Help:      "Launch environments prepared by account kind",
			},
			[]string{"kind"},
		),
		SyncFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "credfile",
				Name:      "sync_failures_total",
				Help:      "Failed rewrites of the external credentials file",
			},
		),
		ExportsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vault",
				Name:      "exports_total",
				Help:      "Unmasked exports of the vault",
			},
		),
		CircuitBreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oauth",
				Name:      "circuit_breaker_state",
				Help:      "Token endpoint circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
	}
}

// ObserveRefresh records one refresh exchange.
func (m *Metrics) ObserveRefresh(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(outcome).Inc()
	m.RefreshDuration.Observe(d.Seconds())
}

// IncLaunch records a prepared launch environment.
func (m *Metrics) IncLaunch(kind string) {
	if m == nil {
		return
	}
	m.LaunchTotal.WithLabelValues(kind).Inc()
}

// IncSyncFailure records a failed credentials file rewrite.
func (m *Metrics) IncSyncFailure() {
	if m == nil {
		return
	}
	m.SyncFailuresTotal.Inc()
}

// IncExport records an unmasked export.
func (m *Metrics) IncExport() {
	if m == nil {
		return
	}
	m.ExportsTotal.Inc()
}

// SetBreakerState records the token endpoint breaker state.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Set(float64(state))
}
