// Package observability provides metrics hooks for the gateway. Core
// packages report through the Hooks interface so they stay vendor-neutral;
// the Prometheus implementation is wired in by the app when metrics are
// enabled.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hooks receives gateway events for metrics collection.
type Hooks interface {
	// UpstreamAttempt records one dispatched upstream call and its outcome
	// ("success", "error", "timeout").
	UpstreamAttempt(upstream, operation, outcome string, duration time.Duration)

	// GatewayResult records a completed gateway operation by result source
	// ("primary", "fallback", "cache") or "error".
	GatewayResult(operation, source string)

	// CacheEvent records a cache lookup outcome ("hit", "stale", "miss").
	CacheEvent(operation, event string)

	// BreakerState records a circuit breaker state change
	// (0=closed, 1=open, 2=half-open).
	BreakerState(upstream string, state int)

	// QuotaUsage records the metered upstream's current window counters.
	QuotaUsage(upstream string, used, remaining int)
}

// NoopHooks discards all events, used when metrics are disabled.
type NoopHooks struct{}

func (NoopHooks) UpstreamAttempt(_, _, _ string, _ time.Duration) {}
func (NoopHooks) GatewayResult(_, _ string)                       {}
func (NoopHooks) CacheEvent(_, _ string)                          {}
func (NoopHooks) BreakerState(_ string, _ int)                    {}
func (NoopHooks) QuotaUsage(_ string, _, _ int)                   {}

// PrometheusHooks implements Hooks with Prometheus collectors.
type PrometheusHooks struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	results         *prometheus.CounterVec
	cacheEvents     *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	quotaUsed       *prometheus.GaugeVec
	quotaRemaining  *prometheus.GaugeVec
}

// NewPrometheusHooks creates and registers the gateway's collectors on the
// default registry. Call at most once per process.
func NewPrometheusHooks() *PrometheusHooks {
	return &PrometheusHooks{
		attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "astrogate_upstream_attempts_total",
			Help: "Upstream calls dispatched, by upstream, operation, and outcome",
		}, []string{"upstream", "operation", "outcome"}),
		attemptDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "astrogate_upstream_duration_seconds",
			Help:    "Upstream call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream", "operation"}),
		results: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "astrogate_results_total",
			Help: "Gateway operation results by source",
		}, []string{"operation", "source"}),
		cacheEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "astrogate_cache_events_total",
			Help: "Cache lookup outcomes by operation",
		}, []string{"operation", "event"}),
		breakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "astrogate_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"upstream"}),
		quotaUsed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "astrogate_quota_used",
			Help: "Calls consumed in the current quota window",
		}, []string{"upstream"}),
		quotaRemaining: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "astrogate_quota_remaining",
			Help: "Calls remaining in the current quota window",
		}, []string{"upstream"}),
	}
}

func (h *PrometheusHooks) UpstreamAttempt(upstream, operation, outcome string, duration time.Duration) {
	h.attempts.WithLabelValues(upstream, operation, outcome).Inc()
	h.attemptDuration.WithLabelValues(upstream, operation).Observe(duration.Seconds())
}

func (h *PrometheusHooks) GatewayResult(operation, source string) {
	h.results.WithLabelValues(operation, source).Inc()
}

func (h *PrometheusHooks) CacheEvent(operation, event string) {
	h.cacheEvents.WithLabelValues(operation, event).Inc()
}

func (h *PrometheusHooks) BreakerState(upstream string, state int) {
	h.breakerState.WithLabelValues(upstream).Set(float64(state))
}

func (h *PrometheusHooks) QuotaUsage(upstream string, used, remaining int) {
	h.quotaUsed.WithLabelValues(upstream).Set(float64(used))
	h.quotaRemaining.WithLabelValues(upstream).Set(float64(remaining))
}
