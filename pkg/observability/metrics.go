package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec

	// Permission cache metrics
	CacheHitsTotal     *prometheus.CounterVec
	CacheMissesTotal   *prometheus.CounterVec
	CacheDegradedTotal *prometheus.CounterVec

	// Login throttle metrics
	LoginFailuresTotal prometheus.Counter
	LockoutsTotal      *prometheus.CounterVec

	// Session metrics
	SessionsIssuedTotal  prometheus.Counter
	SessionsRevokedTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_hits_total",
				Help: "Cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_misses_total",
				Help: "Cache misses by tier",
			},
			[]string{"tier"},
		),
		CacheDegradedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_degraded_total",
				Help: "Operations that fell back to degraded mode because the cache backend was unavailable",
			},
			[]string{"op"},
		),
		LoginFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_login_failures_total",
				Help: "Recorded login failures",
			},
		),
		LockoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_lockouts_total",
				Help: "Lockouts established, by tier (user or ip)",
			},
			[]string{"tier"},
		),
		SessionsIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_sessions_issued_total",
				Help: "Tokens issued",
			},
		),
		SessionsRevokedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_sessions_revoked_total",
				Help: "Sessions revoked, by cause (logout or forced)",
			},
			[]string{"cause"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheDegradedTotal,
		m.LoginFailuresTotal,
		m.LockoutsTotal,
		m.SessionsIssuedTotal,
		m.SessionsRevokedTotal,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The record helpers below are nil-safe so components can run without
// metrics in tests.

// RecordCacheHit counts a hit on the given tier ("l1" or "redis").
func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss counts a miss on the given tier.
func (m *Metrics) RecordCacheMiss(tier string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(tier).Inc()
}

// RecordCacheDegraded counts an operation that hit the degraded branch.
func (m *Metrics) RecordCacheDegraded(op string) {
	if m == nil {
		return
	}
	m.CacheDegradedTotal.WithLabelValues(op).Inc()
}

// RecordLoginFailure counts a recorded login failure.
func (m *Metrics) RecordLoginFailure() {
	if m == nil {
		return
	}
	m.LoginFailuresTotal.Inc()
}

// RecordLockout counts an established lock on the given tier.
func (m *Metrics) RecordLockout(tier string) {
	if m == nil {
		return
	}
	m.LockoutsTotal.WithLabelValues(tier).Inc()
}

// RecordSessionIssued counts a token issuance.
func (m *Metrics) RecordSessionIssued() {
	if m == nil {
		return
	}
	m.SessionsIssuedTotal.Inc()
}

// RecordSessionRevoked counts a revocation by cause.
func (m *Metrics) RecordSessionRevoked(cause string) {
	if m == nil {
		return
	}
	m.SessionsRevokedTotal.WithLabelValues(cause).Inc()
}
