package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/totpguard/internal/models"
)

// Outcome labels shared by the recovery counters
const (
	OutcomeSent        = "sent"
	OutcomeRateLimited = "rate_limited"
	OutcomeRejected    = "rejected"
	OutcomeFailed      = "failed"
	OutcomeReset       = "reset"
)

// Metrics holds the Prometheus collectors of the 2FA add-on
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuditEventsTotal        *prometheus.CounterVec
	RecoveryRequestsTotal   *prometheus.CounterVec
	RecoveryVerifyTotal     *prometheus.CounterVec
	TrustedDevicesBulkReset prometheus.Counter
	RateLimiterKeys         prometheus.Gauge
	RateLimiterPrunedTotal  prometheus.Counter
	CodeVerificationsTotal  *prometheus.CounterVec
}

// NewMetrics creates every collector on the given registry. A nil registry gets a
// fresh one with the Go and process collectors.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "totpguard_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "totpguard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		AuditEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "totpguard_audit_events_total",
			Help: "2FA audit events by kind and sink result",
		}, []string{"event", "result"}),
		RecoveryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "totpguard_recovery_requests_total",
			Help: "Forgot-2FA email requests by outcome",
		}, []string{"outcome"}),
		RecoveryVerifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "totpguard_recovery_verifications_total",
			Help: "Forgot-2FA link redemptions by outcome",
		}, []string{"outcome"}),
		TrustedDevicesBulkReset: factory.NewCounter(prometheus.CounterOpts{
			Name: "totpguard_trusted_devices_bulk_reset_accounts_total",
			Help: "Accounts touched by clear-all trusted devices",
		}),
		RateLimiterKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "totpguard_rate_limiter_keys",
			Help: "Client addresses tracked by the in-memory recovery limiter",
		}),
		RateLimiterPrunedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "totpguard_rate_limiter_pruned_keys_total",
			Help: "Idle limiter keys removed by the pruner",
		}),
		CodeVerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "totpguard_code_verifications_total",
			Help: "Login code checks by method and result",
		}, []string{"method", "result"}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AuditLogged counts one audit event; matches the AuditLogger.OnLogged callback
func (m *Metrics) AuditLogged(kind models.TOTPEvent, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.AuditEventsTotal.WithLabelValues(kind.String(), result).Inc()
}

// RecoveryRequested counts one forgot-2FA email request
func (m *Metrics) RecoveryRequested(outcome string) {
	m.RecoveryRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecoveryVerified counts one forgot-2FA link redemption
func (m *Metrics) RecoveryVerified(outcome string) {
	m.RecoveryVerifyTotal.WithLabelValues(outcome).Inc()
}

// TrustedDevicesCleared records a clear-all run
func (m *Metrics) TrustedDevicesCleared(affected int64) {
	m.TrustedDevicesBulkReset.Add(float64(affected))
}

// CodeVerified counts one login code check
func (m *Metrics) CodeVerified(method string, ok bool) {
	m.CodeVerificationsTotal.WithLabelValues(method, strconv.FormatBool(ok)).Inc()
}

// LimiterPruned records a pruning pass
func (m *Metrics) LimiterPruned(removed, remaining int) {
	m.RateLimiterPrunedTotal.Add(float64(removed))
	m.RateLimiterKeys.Set(float64(remaining))
}

// ObserveHTTP records one finished request
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
