package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/totpguard/internal/models"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AuditLogged(models.EventEnable, true)
	m.AuditLogged(models.EventEnable, false)
	m.RecoveryRequested(OutcomeSent)
	m.RecoveryRequested(OutcomeRateLimited)
	m.RecoveryRequested(OutcomeRateLimited)
	m.RecoveryVerified(OutcomeReset)
	m.TrustedDevicesCleared(5)
	m.CodeVerified("backup_code", true)
	m.LimiterPruned(3, 7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEventsTotal.WithLabelValues("enable", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEventsTotal.WithLabelValues("enable", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecoveryRequestsTotal.WithLabelValues(OutcomeRateLimited)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecoveryVerifyTotal.WithLabelValues(OutcomeReset)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.TrustedDevicesBulkReset))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CodeVerificationsTotal.WithLabelValues("backup_code", "true")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RateLimiterPrunedTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.RateLimiterKeys))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.ObserveHTTP(http.MethodGet, "/totp/manage", http.StatusOK, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `totpguard_http_requests_total{method="GET",route="/totp/manage",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
