package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// New registers against prometheus's global DefaultRegisterer, so only
// one instance may be constructed per test binary; sharedMetrics is
// built once and reused across every test in this file.
var (
	sharedMetrics     *Metrics
	sharedMetricsOnce sync.Once
)

func getSharedMetrics() *Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = New()
	})
	return sharedMetrics
}

func TestObserveSnapshot_SetsGauges(t *testing.T) {
	m := getSharedMetrics()
	m.ObserveSnapshot(1500, 45.5, 2.1, 17, 1)

	assert.Equal(t, 1500.0, testutil.ToFloat64(m.MotorSpeedRPM))
	assert.Equal(t, 45.5, testutil.ToFloat64(m.MotorTempC))
	assert.Equal(t, 2.1, testutil.ToFloat64(m.PressureBar))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SafetyState))
}

func TestSafetyRejections_LabeledByKind(t *testing.T) {
	m := getSharedMetrics()
	m.SafetyRejections.WithLabelValues("ExceedsMaxSpeed").Inc()
	m.SafetyRejections.WithLabelValues("ExceedsMaxSpeed").Inc()
	m.SafetyRejections.WithLabelValues("RateOfChangeTooHigh").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SafetyRejections.WithLabelValues("ExceedsMaxSpeed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SafetyRejections.WithLabelValues("RateOfChangeTooHigh")))
}

func TestMetricsServer_HealthAndReady(t *testing.T) {
	s := NewServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.SetReady(true)
	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsServer_MetricsEndpointServesPrometheusFormat(t *testing.T) {
	getSharedMetrics() // ensure at least one series is registered
	s := NewServer()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "spine_")
}
