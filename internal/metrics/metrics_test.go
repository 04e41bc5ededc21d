package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.LimiterRejected.WithLabelValues("fine").Inc()
	m.UpstreamCalls.WithLabelValues("dvla", "ok").Add(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tyreapi_limiter_rejections_total{rule="fine"} 1`)
	assert.Contains(t, string(body), `tyreapi_upstream_calls_total{outcome="ok",upstream="dvla"} 2`)
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.AuditDropped.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.AuditDropped))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.AuditDropped))
}
