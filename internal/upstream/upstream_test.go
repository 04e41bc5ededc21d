package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ossettyres/tyre-api/internal/circuitbreaker"
	"github.com/ossettyres/tyre-api/internal/metrics"
	"github.com/ossettyres/tyre-api/internal/upstream/upstreamtest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFake(t *testing.T) (*upstreamtest.Server, *httptest.Server) {
	t.Helper()
	fake := upstreamtest.New()
	fake.APIKey = "secret"
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)
	return fake, srv
}

func testConfig(url string) Config {
	return Config{URL: url, APIKey: "secret", AuthScheme: "x-api-key", Timeout: 2 * time.Second, MaxFailures: 2, OpenTimeout: time.Minute}
}

func TestDVLA_Lookup(t *testing.T) {
	fake, srv := newFake(t)
	m := metrics.New()
	dvla := NewDVLA(testConfig(srv.URL+upstreamtest.DVLAPath), m)

	res, err := dvla.Lookup(context.Background(), "AB12CDE")
	require.NoError(t, err)
	assert.True(t, res.OK())

	var data map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &data))
	assert.Equal(t, "FORD", data["make"])

	req := fake.LastRequest(upstreamtest.DVLAPath)
	require.NotNil(t, req)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "secret", req.Header.Get("x-api-key"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamCalls.WithLabelValues("dvla", "ok")))
}

func TestDVLA_NotFoundPassesThrough(t *testing.T) {
	_, srv := newFake(t)
	dvla := NewDVLA(testConfig(srv.URL+upstreamtest.DVLAPath), nil)

	res, err := dvla.Lookup(context.Background(), "ZZ00ZZZ")
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Contains(t, string(res.Data), "Vehicle Not Found")
}

func TestDVLA_MissingKey(t *testing.T) {
	fake, srv := newFake(t)
	cfg := testConfig(srv.URL + upstreamtest.DVLAPath)
	cfg.APIKey = ""

	res, err := NewDVLA(cfg, nil).Lookup(context.Background(), "AB12CDE")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.JSONEq(t, `{"error":"DVLA API key not configured"}`, string(res.Data))
	assert.Zero(t, fake.Calls(upstreamtest.DVLAPath))
}

func TestDVLA_NonJSONBodyIsNull(t *testing.T) {
	fake, srv := newFake(t)
	fake.Respond(upstreamtest.DVLAPath, http.StatusBadGateway, "<html>bad gateway</html>")

	res, err := NewDVLA(testConfig(srv.URL+upstreamtest.DVLAPath), nil).Lookup(context.Background(), "AB12CDE")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Equal(t, "null", string(res.Data))
}

func TestDVLA_BreakerOpensOnServerErrors(t *testing.T) {
	fake, srv := newFake(t)
	fake.Respond(upstreamtest.DVLAPath, http.StatusServiceUnavailable, `{"message":"down"}`)
	dvla := NewDVLA(testConfig(srv.URL+upstreamtest.DVLAPath), nil)

	for i := 0; i < 2; i++ {
		res, err := dvla.Lookup(context.Background(), "AB12CDE")
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, res.Status)
	}
	assert.Equal(t, circuitbreaker.StateOpen, dvla.Breaker().State())

	_, err := dvla.Lookup(context.Background(), "AB12CDE")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, fake.Calls(upstreamtest.DVLAPath))
}

func TestDVLA_AbandonedCallsKeepBreakerClosed(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"registrationNumber":"AB12CDE"}`))
	}))
	t.Cleanup(slow.Close)

	m := metrics.New()
	cfg := testConfig(slow.URL)
	cfg.MaxFailures = 5
	dvla := NewDVLA(cfg, m)

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, err := dvla.Lookup(ctx, "AB12CDE")
		cancel()
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	assert.Equal(t, circuitbreaker.StateClosed, dvla.Breaker().State())
	assert.Zero(t, dvla.Breaker().Metrics().TotalFailures)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.UpstreamCalls.WithLabelValues("dvla", "abandoned")))

	res, err := dvla.Lookup(context.Background(), "AB12CDE")
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestDVLA_TransportError(t *testing.T) {
	_, srv := newFake(t)
	url := srv.URL + upstreamtest.DVLAPath
	srv.Close()

	_, err := NewDVLA(testConfig(url), nil).Lookup(context.Background(), "AB12CDE")
	require.Error(t, err)
	assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestThrottleHonoursContext(t *testing.T) {
	_, srv := newFake(t)
	cfg := testConfig(srv.URL + upstreamtest.DVLAPath)
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 1
	dvla := NewDVLA(cfg, nil)

	_, err := dvla.Lookup(context.Background(), "AB12CDE")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = dvla.Lookup(ctx, "AB12CDE")
	assert.Error(t, err)
}

func TestTyres_Fitment(t *testing.T) {
	fake, srv := newFake(t)
	cfg := testConfig(srv.URL + upstreamtest.TyresPath)
	cfg.AuthScheme = "bearer"
	tyres := NewTyres(cfg, nil)

	res, err := tyres.Fitment(context.Background(), "XY99ZZZ")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, TyreSizes{Front: "225/40 R18", Rear: "255/35 R18"}, PickTyreSizes(res.Data))

	req := fake.LastRequest(upstreamtest.TyresPath)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "XY99ZZZ", req.URL.Query().Get("vehicle_registration_mark"))
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
}

func TestTyres_MissingKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.APIKey = ""

	res, err := NewTyres(cfg, nil).Fitment(context.Background(), "AB12CDE")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotImplemented, res.Status)
}

func TestPickTyreSizes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want TyreSizes
	}{
		{"first model", `{"oe_data":{"modelIDs":[{"tyre_size_front":"F1","tyre_size_rear":"R1"},{"tyre_size_front":"F2"}]}}`, TyreSizes{Front: "F1", Rear: "R1"}},
		{"rear missing", `{"oe_data":{"modelIDs":[{"tyre_size_front":"F1"}]}}`, TyreSizes{Front: "F1"}},
		{"no models", `{"oe_data":{"modelIDs":[]}}`, TyreSizes{}},
		{"no oe data", `{"success":false}`, TyreSizes{}},
		{"null", `null`, TyreSizes{}},
		{"wrong shape", `{"oe_data":"nope"}`, TyreSizes{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PickTyreSizes(json.RawMessage(tt.raw)))
		})
	}
}

func TestTyreSizes_NullJSON(t *testing.T) {
	b, err := json.Marshal(TyreSizes{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tyre_size_front":null,"tyre_size_rear":null}`, string(b))
}
