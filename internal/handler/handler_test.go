package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ossettyres/tyre-api/internal/circuitbreaker"
	"github.com/ossettyres/tyre-api/internal/email"
	"github.com/ossettyres/tyre-api/internal/healthcheck"
	"github.com/ossettyres/tyre-api/internal/middleware"
	"github.com/ossettyres/tyre-api/internal/ratelimit"
	"github.com/ossettyres/tyre-api/internal/service"
	"github.com/ossettyres/tyre-api/internal/upstream"
	"github.com/ossettyres/tyre-api/internal/upstream/upstreamtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router *gin.Engine
	fake   *upstreamtest.Server
}

func newFixture(t *testing.T, relayKey string) *fixture {
	t.Helper()
	fake := upstreamtest.New()
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	up := upstream.Config{APIKey: "k", AuthScheme: "x-api-key", Timeout: 2 * time.Second}
	dvlaCfg, tyreCfg := up, up
	dvlaCfg.URL = srv.URL + upstreamtest.DVLAPath
	tyreCfg.URL = srv.URL + upstreamtest.TyresPath

	vehicles := service.NewVehicleService(
		ratelimit.NewCooldownTracker(ratelimit.CooldownConfig{}),
		upstream.NewDVLA(dvlaCfg, nil),
		upstream.NewTyres(tyreCfg, nil),
		nil, nil,
	)
	enquiries := service.NewEnquiryService(service.EnquiryConfig{
		IPLimiter:    ratelimit.NewFixedWindow(ratelimit.FixedWindowConfig{Limit: 5, Window: time.Minute}),
		EmailLimiter: ratelimit.NewFixedWindow(ratelimit.FixedWindowConfig{Limit: 3, Window: time.Minute}),
		Relay:        email.New(email.Config{URL: srv.URL + upstreamtest.EmailPath, AccessKey: relayKey}),
		Go:           func(fn func()) { fn() },
	})

	r := gin.New()
	r.Use(middleware.CORS([]string{"https://ossettyres.co.uk"}))
	vh := NewVehicleHandler(vehicles)
	eh := NewEnquiryHandler(enquiries)
	r.GET("/api/dvla", vh.Get)
	r.POST("/api/dvla", vh.Post)
	r.POST("/api/enquiry", eh.Submit)

	return &fixture{router: r, fake: fake}
}

func (f *fixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestVehicle_GetSuccess(t *testing.T) {
	f := newFixture(t, "k")

	w := f.do(http.MethodGet, "/api/dvla?reg=ab12%20cde", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		OK    bool           `json:"ok"`
		DVLA  map[string]any `json:"dvla"`
		Tyres map[string]any `json:"tyres"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, "AB12CDE", body.DVLA["registrationNumber"])
	assert.Equal(t, "205/55 R16", body.Tyres["tyre_size_front"])
	assert.Equal(t, "https://ossettyres.co.uk", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestVehicle_PostSuccess(t *testing.T) {
	f := newFixture(t, "k")

	w := f.do(http.MethodPost, "/api/dvla", `{"registrationNumber":"XY99ZZZ"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tyre_size_rear":"255/35 R18"`)
}

func TestVehicle_Validation(t *testing.T) {
	f := newFixture(t, "k")

	w := f.do(http.MethodGet, "/api/dvla", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Use ?reg=YOURREG or provide registrationNumber"}`, w.Body.String())

	w = f.do(http.MethodPost, "/api/dvla", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Use ?reg=YOURREG or provide registrationNumber"}`, w.Body.String())

	w = f.do(http.MethodGet, "/api/dvla?reg=AB-12", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid VRM format"}`, w.Body.String())
}

func TestVehicle_Cooldown(t *testing.T) {
	f := newFixture(t, "k")
	headers := map[string]string{"X-Forwarded-For": "203.0.113.7"}

	w := f.do(http.MethodGet, "/api/dvla?reg=AB12CDE", "", headers)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/dvla?reg=AB12CDE", "", headers)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "IP:2s; IP+VRM:10s", w.Header().Get("X-RateLimit-Policy"))
	assert.Contains(t, []string{"9", "10"}, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["ok"])
	assert.EqualValues(t, 429, body["error"])
	assert.Contains(t, body["message"], "Rate limit hit (IP+VRM). Try again in ~")

	// another caller is unaffected
	w = f.do(http.MethodGet, "/api/dvla?reg=AB12CDE", "", map[string]string{"X-Forwarded-For": "198.51.100.1"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVehicle_DVLAErrorStatus(t *testing.T) {
	f := newFixture(t, "k")

	w := f.do(http.MethodGet, "/api/dvla?reg=ZZ00ZZZ", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":false`)
	assert.Contains(t, w.Body.String(), `"tyres":{"tyre_size_front":null,"tyre_size_rear":null}`)
}

func TestVehicle_ServerErrorHidesDetail(t *testing.T) {
	f := newFixture(t, "k")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/dvla?reg=AB12CDE", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Server error"}`, w.Body.String())
}

func validForm(replyTo string) string {
	return `{"from_name":"Site","subject":"Quote","reply_to":"` + replyTo + `","message":"Hi","reg":"AB12CDE"}`
}

func TestEnquiry_Success(t *testing.T) {
	f := newFixture(t, "k")

	w := f.do(http.MethodPost, "/api/enquiry", validForm("jane@example.com"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Email sent successfully!"}`, w.Body.String())
	assert.Equal(t, 1, f.fake.Calls(upstreamtest.EmailPath))
}

func TestEnquiry_Errors(t *testing.T) {
	tests := []struct {
		name     string
		relayKey string
		body     string
		status   int
		want     string
	}{
		{"not configured", "", validForm("a@b.com"), http.StatusInternalServerError, `{"success":false,"message":"Email key not configured"}`},
		{"honeypot", "k", `{"honey":"x"}`, http.StatusOK, `{"success":true,"message":"ok"}`},
		{"missing fields", "k", `{"from_name":"Site"}`, http.StatusBadRequest, `{"success":false,"message":"Missing fields"}`},
		{"malformed json", "k", `{{{`, http.StatusBadRequest, `{"success":false,"message":"Missing fields"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.relayKey)
			w := f.do(http.MethodPost, "/api/enquiry", tt.body, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
			assert.Zero(t, f.fake.Calls(upstreamtest.EmailPath))
		})
	}
}

func TestEnquiry_RateLimited(t *testing.T) {
	f := newFixture(t, "k")

	for i := 0; i < 3; i++ {
		w := f.do(http.MethodPost, "/api/enquiry", validForm("jane@example.com"), nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.do(http.MethodPost, "/api/enquiry", validForm("jane@example.com"), nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Too many requests. Please try again shortly."}`, w.Body.String())
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
}

func TestEnquiry_RelayFailureIsBadGateway(t *testing.T) {
	f := newFixture(t, "k")
	f.fake.Respond(upstreamtest.EmailPath, http.StatusOK, `{"success":false,"message":"Invalid key"}`)

	w := f.do(http.MethodPost, "/api/enquiry", validForm("a@b.com"), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Invalid key"}`, w.Body.String())
}

func TestEnquiry_BodyTooLarge(t *testing.T) {
	f := newFixture(t, "k")

	huge := `{"from_name":"Site","subject":"Quote","reply_to":"a@b.com","message":"` + strings.Repeat("x", maxEnquiryBody) + `"}`
	w := f.do(http.MethodPost, "/api/enquiry", huge, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Request too large"}`, w.Body.String())
	assert.Zero(t, f.fake.Calls(upstreamtest.EmailPath))
}

func TestEnquiry_RelayUnreachableHidesDetail(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	relayURL := dead.URL + upstreamtest.EmailPath
	dead.Close()

	svc := service.NewEnquiryService(service.EnquiryConfig{
		Relay: email.New(email.Config{URL: relayURL, AccessKey: "k", Timeout: time.Second}),
		Go:    func(fn func()) { fn() },
	})
	r := gin.New()
	r.POST("/api/enquiry", NewEnquiryHandler(svc).Submit)

	req := httptest.NewRequest(http.MethodPost, "/api/enquiry", strings.NewReader(validForm("a@b.com")))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Server error"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "127.0.0.1")
}

func TestSystem_Health(t *testing.T) {
	var down bool
	checker := healthcheck.NewChecker(healthcheck.Config{})
	checker.Register("redis", func(context.Context) error {
		if down {
			return errors.New("unreachable")
		}
		return nil
	})
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "dvla"})

	h := NewSystemHandler(checker, "test", breaker)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/status/breakers", h.CircuitBreakerStatus)

	checker.CheckAll()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, map[string]any{"redis": true}, body["checks"])
	assert.Equal(t, map[string]any{"dvla": "closed"}, body["breakers"])

	down = true
	checker.CheckAll()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status/breakers", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"dvla":{"state":"closed"`)
}
