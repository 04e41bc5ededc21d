// Package upstream holds the HTTP clients for the vehicle data providers.
// Every call is throttled, guarded by a circuit breaker and timed.
package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ossettyres/tyre-api/internal/circuitbreaker"
	"github.com/ossettyres/tyre-api/internal/metrics"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const maxBody = 1 << 20

type Config struct {
	URL               string
	APIKey            string
	AuthScheme        string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxFailures       int
	OpenTimeout       time.Duration
}

// Result is an upstream reply. Data holds the decoded JSON body, or JSON
// null when the body was not JSON.
type Result struct {
	Status int
	Data   json.RawMessage
}

func (r Result) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

var (
	errServerStatus = errors.New("upstream server error")
	// errAbandoned marks calls cut short by the caller's own context.
	errAbandoned = errors.New("request abandoned by caller")
)

func isAbandoned(err error) bool {
	return errors.Is(err, errAbandoned)
}

type client struct {
	name       string
	url        string
	apiKey     string
	authScheme string
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	metrics    *metrics.Metrics
}

func newClient(name string, cfg Config, m *metrics.Metrics) *client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &client{
		name:       name,
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		authScheme: cfg.AuthScheme,
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:        name,
			MaxFailures: cfg.MaxFailures,
			Timeout:     cfg.OpenTimeout,
			Ignore:      isAbandoned,
		}),
		metrics: m,
	}
}

func (c *client) configured() bool {
	return c.apiKey != ""
}

func (c *client) setAuth(req *http.Request) {
	if c.authScheme == "bearer" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return
	}
	req.Header.Set("x-api-key", c.apiKey)
}

// do sends the request built by build. Transport errors and 5xx replies
// count against the breaker; 5xx replies are still returned as results.
func (c *client) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (Result, error) {
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		c.observe("throttled", start)
		return Result{}, errors.Wrapf(err, "%s throttle", c.name)
	}

	var res Result
	err := c.breaker.Call(func() error {
		req, err := build(ctx)
		if err != nil {
			return err
		}
		c.setAuth(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return classify(ctx, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return classify(ctx, err)
		}

		res.Status = resp.StatusCode
		res.Data = decode(body)

		if resp.StatusCode >= 500 {
			return errServerStatus
		}
		return nil
	})

	switch {
	case err == nil:
		c.observe("ok", start)
		return res, nil
	case errors.Is(err, errServerStatus):
		c.observe("server_error", start)
		return res, nil
	case isAbandoned(err):
		c.observe("abandoned", start)
		return Result{}, errors.Wrapf(ctx.Err(), "%s request", c.name)
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		c.observe("circuit_open", start)
		return Result{}, err
	default:
		c.observe("error", start)
		return Result{}, errors.Wrapf(err, "%s request", c.name)
	}
}

// classify tags transport errors caused by the caller's context so the
// breaker does not count them against the upstream.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.WithMessage(errAbandoned, err.Error())
	}
	return err
}

func (c *client) observe(outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamCalls.WithLabelValues(c.name, outcome).Inc()
	c.metrics.UpstreamLatency.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
}

func decode(body []byte) json.RawMessage {
	if len(body) == 0 || !json.Valid(body) {
		return json.RawMessage("null")
	}
	return json.RawMessage(body)
}

func (c *client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}
