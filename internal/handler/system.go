package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ossettyres/tyre-api/internal/circuitbreaker"
	"github.com/ossettyres/tyre-api/internal/healthcheck"
)

// Handles system-related endpoints
type SystemHandler struct {
	checker  *healthcheck.Checker
	breakers []*circuitbreaker.CircuitBreaker
	version  string
	started  time.Time
}

func NewSystemHandler(checker *healthcheck.Checker, version string, breakers ...*circuitbreaker.CircuitBreaker) *SystemHandler {
	return &SystemHandler{
		checker:  checker,
		breakers: breakers,
		version:  version,
		started:  time.Now(),
	}
}

// Health reports dependency checks and breaker states. Anything short of
// fully healthy answers 503.
func (h *SystemHandler) Health(c *gin.Context) {
	overall := h.checker.OverallHealth()

	checks := make(map[string]bool)
	for name, st := range h.checker.GetAllStatus() {
		checks[name] = st.IsHealthy
	}

	statusCode := http.StatusOK
	if overall != healthcheck.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall.String(),
		"service":   "tyre-api",
		"version":   h.version,
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(h.started).Seconds(),
		"checks":    checks,
		"breakers":  h.breakerStates(),
	})
}

// Returns the status of all circuit breakers
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	statuses := make(map[string]circuitbreaker.Metrics, len(h.breakers))
	for _, b := range h.breakers {
		statuses[b.Name()] = b.Metrics()
	}

	c.JSON(http.StatusOK, statuses)
}

// Returns the detailed status of every dependency probe
func (h *SystemHandler) DependencyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.checker.GetAllStatus())
}

func (h *SystemHandler) breakerStates() map[string]string {
	states := make(map[string]string, len(h.breakers))
	for _, b := range h.breakers {
		states[b.Name()] = b.State().String()
	}
	return states
}
