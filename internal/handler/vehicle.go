package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ossettyres/tyre-api/internal/audit"
	"github.com/ossettyres/tyre-api/internal/middleware"
	"github.com/ossettyres/tyre-api/internal/service"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const maxLookupBody = 4 << 10

type VehicleHandler struct {
	service *service.VehicleService
}

func NewVehicleHandler(service *service.VehicleService) *VehicleHandler {
	return &VehicleHandler{service: service}
}

// Get handles GET /api/dvla?reg=AB12CDE
func (h *VehicleHandler) Get(c *gin.Context) {
	h.lookup(c, c.Query("reg"))
}

// Post handles POST /api/dvla with {"registrationNumber": "AB12CDE"}
func (h *VehicleHandler) Post(c *gin.Context) {
	var req struct {
		RegistrationNumber string `json:"registrationNumber"`
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxLookupBody)
	// Unreadable or oversized bodies are treated as an empty request
	_ = c.ShouldBindJSON(&req)

	h.lookup(c, req.RegistrationNumber)
}

func (h *VehicleHandler) lookup(c *gin.Context, input string) {
	ctx := c.Request.Context()
	info := middleware.AuditInfo{Kind: audit.KindLookup, Subject: input}
	defer func() { middleware.SetAuditInfo(c, info) }()

	res, err := h.service.Lookup(ctx, middleware.ClientIP(c), input)
	if err != nil {
		var verr *service.ValidationError
		var cooldown *service.CooldownError
		switch {
		case errors.As(err, &verr):
			info.Detail = verr.Message
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
		case errors.As(err, &cooldown):
			info.Detail = "cooldown: " + string(cooldown.Decision.Rule)
			c.Header("Retry-After", strconv.Itoa(cooldown.Decision.RetryAfterSeconds()))
			c.Header("X-RateLimit-Policy", cooldown.Policy)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"ok":      false,
				"error":   http.StatusTooManyRequests,
				"message": cooldown.Error(),
			})
		default:
			zerolog.Ctx(ctx).Error().Err(err).Msg("vehicle lookup failed")
			info.Detail = err.Error()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		}
		return
	}

	info.Subject = res.VRM
	info.UpstreamStatus = res.UpstreamStatus
	if res.Cached {
		info.Detail = "cache hit"
	}

	c.JSON(res.Status, res.Body)
}
