package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ossettyres/tyre-api/internal/audit"
	"github.com/ossettyres/tyre-api/internal/email"
	"github.com/ossettyres/tyre-api/internal/middleware"
	"github.com/ossettyres/tyre-api/internal/service"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Enquiry forms are a few kilobytes at most.
const maxEnquiryBody = 64 << 10

type EnquiryHandler struct {
	service *service.EnquiryService
}

func NewEnquiryHandler(service *service.EnquiryService) *EnquiryHandler {
	return &EnquiryHandler{service: service}
}

// Submit handles POST /api/enquiry
func (h *EnquiryHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	info := middleware.AuditInfo{Kind: audit.KindEnquiry}
	defer func() { middleware.SetAuditInfo(c, info) }()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxEnquiryBody)
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			info.Detail = "body too large"
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": "Request too large"})
			return
		}
		// an unreadable body is handled like an empty form
		zerolog.Ctx(ctx).Warn().Err(err).Msg("reading enquiry body")
		body = nil
	}
	enquiry := service.ParseEnquiry(body)

	res, err := h.service.Submit(ctx, middleware.ClientIP(c), enquiry)
	if err != nil {
		var verr *service.ValidationError
		var limited *service.RateLimitError
		switch {
		case errors.Is(err, email.ErrNotConfigured):
			info.Detail = "relay not configured"
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Email key not configured"})
		case errors.As(err, &verr):
			info.Detail = verr.Message
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": verr.Message})
		case errors.As(err, &limited):
			info.Detail = "rate limited: " + limited.Scope
			c.Header("X-RateLimit-Limit", strconv.Itoa(limited.Limit))
			c.Header("Retry-After", strconv.Itoa(limited.Window))
			c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "message": limited.Error()})
		default:
			zerolog.Ctx(ctx).Error().Err(err).Msg("enquiry failed")
			info.Detail = err.Error()
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Server error"})
		}
		return
	}

	info.Subject = res.Email
	if res.Email == "" {
		info.Detail = "honeypot"
	} else {
		info.UpstreamStatus = res.Status
	}

	c.JSON(res.Status, res.Body)
}
