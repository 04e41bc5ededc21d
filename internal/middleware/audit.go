package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ossettyres/tyre-api/internal/audit"
)

const keyAudit = "audit"

// AuditInfo is what a handler knows about a request that the audit
// trail should keep.
type AuditInfo struct {
	Kind           audit.Kind
	Subject        string
	UpstreamStatus int
	Detail         string
}

func SetAuditInfo(c *gin.Context, info AuditInfo) {
	c.Set(keyAudit, info)
}

// Audit records every request whose handler called SetAuditInfo.
func Audit(recorder *audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		v, ok := c.Get(keyAudit)
		if !ok {
			return
		}
		info, ok := v.(AuditInfo)
		if !ok {
			return
		}

		recorder.Record(audit.Record{
			Kind:           info.Kind,
			Timestamp:      start,
			RequestID:      c.GetString(KeyRequestID),
			ClientIP:       ClientIP(c),
			Subject:        info.Subject,
			Method:         c.Request.Method,
			Status:         c.Writer.Status(),
			UpstreamStatus: info.UpstreamStatus,
			Detail:         info.Detail,
			Duration:       time.Since(start),
		})
	}
}
