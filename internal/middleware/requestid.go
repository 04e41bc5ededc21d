package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	KeyRequestID = "request_id"
	HeaderID     = "X-Request-ID"
)

// RequestID reuses a well formed inbound X-Request-ID or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.Set(KeyRequestID, id)
		c.Header(HeaderID, id)

		c.Next()
	}
}
