package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// CORS answers for allowed origins and falls back to the first allowed
// origin otherwise. Preflight requests end here with 204.
func CORS(allowed []string) gin.HandlerFunc {
	fallback := ""
	if len(allowed) > 0 {
		fallback = allowed[0]
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !slices.Contains(allowed, origin) {
			origin = fallback
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Add("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
