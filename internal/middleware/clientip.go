package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const KeyClientIP = "client_ip"

// ClientIP returns the caller address as reported by the fronting proxy:
// the first X-Forwarded-For entry, then X-Real-IP, else "unknown".
func ClientIP(c *gin.Context) string {
	if ip := c.GetString(KeyClientIP); ip != "" {
		return ip
	}
	ip := clientIP(c.Request)
	c.Set(KeyClientIP, ip)
	return ip
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return "unknown"
}
