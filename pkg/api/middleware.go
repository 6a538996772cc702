package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the per-request ID.
const RequestIDHeader = "X-Request-ID"

// RequestID echoes a caller-supplied X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("requestID", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// OnlyAllowLocal rejects non-loopback clients.
func OnlyAllowLocal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ip := c.ClientIP(); ip == "127.0.0.1" || ip == "::1" {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// RateLimit answers 429 once the limiter is exhausted.
func RateLimit(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many toggle requests"})
			return
		}
		c.Next()
	}
}
