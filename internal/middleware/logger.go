package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Access log line per request. The caller id is set by the RateLimit
// middleware; requests that never reach it log without one.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		requestID := c.GetString("request_id")
		callerID := c.GetString("caller_id")
		if callerID == "" {
			callerID = "-"
		}

		log.Printf("[%s] %s %s - %d - %v - caller=%s ip=%s",
			requestID,
			method,
			path,
			statusCode,
			latency,
			callerID,
			c.ClientIP(),
		)
	}
}
