package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ratewarden/ratewarden/internal/admission"
	"github.com/ratewarden/ratewarden/internal/analytics"
	"github.com/ratewarden/ratewarden/internal/behavior"
	"github.com/ratewarden/ratewarden/internal/models"
)

// RateLimit runs the admission check for every request, surfaces the
// decision as rate-limit headers, and feeds the behavior tracker and
// analytics aggregator after the request completes.
func RateLimit(engine *admission.Engine, tracker *behavior.Tracker, aggregator *analytics.Aggregator, quota models.Quota) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		callerID := c.GetHeader("X-API-Key")
		if callerID == "" {
			callerID = c.ClientIP()
		}

		path := c.Request.URL.Path
		method := c.Request.Method

		decision, release, err := engine.Check(c.Request.Context(), callerID, path, method, quota)
		if err != nil {
			// Invalid input is the only error the engine surfaces
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("caller_id", callerID)

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetTime.UnixMilli()))
		if decision.Tier != "" {
			c.Header("X-RateLimit-Tier", decision.Tier)
		}

		if !decision.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", decision.RetryAfter))

			body := gin.H{
				"error":       "Rate limit exceeded",
				"tier":        decision.Tier,
				"limit":       decision.Limit,
				"retry_after": decision.RetryAfter,
			}
			if decision.Blocked {
				body["error"] = "Request blocked due to suspicious activity"
				body["blocked"] = true
			}

			c.JSON(http.StatusTooManyRequests, body)
			c.Abort()

			tracker.Observe(callerID, path, method, false)
			aggregator.RecordOutcome(callerID, path, method, decision.Tier, false, decision.Blocked, int(time.Since(start).Milliseconds()))
			return
		}

		c.Next()

		if release != nil {
			release()
		}

		tracker.Observe(callerID, path, method, true)
		aggregator.RecordOutcome(callerID, path, method, decision.Tier, true, false, int(time.Since(start).Milliseconds()))
	}
}
