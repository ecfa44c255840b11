package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// A panic anywhere below must not take the admission path down with it.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := c.GetString("request_id")
				log.Printf("[%s] PANIC on %s %s: %v",
					requestID, c.Request.Method, c.Request.URL.Path, err)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Internal Server Error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
