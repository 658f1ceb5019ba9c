// Package middleware holds the gin middleware for the control surface.
package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger logs every control surface request with latency and status.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		method := c.Request.Method

		log.Printf("[%s] %s %s %d %v",
			method,
			path,
			c.ClientIP(),
			status,
			latency,
		)
	}
}
