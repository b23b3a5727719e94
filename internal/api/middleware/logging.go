package middleware

import (
	"time"

	"github.com/bhandras/ussdpilot/pkg/logger"
	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		// The token query parameter must not reach the log.
		if raw != "" && c.Query("token") == "" {
			path = path + "?" + raw
		}

		if status >= 500 {
			logger.Warnf("[api] [%s] %s - %d (%v)", c.Request.Method, path, status, latency)
			return
		}
		logger.Infof("[api] [%s] %s - %d (%v)", c.Request.Method, path, status, latency)
	}
}
