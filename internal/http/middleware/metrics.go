package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/sso-auth/internal/metrics"
)

// Metrics records request counts and latency per route pattern. Unmatched
// requests share one label so arbitrary paths cannot grow the series set.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
