package mid

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestMetrics records per-route request counts and latencies.
type RequestMetrics interface {
	IncRequestsTotal(ctx context.Context, method, path string, status int)
	ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration)
}

// Metrics updates request metrics once the response status is known.
// Unmatched routes are recorded under a single path to bound cardinality.
func Metrics(m RequestMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := c.Request.Context()
		m.IncRequestsTotal(ctx, c.Request.Method, route, c.Writer.Status())
		m.ObserveRequestDuration(ctx, c.Request.Method, route, time.Since(start))
	}
}
