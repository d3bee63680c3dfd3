package mid

import (
	"github.com/gin-gonic/gin"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codereport/pkg/common/otel"
)

// TraceIDHeader carries the request's trace id back to the client.
const TraceIDHeader = "X-Trace-Id"

// Otel names the server span after the matched route and returns the trace
// id to the client. The span itself is started by the otelhttp handler.
func Otel() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if route := c.FullPath(); route != "" {
			span := trace.SpanFromContext(ctx)
			span.SetName(c.Request.Method + " " + route)
			span.SetAttributes(semconv.HTTPRoute(route))
		}
		c.Header(TraceIDHeader, otel.GetTraceID(ctx))

		c.Next()
	}
}
