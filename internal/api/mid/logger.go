package mid

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/codereport/pkg/common/logger"
)

// Logger writes information about the request to the logs.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()
		ctx := c.Request.Context()

		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = fmt.Sprintf("%s?%s", path, c.Request.URL.RawQuery)
		}

		log.Info(ctx, "request started", "method", c.Request.Method, "path", path, "remoteaddr", c.ClientIP())

		c.Next()

		log.Info(ctx, "request completed",
			"method", c.Request.Method,
			"path", path,
			"remoteaddr", c.ClientIP(),
			"statuscode", c.Writer.Status(),
			"since", time.Since(now).String(),
		)
	}
}
