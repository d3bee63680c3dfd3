package mid

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/codereport/internal/api/errs"
)

// Panics recovers from panics and converts the panic to an error so it is
// reported in Metrics and handled in Errors.
func Panics() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				trace := debug.Stack()
				_ = c.Error(errs.Newf(errs.Internal, "PANIC [%v] TRACE[%s]", rec, string(trace)))
				c.Abort()
			}
		}()

		c.Next()
	}
}
