package mid

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/codereport/internal/api/errs"
	"github.com/ahrav/codereport/pkg/common/logger"
	"github.com/ahrav/codereport/pkg/web"
)

// Errors handles errors coming out of the call chain. Internal errors are
// logged with their cause and answered with a generic message.
func Errors(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		ctx := c.Request.Context()

		appErr := errs.GetError(err)
		if appErr == nil {
			appErr = errs.Newf(errs.Internal, "%s", err)
		}

		log.Error(ctx, "handled error during request",
			"err", err,
			"source_err_file", path.Base(appErr.FileName),
			"source_err_func", path.Base(appErr.FuncName))

		if appErr.Code == errs.Internal {
			appErr = errs.Newf(errs.Internal, "%s", http.StatusText(http.StatusInternalServerError))
		}

		if err := web.Respond(c, appErr); err != nil {
			log.Error(ctx, "writing error response", "err", err)
		}
	}
}
