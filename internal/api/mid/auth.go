package mid

import (
	"github.com/gin-gonic/gin"

	"github.com/ahrav/codereport/internal/api/auth"
	"github.com/ahrav/codereport/internal/api/errs"
)

// Authenticate validates the bearer token and stores its claims in the
// request context.
func Authenticate(a *auth.Auth) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			_ = c.Error(errs.New(errs.Unauthenticated, err))
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(auth.SetClaims(c.Request.Context(), claims))
		c.Next()
	}
}
