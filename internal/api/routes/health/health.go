// Package health binds the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/codereport/internal/api/errs"
	"github.com/ahrav/codereport/pkg/common/logger"
	"github.com/ahrav/codereport/pkg/web"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build string
	Log   *logger.Logger
	DB    Pinger
}

// Routes binds all the health check endpoints. They bypass the application
// middleware so probes stay out of the logs and metrics.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	app.HandlerFuncNoMid(http.MethodGet, version, "/liveness", liveness(cfg))
	app.HandlerFuncNoMid(http.MethodGet, version, "/readiness", readiness(cfg))
}

// healthResponse represents the response for health check.
type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build"`
}

// Encode implements the web.Encoder interface.
func (hr healthResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(hr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func liveness(cfg Config) web.HandlerFunc {
	return func(c *gin.Context) web.Encoder {
		return healthResponse{
			Status: "ok",
			Build:  cfg.Build,
		}
	}
}

// readyResponse represents the response for readiness check.
type readyResponse struct {
	Status string `json:"status"`
}

// Encode implements the web.Encoder interface.
func (rr readyResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(rr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// readiness fails while the record store is unreachable. No middleware runs
// for this route, so the error is rendered here.
func readiness(cfg Config) web.HandlerFunc {
	return func(c *gin.Context) web.Encoder {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := cfg.DB.Ping(ctx); err != nil {
			cfg.Log.Info(ctx, "readiness failure", "ERROR", err)
			return unavailable{err: errs.Newf(errs.Unavailable, "database not ready")}
		}

		return readyResponse{
			Status: "ok",
		}
	}
}

// unavailable is an error response that is encoded directly rather than
// handed to the error middleware, so it must not implement error.
type unavailable struct {
	err *errs.Error
}

// HTTPStatus implements the web package httpStatus interface.
func (u unavailable) HTTPStatus() int { return u.err.HTTPStatus() }

// Encode implements the web.Encoder interface.
func (u unavailable) Encode() ([]byte, string, error) { return u.err.Encode() }
