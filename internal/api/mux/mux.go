// Package mux provides support to bind domain level routes
// to the application mux.
package mux

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/codereport/internal/api"
	"github.com/ahrav/codereport/internal/api/auth"
	"github.com/ahrav/codereport/internal/api/mid"
	"github.com/ahrav/codereport/internal/app/ingest"
	"github.com/ahrav/codereport/internal/domain/report"
	"github.com/ahrav/codereport/pkg/common/logger"
	"github.com/ahrav/codereport/pkg/web"
)

// Options represent optional parameters.
type Options struct {
	corsOrigin []string
}

// WithCORS provides configuration options for CORS.
func WithCORS(origins []string) func(opts *Options) {
	return func(opts *Options) {
		opts.corsOrigin = origins
	}
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ingester accepts archives and starts their report generation.
type Ingester interface {
	Upload(ctx context.Context, req ingest.UploadRequest) (ingest.UploadResult, error)
	UploadFromGitHub(ctx context.Context, repoURL, branch string) (ingest.UploadResult, error)
}

// ReportReader reads report records for polling.
type ReportReader interface {
	Report(ctx context.Context, taskID string) (*report.Report, error)
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build          string
	ServiceName    string
	Log            *logger.Logger
	DB             Pinger
	Ingest         Ingester
	Reports        ReportReader
	MaxUploadBytes int64
	Metrics        api.APIMetrics
	// Auth is nil when authentication is disabled.
	Auth *auth.Auth
}

// RouteAdder defines behavior that sets the routes to bind for an instance
// of the service.
type RouteAdder interface {
	Add(app *web.App, cfg Config)
}

// WebAPI constructs a http.Handler with all application routes bound.
func WebAPI(cfg Config, routeAdder RouteAdder, options ...func(opts *Options)) http.Handler {
	logger := func(ctx context.Context, msg string, args ...any) {
		cfg.Log.Info(ctx, msg, args...)
	}

	app := web.NewApp(
		logger,
		cfg.ServiceName,
		mid.Otel(),
		mid.Logger(cfg.Log),
		mid.Metrics(cfg.Metrics),
		mid.Errors(cfg.Log),
		mid.Panics(),
	)

	var opts Options
	for _, option := range options {
		option(&opts)
	}

	if len(opts.corsOrigin) > 0 {
		app.EnableCORS(opts.corsOrigin)
	}

	routeAdder.Add(app, cfg)

	return app
}

// Authenticated returns the route middleware that enforces cfg.Auth, or
// none when authentication is disabled.
func (cfg Config) Authenticated() []gin.HandlerFunc {
	if cfg.Auth == nil {
		return nil
	}
	return []gin.HandlerFunc{mid.Authenticate(cfg.Auth)}
}
