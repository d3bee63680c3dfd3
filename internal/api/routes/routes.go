// Package routes binds all application routes.
package routes

import (
	"github.com/ahrav/codereport/internal/api/mux"
	"github.com/ahrav/codereport/internal/api/routes/health"
	"github.com/ahrav/codereport/internal/api/routes/reports"
	"github.com/ahrav/codereport/internal/api/routes/uploads"
	"github.com/ahrav/codereport/pkg/web"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(app *web.App, cfg mux.Config) {
	health.Routes(app, health.Config{
		Build: cfg.Build,
		Log:   cfg.Log,
		DB:    cfg.DB,
	})

	authenticated := cfg.Authenticated()

	uploads.Routes(app, uploads.Config{
		Log:            cfg.Log,
		Ingest:         cfg.Ingest,
		Metrics:        cfg.Metrics,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, authenticated...)

	reports.Routes(app, reports.Config{
		Log:     cfg.Log,
		Reports: cfg.Reports,
	}, authenticated...)
}
