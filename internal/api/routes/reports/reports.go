// Package reports binds the report polling endpoint.
package reports

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/codereport/internal/api/errs"
	"github.com/ahrav/codereport/internal/api/mux"
	"github.com/ahrav/codereport/internal/domain/report"
	"github.com/ahrav/codereport/pkg/common/logger"
	"github.com/ahrav/codereport/pkg/web"
)

// taskIDPattern matches the lowercase UUIDs issued by the upload routes.
var taskIDPattern = regexp.MustCompile(`^[0-9a-f-]+$`)

// Config contains the dependencies needed by the report handlers.
type Config struct {
	Log     *logger.Logger
	Reports mux.ReportReader
}

// Routes binds all the report endpoints.
func Routes(app *web.App, cfg Config, mw ...gin.HandlerFunc) {
	const version = "v1"

	app.HandlerFunc(http.MethodGet, version, "/reports/:id", get(cfg), mw...)
}

// reportResponse is the polling view of a report. Results are present only
// for SUCCESS and errors carry no detail.
type reportResponse struct {
	TaskID  string          `json:"task_id"`
	Status  report.Status   `json:"status"`
	Message string          `json:"message,omitempty"`
	Results *report.Results `json:"results,omitempty"`
}

// Encode implements the web.Encoder interface.
func (rr reportResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(rr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func toResponse(r *report.Report) reportResponse {
	resp := reportResponse{TaskID: r.ID(), Status: r.Status()}

	switch r.Status() {
	case report.StatusSuccess:
		resp.Results = r.Results()
	case report.StatusInProgress:
		resp.Message = "report generation in progress"
	}

	return resp
}

func get(cfg Config) web.HandlerFunc {
	return func(c *gin.Context) web.Encoder {
		id := c.Param("id")
		if !taskIDPattern.MatchString(id) {
			return errs.Newf(errs.InvalidArgument, "invalid report id %q", id)
		}

		r, err := cfg.Reports.Report(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, report.ErrNotFound) {
				return errs.Newf(errs.NotFound, "report %s not found", id)
			}
			return errs.New(errs.Internal, err)
		}

		return toResponse(r)
	}
}
