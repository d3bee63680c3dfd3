// Package uploads binds the archive upload endpoints.
package uploads

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/codereport/internal/api"
	"github.com/ahrav/codereport/internal/api/errs"
	"github.com/ahrav/codereport/internal/api/mux"
	"github.com/ahrav/codereport/internal/app/ingest"
	"github.com/ahrav/codereport/internal/app/reports"
	"github.com/ahrav/codereport/internal/domain/archive"
	"github.com/ahrav/codereport/pkg/common/logger"
	"github.com/ahrav/codereport/pkg/common/validate"
	"github.com/ahrav/codereport/pkg/web"
)

const (
	sourceUpload = "upload"
	sourceGitHub = "github"

	// multipartOverhead covers the form boundaries and headers around the
	// file part.
	multipartOverhead = 1 << 20
)

// Config contains the dependencies needed by the upload handlers.
type Config struct {
	Log            *logger.Logger
	Ingest         mux.Ingester
	Metrics        api.APIMetrics
	MaxUploadBytes int64
}

// Routes binds all the upload endpoints.
func Routes(app *web.App, cfg Config, mw ...gin.HandlerFunc) {
	const version = "v1"

	app.HandlerFunc(http.MethodPost, version, "/upload", upload(cfg), mw...)
	app.HandlerFunc(http.MethodPost, version, "/upload-from-github", uploadFromGitHub(cfg), mw...)
}

// uploadResponse is returned for an accepted archive upload.
type uploadResponse struct {
	TaskID string `json:"task_id"`
}

// Encode implements the web.Encoder interface.
func (ur uploadResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(ur)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// HTTPStatus implements the httpStatus interface to set the response status code.
func (uploadResponse) HTTPStatus() int { return http.StatusAccepted }

func upload(cfg Config) web.HandlerFunc {
	return func(c *gin.Context) web.Encoder {
		ctx := c.Request.Context()
		cfg.Metrics.IncUploadRequestsTotal(ctx, sourceUpload)

		if cfg.MaxUploadBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxUploadBytes+multipartOverhead)
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return cfg.fail(c, sourceUpload, formError(err))
		}

		f, err := fh.Open()
		if err != nil {
			return cfg.fail(c, sourceUpload, errs.New(errs.Internal, fmt.Errorf("opening uploaded file: %w", err)))
		}
		defer f.Close()

		res, err := cfg.Ingest.Upload(ctx, ingest.UploadRequest{
			Filename: fh.Filename,
			Size:     fh.Size,
			Body:     f,
		})
		if err != nil {
			return cfg.fail(c, sourceUpload, toAppError(err))
		}

		return uploadResponse{TaskID: res.TaskID}
	}
}

// githubRequest is the payload for ingesting a GitHub branch.
type githubRequest struct {
	RepoURL string `json:"repo_url" validate:"required,http_url"`
	Branch  string `json:"branch" validate:"omitempty,max=255,excludesall=~^:?*[\\"`
}

// githubResponse is returned for an accepted GitHub ingest.
type githubResponse struct {
	Message    string `json:"message"`
	ObjectName string `json:"object_name"`
	Bucket     string `json:"bucket"`
	TaskID     string `json:"task_id"`
}

// Encode implements the web.Encoder interface.
func (gr githubResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(gr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// HTTPStatus implements the httpStatus interface to set the response status code.
func (githubResponse) HTTPStatus() int { return http.StatusAccepted }

func uploadFromGitHub(cfg Config) web.HandlerFunc {
	return func(c *gin.Context) web.Encoder {
		ctx := c.Request.Context()
		cfg.Metrics.IncUploadRequestsTotal(ctx, sourceGitHub)

		var req githubRequest
		if err := json.NewDecoder(io.LimitReader(c.Request.Body, 1<<16)).Decode(&req); err != nil {
			return cfg.fail(c, sourceGitHub, errs.New(errs.InvalidArgument, fmt.Errorf("decoding request: %w", err)))
		}
		if err := validate.Check(req); err != nil {
			return cfg.fail(c, sourceGitHub, errs.New(errs.InvalidArgument, err))
		}
		if req.Branch == "" {
			req.Branch = "main"
		}

		res, err := cfg.Ingest.UploadFromGitHub(ctx, req.RepoURL, req.Branch)
		if err != nil {
			return cfg.fail(c, sourceGitHub, toAppError(err))
		}

		return githubResponse{
			Message:    fmt.Sprintf("repository %q (branch %q) stored for analysis", req.RepoURL, req.Branch),
			ObjectName: res.ObjectName,
			Bucket:     res.Bucket,
			TaskID:     res.TaskID,
		}
	}
}

func (cfg Config) fail(c *gin.Context, source string, appErr *errs.Error) *errs.Error {
	cfg.Metrics.IncUploadRequestErrors(c.Request.Context(), source, appErr.Code.String())
	return appErr
}

func formError(err error) *errs.Error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errs.Newf(errs.TooLarge, "archive exceeds the %d byte limit", maxErr.Limit-multipartOverhead)
	}
	// The multipart reader does not always wrap the limit error.
	if strings.Contains(err.Error(), "request body too large") {
		return errs.Newf(errs.TooLarge, "archive exceeds the upload limit")
	}
	if errors.Is(err, http.ErrMissingFile) || strings.Contains(err.Error(), "multipart") {
		return errs.Newf(errs.InvalidArgument, "expected a multipart form with a \"file\" field")
	}
	return errs.New(errs.Internal, fmt.Errorf("reading upload: %w", err))
}

// toAppError maps ingest failures to API errors. Anything unrecognized is
// internal and is answered with a generic message.
func toAppError(err error) *errs.Error {
	switch {
	case errors.Is(err, archive.ErrTooLarge):
		return errs.New(errs.TooLarge, err)
	case errors.Is(err, archive.ErrNotZipFilename),
		errors.Is(err, archive.ErrInvalidArchive),
		errors.Is(err, ingest.ErrInvalidSource):
		return errs.New(errs.InvalidArgument, err)
	case errors.Is(err, ingest.ErrFetchFailed):
		return errs.New(errs.Upstream, err)
	case errors.Is(err, reports.ErrShuttingDown):
		return errs.New(errs.Unavailable, err)
	default:
		return errs.New(errs.Internal, err)
	}
}
