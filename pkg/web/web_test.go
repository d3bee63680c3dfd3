package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/codereport/pkg/web"
)

func init() { gin.SetMode(gin.TestMode) }

type accepted struct {
	ID string `json:"id"`
}

func (a accepted) Encode() ([]byte, string, error) {
	data, err := json.Marshal(a)
	return data, "application/json", err
}

func (accepted) HTTPStatus() int { return http.StatusAccepted }

type failure struct{ error }

func (failure) Encode() ([]byte, string, error) { return nil, "", nil }

func noopLog(context.Context, string, ...any) {}

func serve(app *web.App, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

func TestApp_HandlerFunc(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) gin.HandlerFunc {
		return func(c *gin.Context) {
			order = append(order, name)
			c.Next()
		}
	}

	app := web.NewApp(noopLog, "test", mw("app"))
	app.HandlerFunc(http.MethodPost, "v1", "/things", func(c *gin.Context) web.Encoder {
		order = append(order, "handler")
		return accepted{ID: "42"}
	}, mw("route"))

	rec := serve(app, http.MethodPost, "/v1/things", nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"id":"42"}`, rec.Body.String())
	assert.Equal(t, []string{"app", "route", "handler"}, order)
}

func TestApp_HandlerFuncNoMid(t *testing.T) {
	t.Parallel()

	called := false
	app := web.NewApp(noopLog, "test", func(c *gin.Context) { called = true })
	app.HandlerFuncNoMid(http.MethodGet, "v1", "/liveness", func(c *gin.Context) web.Encoder { return nil })

	rec := serve(app, http.MethodGet, "/v1/liveness", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
}

func TestApp_ErrorIsRecorded(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("boom")
	var got error
	app := web.NewApp(noopLog, "test", func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			got = c.Errors.Last().Err
			c.Status(http.StatusTeapot)
		}
	})
	app.HandlerFunc(http.MethodGet, "", "/fail", func(c *gin.Context) web.Encoder { return failure{sentinel} })

	rec := serve(app, http.MethodGet, "/fail", nil)

	require.ErrorIs(t, got, sentinel)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestApp_CORS(t *testing.T) {
	t.Parallel()

	app := web.NewApp(noopLog, "test")
	app.EnableCORS([]string{"https://ui.example.com"})
	app.HandlerFunc(http.MethodGet, "v1", "/x", func(c *gin.Context) web.Encoder { return accepted{} })

	rec := serve(app, http.MethodOptions, "/v1/x", http.Header{"Origin": {"https://ui.example.com"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://ui.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(app, http.MethodGet, "/v1/x", http.Header{"Origin": {"https://evil.example.com"}})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
