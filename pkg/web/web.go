// Package web is a small framework over gin that lets handlers return a
// value to encode, or an error for the error middleware to render.
package web

import (
	"context"
	"net/http"
	"path"
	"slices"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Encoder defines behavior that can encode a data model and provide the
// content type for that encoding.
type Encoder interface {
	Encode() (data []byte, contentType string, err error)
}

// HandlerFunc represents a function that handles a http request. Returning
// a value that also implements error aborts the request with that error.
type HandlerFunc func(c *gin.Context) Encoder

// Logger represents a function that will be called to add information
// to the logs.
type Logger func(ctx context.Context, msg string, args ...any)

// App is the entrypoint into our application and what configures our context
// object for each of our http handlers.
type App struct {
	log     Logger
	engine  *gin.Engine
	handler http.Handler
	mw      []gin.HandlerFunc
	origins []string
}

// NewApp creates an App value that handles a set of routes for the
// application. The whole engine is wrapped by otelhttp, so every request
// carries a server span.
func NewApp(log Logger, serviceName string, mw ...gin.HandlerFunc) *App {
	engine := gin.New()
	engine.ContextWithFallback = true
	engine.HandleMethodNotAllowed = true

	return &App{
		log:     log,
		engine:  engine,
		handler: otelhttp.NewHandler(engine, serviceName),
		mw:      mw,
	}
}

// ServeHTTP implements the http.Handler interface.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// EnableCORS enables CORS preflight requests to work in the middleware. It
// prevents the MethodNotAllowedHandler from being called. It must be called
// before any route is added.
func (a *App) EnableCORS(origins []string) {
	a.origins = origins
	a.mw = append([]gin.HandlerFunc{a.corsHandler}, a.mw...)

	a.engine.OPTIONS("/*path", a.corsHandler)
}

func (a *App) corsHandler(c *gin.Context) {
	origin := c.GetHeader("Origin")
	if origin != "" && (slices.Contains(a.origins, "*") || slices.Contains(a.origins, origin)) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		h.Set("Access-Control-Max-Age", "86400")
	}

	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusOK)
	}
}

// HandlerFuncNoMid sets a handler function for a given HTTP method and path
// pair to the application server mux. Does not include the application
// middleware.
func (a *App) HandlerFuncNoMid(method string, group string, p string, handlerFunc HandlerFunc) {
	a.engine.Handle(method, path.Join("/", group, p), a.wrap(handlerFunc))
}

// HandlerFunc sets a handler function for a given HTTP method and path pair
// to the application server mux. Route middleware runs after the
// application middleware.
func (a *App) HandlerFunc(method string, group string, p string, handlerFunc HandlerFunc, mw ...gin.HandlerFunc) {
	chain := make([]gin.HandlerFunc, 0, len(a.mw)+len(mw)+1)
	chain = append(chain, a.mw...)
	chain = append(chain, mw...)
	chain = append(chain, a.wrap(handlerFunc))

	a.engine.Handle(method, path.Join("/", group, p), chain...)
}

func (a *App) wrap(handlerFunc HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := handlerFunc(c)

		if err, ok := resp.(error); ok {
			_ = c.Error(err)
			c.Abort()
			return
		}

		if err := Respond(c, resp); err != nil {
			a.log(c.Request.Context(), "web-respond", "ERROR", err)
		}
	}
}
