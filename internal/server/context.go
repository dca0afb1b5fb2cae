package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

var (
	// ErrStop is a sentinel error used by middleware to stop the chain
	ErrStop = errors.New("server: stop middleware chain")
)

// Stop returns the sentinel error to halt middleware chain execution
func Stop() error {
	return ErrStop
}

// HTTPError is a handler error with a status code. Its message is sent to
// the client.
type HTTPError struct {
	Code    int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Errorf builds an HTTPError
func Errorf(code int, format string, args ...any) *HTTPError {
	return &HTTPError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Ctx is passed through routing, middleware and handlers
type Ctx interface {
	// === Request ===
	Request() *http.Request
	Context() context.Context
	Path() string
	Method() string
	Query() url.Values
	Param(key string) string  // route param, panics if missing
	ParamInt(key string) int  // route param parsed by an [x:int] route
	ClientIP() string

	// === Response ===
	Writer() http.ResponseWriter // raw writer, for upgrades
	StatusCode() int
	Header() http.Header
	SetHeader(key, val string)
	JSON(code int, v any) error
	Blob(code int, contentType string, data []byte) error
	Error(code int, msg string) error // writes {"error": msg}
	Written() bool

	Logger() *zap.Logger
}

type ctxImpl struct {
	req        *http.Request
	w          http.ResponseWriter
	params     map[string]string
	statusCode int
	written    bool
	logger     *zap.Logger
}

func newContext(w http.ResponseWriter, r *http.Request, log *zap.Logger) *ctxImpl {
	return &ctxImpl{
		req:        r,
		w:          w,
		params:     make(map[string]string),
		statusCode: http.StatusOK,
		logger: log.With(
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method),
		),
	}
}

// === Request Methods ===

func (c *ctxImpl) Request() *http.Request { return c.req }

func (c *ctxImpl) Context() context.Context { return c.req.Context() }

func (c *ctxImpl) Path() string { return c.req.URL.Path }

func (c *ctxImpl) Method() string { return c.req.Method }

func (c *ctxImpl) Query() url.Values { return c.req.URL.Query() }

func (c *ctxImpl) Param(key string) string {
	val, ok := c.params[key]
	if !ok {
		panic("server: route parameter '" + key + "' not found")
	}
	return val
}

func (c *ctxImpl) ParamInt(key string) int {
	n, err := strconv.Atoi(c.Param(key))
	if err != nil {
		panic("server: route parameter '" + key + "' is not an int")
	}
	return n
}

func (c *ctxImpl) ClientIP() string { return clientIP(c.req) }

// === Response Methods ===

func (c *ctxImpl) Writer() http.ResponseWriter {
	// The caller takes over the response
	c.written = true
	return c.w
}

func (c *ctxImpl) StatusCode() int { return c.statusCode }

func (c *ctxImpl) Header() http.Header { return c.w.Header() }

func (c *ctxImpl) SetHeader(key, val string) { c.w.Header().Set(key, val) }

func (c *ctxImpl) writeHeader(code int) {
	c.statusCode = code
	c.written = true
	c.w.WriteHeader(code)
}

func (c *ctxImpl) JSON(code int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(code, "application/json", append(data, '\n'))
}

func (c *ctxImpl) Blob(code int, contentType string, data []byte) error {
	c.w.Header().Set("Content-Type", contentType)
	c.w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	c.writeHeader(code)
	if c.req.Method == http.MethodHead {
		return nil
	}
	_, err := c.w.Write(data)
	return err
}

func (c *ctxImpl) Error(code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

func (c *ctxImpl) Written() bool { return c.written }

func (c *ctxImpl) Logger() *zap.Logger { return c.logger }
