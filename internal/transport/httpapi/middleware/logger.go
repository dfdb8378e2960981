package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kislikjeka/booksync/pkg/logger"
)

// bodyTap keeps the body of error responses so the request log can name the failure
type bodyTap struct {
	chimiddleware.WrapResponseWriter
	body   bytes.Buffer
	status int
}

func (t *bodyTap) WriteHeader(code int) {
	t.status = code
	t.WrapResponseWriter.WriteHeader(code)
}

func (t *bodyTap) Write(b []byte) (int, error) {
	if t.status >= 400 {
		t.body.Write(b)
	}
	return t.WrapResponseWriter.Write(b)
}

// errorMessage returns the "error" field of a JSON error body
func errorMessage(body []byte) string {
	var resp errorBody
	if json.Unmarshal(body, &resp) == nil {
		return resp.Error
	}
	return ""
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Logger returns a request logging middleware. Each line carries the matched
// route pattern and, for connection routes, the connection id. Health checks
// are logged at debug level.
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tap := &bodyTap{WrapResponseWriter: chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)}
			start := time.Now()

			reqID := chimiddleware.GetReqID(r.Context())
			if reqID != "" {
				r = r.WithContext(context.WithValue(r.Context(), logger.RequestIDKey, reqID))
			}

			defer func() {
				status := tap.Status()
				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", tap.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"remote_addr", r.RemoteAddr,
				}
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						attrs = append(attrs, "route", pattern)
					}
					if connID := rctx.URLParam(ConnectionParam); connID != "" {
						attrs = append(attrs, "connection_id", connID)
					}
				}
				if reqID != "" {
					attrs = append(attrs, "request_id", reqID)
				}
				if status >= 400 {
					if msg := errorMessage(tap.body.Bytes()); msg != "" {
						attrs = append(attrs, "error", msg)
					}
				}

				switch {
				case status >= 500:
					log.Error("HTTP request", attrs...)
				case status >= 400:
					log.Warn("HTTP request", attrs...)
				case strings.HasPrefix(r.URL.Path, "/health"):
					log.Debug("HTTP request", attrs...)
				default:
					log.Info("HTTP request", attrs...)
				}
			}()

			next.ServeHTTP(tap, r)
		})
	}
}
