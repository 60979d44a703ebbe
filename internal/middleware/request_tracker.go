package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/dashmetrics/backend/internal/observability"
)

// RequestTracker records request metrics and writes one access log line per
// request.
type RequestTracker struct {
	metrics *observability.Metrics
	log     logrus.FieldLogger
}

// NewRequestTracker creates a new request tracker middleware
func NewRequestTracker(metrics *observability.Metrics, log logrus.FieldLogger) *RequestTracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RequestTracker{metrics: metrics, log: log}
}

// Middleware returns an HTTP middleware that tracks request metrics
func (rt *RequestTracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			elapsed := time.Since(start)
			route := routePattern(r)

			if rt.metrics != nil {
				rt.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
				rt.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
			}

			entry := rt.log.WithFields(logrus.Fields{
				"request_id":     chimw.GetReqID(r.Context()),
				"method":         r.Method,
				"path":           r.URL.Path,
				"route":          route,
				"status":         rw.statusCode,
				"response_bytes": rw.size,
				"duration_ms":    elapsed.Milliseconds(),
			})
			if rw.statusCode >= http.StatusInternalServerError {
				entry.Warn("request completed with server error")
			} else {
				entry.Debug("request completed")
			}
		})
	}
}

// routePattern keeps metric labels bounded by using the matched chi route
// instead of the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush lets long-poll responses stream through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
