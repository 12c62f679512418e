package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/linkscanner/linkscanner/internal/observability"
)

// HTTP metric names.
const (
	HTTPRequestsTotal     = "http_requests_total"
	HTTPRequestDurationMS = "http_request_duration_ms"
	HTTPRequestSizeBytes  = "http_request_size_bytes"
	HTTPResponseSizeBytes = "http_response_size_bytes"
	HTTPErrorsTotal       = "http_errors_total"
)

const unmatchedEndpointLabel = "/unknown"

// knownEndpoints bounds the endpoint label for requests chi did not route.
var knownEndpoints = map[string]string{
	"/":               "/",
	"/scan":           "/scan",
	"/enhanced-scan":  "/enhanced-scan",
	"/rate-limits":    "/rate-limits",
	"/version":        "/version",
	"/metrics":        "/metrics",
	"/health":         "/health/*",
	"/health/live":    "/health/*",
	"/health/ready":   "/health/*",
	"/health/startup": "/health/*",
	"/admin/signal":   "/admin/signal",
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.written += int64(n)
	return n, err
}

// endpointLabel prefers the chi route pattern and falls back to a fixed set
// of known paths so arbitrary URLs never become label values.
func endpointLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if label, ok := knownEndpoints[r.URL.Path]; ok {
		return label
	}
	return unmatchedEndpointLabel
}

func errorClass(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return ""
	}
}

// quietEndpoint reports routes whose completion is logged at debug.
func quietEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, "/health") || endpoint == "/metrics"
}

// RequestMetrics emits per-request counters, durations and sizes, then logs
// the completed request.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sys := observability.TelemetrySystem
		if sys == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		endpoint := endpointLabel(r)
		status := strconv.Itoa(rec.status)
		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}
		sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}

		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		_ = sys.Counter(HTTPRequestsTotal, 1, labels)
		_ = sys.Histogram(HTTPRequestDurationMS, elapsed, labels)
		_ = sys.Gauge(HTTPRequestSizeBytes, float64(requestSize), sizeLabels)
		_ = sys.Gauge(HTTPResponseSizeBytes, float64(rec.written), sizeLabels)

		if class := errorClass(rec.status); class != "" {
			_ = sys.Counter(HTTPErrorsTotal, 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": class,
			})
		}

		logger := observability.ServerLogger
		if logger == nil {
			return
		}
		log := logger.Info
		if quietEndpoint(endpoint) {
			log = logger.Debug
		}
		log("HTTP request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
			zap.Int64("request_size", requestSize),
			zap.Int64("response_size", rec.written),
			zap.String("requestID", GetRequestID(r.Context())),
		)
	})
}
