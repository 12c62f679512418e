package metrics

import (
	"strconv"

	"github.com/linkscanner/linkscanner/internal/observability"
)

// Error metric names
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

// RecordError records an error envelope returned to a caller.
func RecordError(errorCode string, httpStatus int) {
	increment(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic records a recovered handler panic.
func RecordPanic() {
	increment(PanicsTotalName, nil)
}

// RecordErrorByEndpoint records an error by request path.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	increment(ErrorsByEndpointName, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}

// increment adds one to a counter when telemetry is enabled.
func increment(name string, labels map[string]string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(name, 1, labels)
}
