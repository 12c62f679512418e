package metrics

import (
	"time"

	"github.com/linkscanner/linkscanner/internal/observability"
)

// Process-level metric names
const (
	// CLI commands such as scan and rate-limit reset
	CommandsTotal = "cli_commands_total"

	HealthCheckTotal    = "health_check_total"
	HealthCheckDuration = "health_check_duration_ms"

	ServerStartTime = "server_start_time_seconds"
)

// RecordOperation records one CLI operation and whether it succeeded.
func RecordOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	increment(CommandsTotal, map[string]string{
		"operation": operation,
		"status":    status,
	})
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	_ = observability.TelemetrySystem.Counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": status,
	})
	_ = observability.TelemetrySystem.Histogram(HealthCheckDuration, duration, map[string]string{
		"check": checkName,
	})
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}
