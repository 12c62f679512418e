package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// fallbackMetricsPort is reported when an ephemeral exporter port cannot be
// read back from the listener.
const fallbackMetricsPort = 9090

var (
	// TelemetrySystem receives counters, gauges and histograms from
	// internal/metrics and the request middleware. Nil disables emission.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the exposition proxied by GET /metrics.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts a Prometheus exporter on port (0 picks a free port) and
// installs a telemetry system that emits to it. Metric names are prefixed
// with namespace when given, otherwise with serviceName. A previously
// started exporter is stopped first.
func InitMetrics(serviceName string, port int, namespace ...string) error {
	if err := StopMetrics(); err != nil {
		return fmt.Errorf("stop previous exporter: %w", err)
	}

	prefix := serviceName
	if len(namespace) > 0 && namespace[0] != "" {
		prefix = namespace[0]
	}
	if port < 0 {
		port = 0
	}

	exporter := exporters.NewPrometheusExporter(prefix, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: exporter,
	})
	if err != nil {
		_ = exporter.Stop()
		return fmt.Errorf("create telemetry system: %w", err)
	}

	metricsPort = boundPort(exporter.GetAddr(), port)
	PrometheusExporter = exporter
	TelemetrySystem = sys
	return nil
}

// MetricsReady reports whether both the telemetry system and its exporter
// are running.
func MetricsReady() bool {
	return TelemetrySystem != nil && PrometheusExporter != nil
}

// StopMetrics shuts down the exporter and disables emission.
func StopMetrics() error {
	TelemetrySystem = nil
	exporter := PrometheusExporter
	PrometheusExporter = nil
	if exporter == nil {
		return nil
	}
	return exporter.Stop()
}

// GetMetricsPort returns the port the exporter listens on, or 0 before
// InitMetrics.
func GetMetricsPort() int {
	return metricsPort
}

func boundPort(addr string, requested int) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err == nil {
		if port, convErr := strconv.Atoi(portStr); convErr == nil && port > 0 {
			return port
		}
	}
	if requested == 0 {
		return fallbackMetricsPort
	}
	return requested
}
