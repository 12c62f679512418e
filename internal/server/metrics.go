package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/linkscanner/linkscanner/internal/errors"
	"github.com/linkscanner/linkscanner/internal/observability"
)

// DefaultMetricsPort is used when the exporter port cannot be resolved.
const DefaultMetricsPort = 9090

var metricsProxyClient = &http.Client{
	Timeout: 5 * time.Second,
}

// Hop-by-hop headers are not forwarded; net/http manages them.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// MetricsHandler serves the Prometheus exposition of the dedicated exporter
// on the main listener, so one port is enough to scrape governor and
// upstream counters.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		HandleError(w, r, errors.NewErrorEnvelope(apperrors.CodeUnavailable, "Metrics exporter not initialized"))
		return
	}

	metricsURL := exporterURL()

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, metricsURL, nil)
	if err != nil {
		HandleError(w, r, withMetricsURL(apperrors.WrapInternal(r.Context(), err, "Unable to construct metrics request"), metricsURL))
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := metricsProxyClient.Do(req)
	if err != nil {
		HandleError(w, r, withMetricsURL(apperrors.WrapExternalService(r.Context(), err, "Prometheus exporter unavailable"), metricsURL))
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			warnMetrics("Failed to close metrics response body", err)
		}
	}()

	copyHeaders(w.Header(), resp.Header)
	if resp.Header.Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		warnMetrics("Failed to write metrics response", err)
	}
}

func exporterURL() string {
	port := observability.GetMetricsPort()
	if port == 0 {
		port = DefaultMetricsPort
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func withMetricsURL(envelope *errors.ErrorEnvelope, metricsURL string) *errors.ErrorEnvelope {
	updated, err := envelope.WithContext(map[string]interface{}{"metrics_url": metricsURL})
	if err != nil {
		return envelope
	}
	return updated
}

func warnMetrics(msg string, err error) {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn(msg, zap.Error(err))
	}
}
