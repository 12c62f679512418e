package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkscanner/linkscanner/internal/core"
	"github.com/linkscanner/linkscanner/internal/core/engine"
	apperrors "github.com/linkscanner/linkscanner/internal/errors"
	"github.com/linkscanner/linkscanner/internal/server/handlers"
)

type existingUpstream struct{}

func (existingUpstream) Configured() error { return nil }

func (existingUpstream) LookupURL(ctx context.Context, rawURL string) (*core.URLReport, error) {
	return &core.URLReport{ID: "id", Stats: core.AnalysisStats{"harmless": 1}}, nil
}

func (existingUpstream) SubmitURL(ctx context.Context, rawURL string) (string, error) {
	return "", nil
}

func (existingUpstream) GetAnalysis(ctx context.Context, analysisID string) (*core.Analysis, error) {
	return nil, nil
}

func newScanServer(t *testing.T, limits core.RateLimitConfig) *Server {
	t.Helper()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
	governor := &engine.Governor{Limits: limits, Clock: func() time.Time { return now }}
	return New(Options{
		Host: "127.0.0.1",
		Scanner: &handlers.ScanHandlers{
			Scanner: &engine.Orchestrator{Upstream: existingUpstream{}, Governor: governor},
			Limits:  governor,
		},
		Health:  handlers.NewHealthManager("test"),
		Version: &handlers.VersionHandler{},
	})
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"})

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerWithoutScannerHasNoScanRoutes(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"})

	req := httptest.NewRequest(http.MethodGet, "/scan?url=https://example.com", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerScanRoutes(t *testing.T) {
	srv := newScanServer(t, engine.DefaultRateLimits)

	req := httptest.NewRequest(http.MethodGet, "/scan?url=https://example.com", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "existing", body["source"])
	assert.EqualValues(t, 1, body["rate_limit_info"].(map[string]any)["daily_used"])

	req = httptest.NewRequest(http.MethodGet, "/rate-limits", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "VirusTotal URL Scanner API")
}

func TestServerFifthScanIsRateLimited(t *testing.T) {
	srv := newScanServer(t, engine.DefaultRateLimits)

	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/scan?url=https://example.com", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotContains(t, rec.Body.String(), `"error"`)
	}

	req := httptest.NewRequest(http.MethodGet, "/scan?url=https://example.com", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body["error"], "Rate limit exceeded")
	assert.Greater(t, body["retry_after_seconds"], float64(0))
	assert.EqualValues(t, 4, body["rate_limit_info"].(map[string]any)["requests_last_minute"])
}

func TestServerHealthAndVersionRoutes(t *testing.T) {
	srv := newScanServer(t, engine.DefaultRateLimits)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServerAdminEndpointRequiresToken(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"})

	req := httptest.NewRequest(http.MethodPost, "/admin/signal", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerAddr(t *testing.T) {
	srv := New(Options{Host: "localhost", Port: 8080})
	assert.Equal(t, "localhost:8080", srv.Addr())
	assert.Equal(t, 8080, srv.Port())
	require.NoError(t, srv.Shutdown(context.Background()))
}
