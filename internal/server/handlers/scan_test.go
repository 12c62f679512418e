package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkscanner/linkscanner/internal/core"
	"github.com/linkscanner/linkscanner/internal/core/engine"
)

type stubScanner struct {
	result *core.ScanResult
	err    error
	panic  any

	gotURL  string
	gotMode core.ScanMode
	calls   int
}

func (s *stubScanner) Scan(ctx context.Context, rawURL string, mode core.ScanMode) (*core.ScanResult, error) {
	s.calls++
	s.gotURL = rawURL
	s.gotMode = mode
	if s.panic != nil {
		panic(s.panic)
	}
	return s.result, s.err
}

type stubEnricher struct {
	out   *engine.Enrichment
	err   error
	calls int
}

func (s *stubEnricher) Enrich(ctx context.Context, rawURL string) (*engine.Enrichment, error) {
	s.calls++
	return s.out, s.err
}

type stubLimits struct {
	snapshot core.RateLimitSnapshot
}

func (s stubLimits) Status(ctx context.Context) core.RateLimitSnapshot {
	return s.snapshot
}

var testSnapshot = core.RateLimitSnapshot{
	RequestsLastMinute: 1,
	MinuteLimit:        4,
	DailyUsed:          7,
	DailyQuota:         500,
	MonthlyUsed:        30,
	MonthlyQuota:       15500,
	Day:                "2025-03-10",
	Month:              "2025-03",
}

func serve(t *testing.T, handler http.HandlerFunc, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestRootIncludesBannerAndSnapshot(t *testing.T) {
	h := &ScanHandlers{Limits: stubLimits{snapshot: testSnapshot}}

	rec, body := serve(t, h.Root, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "VirusTotal URL Scanner API", body["message"])
	assert.Equal(t, "/scan?url=https://example.com", body["usage"])
	assert.Contains(t, body["endpoints"], "/enhanced-scan")

	info := body["rate_limit_info"].(map[string]any)
	assert.EqualValues(t, 7, info["daily_used"])
	assert.EqualValues(t, 4, info["minute_limit"])
}

func TestRateLimitsReturnsSnapshot(t *testing.T) {
	h := &ScanHandlers{Limits: stubLimits{snapshot: testSnapshot}}

	rec, body := serve(t, h.RateLimits, "/rate-limits")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 30, body["monthly_used"])
	assert.EqualValues(t, 15500, body["monthly_quota"])
	assert.Equal(t, "2025-03", body["month"])
}

func TestScanReturnsStats(t *testing.T) {
	scanner := &stubScanner{result: &core.ScanResult{
		URL:     "https://example.com",
		Outcome: core.OutcomeSuccess,
		Source:  core.SourceExisting,
		Stats:   core.AnalysisStats{"malicious": 0, "harmless": 70},
	}}
	h := &ScanHandlers{Scanner: scanner, Limits: stubLimits{snapshot: testSnapshot}}

	rec, body := serve(t, h.Scan, "/scan?url=https://example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.ScanBasic, scanner.gotMode)
	assert.Equal(t, "https://example.com", body["url"])
	assert.Equal(t, "existing", body["source"])
	assert.EqualValues(t, 70, body["stats"].(map[string]any)["harmless"])
	assert.NotContains(t, body, "error")
	assert.Contains(t, body, "rate_limit_info")
}

func TestScanFullModeOverride(t *testing.T) {
	scanner := &stubScanner{result: &core.ScanResult{URL: "https://example.com", Outcome: core.OutcomeSuccess}}
	h := &ScanHandlers{Scanner: scanner}

	rec, _ := serve(t, h.Scan, "/scan?url=https://example.com&mode=FULL")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.ScanFull, scanner.gotMode)
}

func TestScanRejectsUnknownMode(t *testing.T) {
	scanner := &stubScanner{}
	h := &ScanHandlers{Scanner: scanner}

	rec, body := serve(t, h.Scan, "/scan?url=https://example.com&mode=deep")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", body["error"].(map[string]any)["code"])
	assert.Zero(t, scanner.calls)
}

func TestScanMissingURLIsBadRequest(t *testing.T) {
	scanner := &stubScanner{}
	h := &ScanHandlers{Scanner: scanner}

	rec, body := serve(t, h.Scan, "/scan")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_INPUT", errBody["code"])
	assert.Equal(t, "url query parameter is required", errBody["message"])
	assert.Zero(t, scanner.calls)
}

func TestScanRateLimitedIsDomainError(t *testing.T) {
	scanner := &stubScanner{result: &core.ScanResult{
		URL:               "https://example.com",
		Outcome:           core.OutcomeRateLimited,
		Error:             "Rate limit exceeded: 4 requests per minute allowed, retry in 42 seconds",
		Reason:            core.ReasonMinuteLimitExceeded,
		RetryAfterSeconds: 42,
	}}
	h := &ScanHandlers{Scanner: scanner, Limits: stubLimits{snapshot: testSnapshot}}

	rec, body := serve(t, h.Scan, "/scan?url=https://example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["error"], "Rate limit exceeded")
	assert.EqualValues(t, 42, body["retry_after_seconds"])
	assert.Equal(t, "minute_limit_exceeded", body["reason"])
	assert.Contains(t, body, "rate_limit_info")
}

func TestScanUpstreamErrorCarriesStatus(t *testing.T) {
	scanner := &stubScanner{result: &core.ScanResult{
		URL:        "https://example.com",
		Outcome:    core.OutcomeUpstreamError,
		Error:      "Failed to scan URL with VirusTotal",
		StatusCode: 400,
		Details:    "invalid url",
	}}
	h := &ScanHandlers{Scanner: scanner}

	rec, body := serve(t, h.Scan, "/scan?url=https://example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Failed to scan URL with VirusTotal", body["error"])
	assert.EqualValues(t, 400, body["status_code"])
	assert.Equal(t, "invalid url", body["details"])
}

func TestScanUnexpectedErrorIs500WithSnapshot(t *testing.T) {
	scanner := &stubScanner{err: errors.New("dial tcp: connection refused")}
	h := &ScanHandlers{Scanner: scanner, Limits: stubLimits{snapshot: testSnapshot}}

	rec, body := serve(t, h.Scan, "/scan?url=https://example.com")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "dial tcp: connection refused", body["error"])
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.NotEmpty(t, body["request_id"])
	assert.EqualValues(t, 7, body["rate_limit_info"].(map[string]any)["daily_used"])
}

func TestScanDeadlineIsGatewayTimeout(t *testing.T) {
	scanner := &stubScanner{err: fmt.Errorf("failed to retrieve analysis: %w", context.DeadlineExceeded)}
	h := &ScanHandlers{Scanner: scanner, Limits: stubLimits{snapshot: testSnapshot}}

	rec, body := serve(t, h.Scan, "/scan?url=https://example.com&mode=full")
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "TIMEOUT", body["code"])
	assert.Contains(t, body["error"], "Upstream did not answer in time")
	assert.Contains(t, body, "rate_limit_info")
}

func TestScanPanicIs500WithSnapshot(t *testing.T) {
	scanner := &stubScanner{panic: "nil map write"}
	h := &ScanHandlers{Scanner: scanner, Limits: stubLimits{snapshot: testSnapshot}}

	rec, body := serve(t, h.Scan, "/scan?url=https://example.com")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "nil map write")
	assert.Contains(t, body, "rate_limit_info")
	assert.NotContains(t, body, "stack_trace")
}

func TestEnhancedScanIncludesEnrichment(t *testing.T) {
	scanner := &stubScanner{result: &core.ScanResult{
		URL:     "https://example.com/login",
		Outcome: core.OutcomeSuccess,
		Source:  core.SourceNew,
		Stats:   core.AnalysisStats{"malicious": 2},
	}}
	enricher := &stubEnricher{out: &engine.Enrichment{
		Domain: &core.DomainAnalysis{
			Domain: "example.com",
			Report: &core.DomainReport{Domain: "example.com", Reputation: -5},
		},
		Graph: &core.GraphAnalysis{Relationships: map[string][]core.RelatedObject{
			"subdomains": {{ID: "www.example.com", Type: "domain"}},
		}},
	}}
	h := &ScanHandlers{
		Scanner:  scanner,
		Enricher: enricher,
		Limits:   stubLimits{snapshot: testSnapshot},
		Capabilities: core.APICapabilities{
			APIKeyConfigured: true,
			URLScan:          true,
			Relationships:    []string{"subdomains"},
		},
	}

	rec, body := serve(t, h.EnhancedScan, "/enhanced-scan?url=https://example.com/login")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.ScanFull, scanner.gotMode)
	assert.Equal(t, "new_scan", body["source"])

	domain := body["domain_analysis"].(map[string]any)
	assert.Equal(t, "example.com", domain["domain"])
	assert.EqualValues(t, -5, domain["report"].(map[string]any)["reputation"])

	graph := body["graph_analysis"].(map[string]any)
	assert.Len(t, graph["relationships"].(map[string]any)["subdomains"], 1)

	caps := body["api_capabilities"].(map[string]any)
	assert.Equal(t, true, caps["api_key_configured"])
	assert.Contains(t, body, "rate_limit_info")
}

func TestEnhancedScanSkipsEnrichmentWhenRateLimited(t *testing.T) {
	scanner := &stubScanner{result: &core.ScanResult{
		URL:     "https://example.com",
		Outcome: core.OutcomeRateLimited,
		Error:   "Rate limit exceeded: daily quota of 500 requests reached, resets at local midnight",
		Reason:  core.ReasonDailyQuotaExceeded,
	}}
	enricher := &stubEnricher{}
	h := &ScanHandlers{Scanner: scanner, Enricher: enricher}

	rec, body := serve(t, h.EnhancedScan, "/enhanced-scan?url=https://example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, enricher.calls)
	assert.Contains(t, body["error"], "daily quota")
	assert.NotContains(t, body, "domain_analysis")
	assert.Contains(t, body, "api_capabilities")
}

func TestEnhancedScanRejectsURLWithoutHost(t *testing.T) {
	scanner := &stubScanner{}
	h := &ScanHandlers{Scanner: scanner}

	rec, _ := serve(t, h.EnhancedScan, "/enhanced-scan?url=https://")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, scanner.calls)
}

func TestScanWithoutScannerIs500(t *testing.T) {
	h := &ScanHandlers{}

	rec, body := serve(t, h.Scan, "/scan?url=https://example.com")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "scanner is not configured", body["error"])
}
