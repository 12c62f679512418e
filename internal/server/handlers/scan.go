package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/linkscanner/linkscanner/internal/core"
	"github.com/linkscanner/linkscanner/internal/core/engine"
	apperrors "github.com/linkscanner/linkscanner/internal/errors"
	"github.com/linkscanner/linkscanner/internal/metrics"
)

const (
	bannerMessage = "VirusTotal URL Scanner API"
	bannerUsage   = "/scan?url=https://example.com"
)

// Scanner runs one orchestrated URL scan.
type Scanner interface {
	Scan(ctx context.Context, rawURL string, mode core.ScanMode) (*core.ScanResult, error)
}

// DomainEnricher gathers read-only context for the host of a URL.
type DomainEnricher interface {
	Enrich(ctx context.Context, rawURL string) (*engine.Enrichment, error)
}

// RateLimitReporter exposes the current governor snapshot.
type RateLimitReporter interface {
	Status(ctx context.Context) core.RateLimitSnapshot
}

// ScanHandlers serves the scan API.
type ScanHandlers struct {
	Scanner      Scanner
	Enricher     DomainEnricher
	Limits       RateLimitReporter
	Capabilities core.APICapabilities

	// EnhancedMode is the scan mode used by /enhanced-scan when the caller
	// does not pass one. /scan always defaults to basic.
	EnhancedMode core.ScanMode
}

// RootResponse is the service banner.
type RootResponse struct {
	Message       string                 `json:"message"`
	Usage         string                 `json:"usage"`
	Endpoints     map[string]string      `json:"endpoints"`
	RateLimitInfo core.RateLimitSnapshot `json:"rate_limit_info"`
}

// ScanResponse is a scan result plus the governor snapshot taken after it.
type ScanResponse struct {
	*core.ScanResult
	RateLimitInfo core.RateLimitSnapshot `json:"rate_limit_info"`
}

// EnhancedScanResponse extends ScanResponse with enrichment sections.
type EnhancedScanResponse struct {
	*core.ScanResult
	DomainAnalysis  *core.DomainAnalysis   `json:"domain_analysis,omitempty"`
	GraphAnalysis   *core.GraphAnalysis    `json:"graph_analysis,omitempty"`
	APICapabilities core.APICapabilities   `json:"api_capabilities"`
	RateLimitInfo   core.RateLimitSnapshot `json:"rate_limit_info"`
}

// FailureResponse is the body of an unexpected scan failure.
type FailureResponse struct {
	Error         string                 `json:"error"`
	Code          string                 `json:"code"`
	RequestID     string                 `json:"request_id,omitempty"`
	RateLimitInfo core.RateLimitSnapshot `json:"rate_limit_info"`
}

// Endpoints lists the public routes served by ScanHandlers.
func Endpoints() map[string]string {
	return map[string]string{
		"/":              "service banner and current rate limit usage",
		"/scan":          "basic scan: existing report or submit (?url=, optional &mode=full)",
		"/enhanced-scan": "scan plus domain reputation, registration and related objects (?url=)",
		"/rate-limits":   "current rate limit usage",
	}
}

// Root serves the banner.
func (h *ScanHandlers) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Message:       bannerMessage,
		Usage:         bannerUsage,
		Endpoints:     Endpoints(),
		RateLimitInfo: h.snapshot(r.Context()),
	})
}

// RateLimits serves the governor snapshot.
func (h *ScanHandlers) RateLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot(r.Context()))
}

// Scan serves GET /scan.
func (h *ScanHandlers) Scan(w http.ResponseWriter, r *http.Request) {
	defer h.recoverPanic(w, r)

	rawURL, mode, ok := h.parseScanRequest(w, r, core.ScanBasic)
	if !ok {
		return
	}

	result, err := h.Scanner.Scan(r.Context(), rawURL, mode)
	if err != nil {
		h.respondFailure(w, r, failureEnvelope(r, err))
		return
	}

	writeJSON(w, http.StatusOK, ScanResponse{
		ScanResult:    result,
		RateLimitInfo: h.snapshot(r.Context()),
	})
}

// EnhancedScan serves GET /enhanced-scan.
func (h *ScanHandlers) EnhancedScan(w http.ResponseWriter, r *http.Request) {
	defer h.recoverPanic(w, r)

	defaultMode := h.EnhancedMode
	if defaultMode == "" {
		defaultMode = core.ScanFull
	}
	rawURL, mode, ok := h.parseScanRequest(w, r, defaultMode)
	if !ok {
		return
	}
	if _, err := engine.HostFromURL(rawURL); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "url must include a host name"))
		return
	}

	result, err := h.Scanner.Scan(r.Context(), rawURL, mode)
	if err != nil {
		h.respondFailure(w, r, failureEnvelope(r, err))
		return
	}

	response := EnhancedScanResponse{
		ScanResult:      result,
		APICapabilities: h.Capabilities,
	}

	if h.Enricher != nil && result.Outcome != core.OutcomeRateLimited {
		enrichment, err := h.Enricher.Enrich(r.Context(), rawURL)
		if err != nil {
			h.respondFailure(w, r, failureEnvelope(r, err))
			return
		}
		response.DomainAnalysis = enrichment.Domain
		response.GraphAnalysis = enrichment.Graph
	}

	response.RateLimitInfo = h.snapshot(r.Context())
	writeJSON(w, http.StatusOK, response)
}

func (h *ScanHandlers) parseScanRequest(w http.ResponseWriter, r *http.Request, defaultMode core.ScanMode) (string, core.ScanMode, bool) {
	query := r.URL.Query()

	rawURL := strings.TrimSpace(query.Get("url"))
	if rawURL == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("url query parameter is required"))
		return "", "", false
	}

	mode := defaultMode
	if value := strings.TrimSpace(query.Get("mode")); value != "" {
		parsed, err := core.ParseScanMode(strings.ToLower(value))
		if err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "mode must be basic or full"))
			return "", "", false
		}
		mode = parsed
	}

	if h.Scanner == nil {
		h.respondFailure(w, r, apperrors.NewInternalError("scanner is not configured"))
		return "", "", false
	}
	return rawURL, mode, true
}

// respondFailure writes the 500 body used by scan endpoints, which always
// carries the current rate limit snapshot.
func (h *ScanHandlers) respondFailure(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	envelope, status := apperrors.Report(r, envelope)
	writeJSON(w, status, FailureResponse{
		Error:         envelope.Message,
		Code:          envelope.Code,
		RequestID:     envelope.CorrelationID,
		RateLimitInfo: h.snapshot(r.Context()),
	})
}

// failureEnvelope classifies an unexpected scan error. A deadline reached
// while waiting on the upstream is a timeout; anything else is internal.
func failureEnvelope(r *http.Request, err error) *errors.ErrorEnvelope {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return apperrors.WrapTimeout(r.Context(), err, "Upstream did not answer in time: "+err.Error())
	}
	return apperrors.WrapInternal(r.Context(), err, err.Error())
}

func (h *ScanHandlers) recoverPanic(w http.ResponseWriter, r *http.Request) {
	recovered := recover()
	if recovered == nil {
		return
	}

	metrics.RecordPanic()
	envelope := apperrors.NewInternalError(fmt.Sprintf("panic: %v", recovered))
	envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
	envelope, _ = envelope.WithContext(map[string]interface{}{
		"stack_trace": string(debug.Stack()),
	})
	h.respondFailure(w, r, envelope)
}

func (h *ScanHandlers) snapshot(ctx context.Context) core.RateLimitSnapshot {
	if h == nil || h.Limits == nil {
		return core.RateLimitSnapshot{}
	}
	return h.Limits.Status(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
