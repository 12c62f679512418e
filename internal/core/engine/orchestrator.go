package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/linkscanner/linkscanner/internal/core"
	"github.com/linkscanner/linkscanner/internal/core/upstream"
	"github.com/linkscanner/linkscanner/internal/metrics"
)

const (
	// DefaultPollInterval separates analysis status polls.
	DefaultPollInterval = 3 * time.Second

	// DefaultMaxPollAttempts bounds the poll loop.
	DefaultMaxPollAttempts = 20
)

// Caller-facing failure messages.
const (
	msgLookupFailed   = "Failed to look up URL with VirusTotal"
	msgSubmitFailed   = "Failed to scan URL with VirusTotal"
	msgAnalysisFailed = "Failed to retrieve analysis"
	msgTimeout        = "Analysis timeout - please try again later"
	msgPending        = "Analysis queued - query again shortly for results"
	msgNoResults      = "Analysis completed without results"
)

// ScanUpstream is the subset of the upstream API the orchestrator drives.
type ScanUpstream interface {
	Configured() error
	LookupURL(ctx context.Context, rawURL string) (*core.URLReport, error)
	SubmitURL(ctx context.Context, rawURL string) (string, error)
	GetAnalysis(ctx context.Context, analysisID string) (*core.Analysis, error)
}

// Orchestrator runs the lookup, submit and poll sequence for one URL. Every
// upstream call is admitted and recorded by Governor first.
type Orchestrator struct {
	Upstream        ScanUpstream
	Governor        *Governor
	PollInterval    time.Duration
	MaxPollAttempts int
	Sleep           func(ctx context.Context, d time.Duration) error
	Logger          *logging.Logger
}

// Scan resolves rawURL to analysis stats. Domain failures (quota, upstream
// status, timeout) come back as a result with Outcome set; only unexpected
// failures such as transport errors or cancellation are returned as errors.
func (o *Orchestrator) Scan(ctx context.Context, rawURL string, mode core.ScanMode) (result *core.ScanResult, err error) {
	if o == nil || o.Upstream == nil {
		return nil, errors.New("scan orchestrator is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("url is required")
	}
	if mode == "" {
		mode = core.ScanBasic
	}

	defer func() {
		if result != nil {
			metrics.RecordScan(string(mode), string(result.Outcome))
		}
	}()

	result = &core.ScanResult{URL: rawURL}

	if err := o.Upstream.Configured(); err != nil {
		result.Outcome = core.OutcomeUpstreamError
		result.Error = err.Error()
		return result, nil
	}

	// Step 1: existing report.
	if !o.admit(ctx, result) {
		return result, nil
	}
	report, err := o.Upstream.LookupURL(ctx, rawURL)
	result.UpstreamCalls++
	if err != nil {
		var statusErr *upstream.StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode == http.StatusTooManyRequests {
			return o.fail(result, err, msgLookupFailed)
		}
		o.debug("Existing report unavailable, submitting", zap.String("url", rawURL), zap.Int("status", statusErr.StatusCode))
	}
	if report.HasStats() {
		result.Outcome = core.OutcomeSuccess
		result.Source = core.SourceExisting
		result.Stats = report.Stats
		return result, nil
	}

	// Step 2: submit for analysis.
	if !o.admit(ctx, result) {
		return result, nil
	}
	analysisID, err := o.Upstream.SubmitURL(ctx, rawURL)
	result.UpstreamCalls++
	if err != nil {
		return o.fail(result, err, msgSubmitFailed)
	}
	result.AnalysisID = analysisID

	if mode == core.ScanBasic {
		result.Outcome = core.OutcomePending
		result.Source = core.SourceNew
		result.AnalysisStatus = "queued"
		result.Details = msgPending
		return result, nil
	}

	// Step 3: poll.
	for attempt := 1; attempt <= o.maxPollAttempts(); attempt++ {
		if err := o.sleep(ctx, o.pollInterval()); err != nil {
			return nil, err
		}

		if !o.admit(ctx, result) {
			return result, nil
		}
		analysis, err := o.Upstream.GetAnalysis(ctx, analysisID)
		result.UpstreamCalls++
		result.PollAttempts = attempt
		if err != nil {
			return o.fail(result, err, msgAnalysisFailed)
		}
		result.AnalysisStatus = analysis.Status

		o.debug("Polled analysis",
			zap.String("analysis_id", analysisID),
			zap.Int("attempt", attempt),
			zap.String("status", analysis.Status))

		if !analysis.Completed() {
			continue
		}

		if !o.admit(ctx, result) {
			return result, nil
		}
		final, err := o.Upstream.LookupURL(ctx, rawURL)
		result.UpstreamCalls++
		if err != nil {
			var statusErr *upstream.StatusError
			if !errors.As(err, &statusErr) {
				return o.fail(result, err, msgLookupFailed)
			}
		}

		stats := analysis.Stats
		if final.HasStats() {
			stats = final.Stats
		}
		if stats == nil {
			result.Outcome = core.OutcomeUpstreamError
			result.Error = msgNoResults
			result.Details = "analysis " + analysisID + " is completed but carries no stats"
			return result, nil
		}

		result.Outcome = core.OutcomeSuccess
		result.Source = core.SourceNew
		result.Stats = stats
		return result, nil
	}

	result.Outcome = core.OutcomeTimeout
	result.Error = msgTimeout
	return result, nil
}

func (o *Orchestrator) admit(ctx context.Context, result *core.ScanResult) bool {
	decision := o.Governor.Admit(ctx)
	if decision.Allowed {
		return true
	}

	result.Outcome = core.OutcomeRateLimited
	result.Error = decision.Message()
	result.Reason = decision.Reason
	result.RetryAfterSeconds = decision.RetryAfterSeconds()
	return false
}

// fail maps upstream errors to domain outcomes. Anything it does not
// recognise is returned as an unexpected error.
func (o *Orchestrator) fail(result *core.ScanResult, err error, message string) (*core.ScanResult, error) {
	var statusErr *upstream.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests:
		decision := core.Decision{Reason: core.ReasonUpstreamThrottled, RetryAfter: statusErr.RetryAfter}
		result.Outcome = core.OutcomeRateLimited
		result.Error = decision.Message()
		result.Reason = decision.Reason
		result.RetryAfterSeconds = decision.RetryAfterSeconds()
		result.StatusCode = statusErr.StatusCode
		return result, nil
	case errors.As(err, &statusErr):
		result.Outcome = core.OutcomeUpstreamError
		result.Error = message
		result.StatusCode = statusErr.StatusCode
		result.Details = statusErr.Body
		return result, nil
	case errors.Is(err, upstream.ErrCircuitOpen), errors.Is(err, upstream.ErrMissingAPIKey):
		result.Outcome = core.OutcomeUpstreamError
		result.Error = message
		result.Details = err.Error()
		return result, nil
	default:
		return nil, fmt.Errorf("%s: %w", strings.ToLower(message), err)
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (o *Orchestrator) pollInterval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return DefaultPollInterval
}

func (o *Orchestrator) maxPollAttempts() int {
	if o.MaxPollAttempts > 0 {
		return o.MaxPollAttempts
	}
	return DefaultMaxPollAttempts
}

func (o *Orchestrator) debug(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Debug(msg, fields...)
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
