package core

import "fmt"

// ScanMode selects how far the orchestrator goes for an unknown URL.
type ScanMode string

const (
	// ScanBasic looks up an existing report and otherwise submits the URL and
	// reads the analysis once, without waiting.
	ScanBasic ScanMode = "basic"

	// ScanFull looks up, submits and polls until the analysis completes.
	ScanFull ScanMode = "full"
)

// ParseScanMode normalizes a mode string, defaulting to ScanBasic.
func ParseScanMode(value string) (ScanMode, error) {
	switch ScanMode(value) {
	case "", ScanBasic:
		return ScanBasic, nil
	case ScanFull:
		return ScanFull, nil
	default:
		return "", fmt.Errorf("unsupported scan mode: %s", value)
	}
}

// ScanSource tells where returned stats came from.
type ScanSource string

const (
	SourceExisting ScanSource = "existing"
	SourceNew      ScanSource = "new_scan"
)

// ScanOutcome is the terminal state of one scan.
type ScanOutcome string

const (
	OutcomeSuccess       ScanOutcome = "success"
	OutcomePending       ScanOutcome = "pending"
	OutcomeRateLimited   ScanOutcome = "rate_limited"
	OutcomeUpstreamError ScanOutcome = "upstream_error"
	OutcomeTimeout       ScanOutcome = "timeout"
)

// AnalysisStatusCompleted is the terminal analysis status reported upstream.
const AnalysisStatusCompleted = "completed"

// AnalysisStats holds per-verdict engine counts (malicious, suspicious,
// undetected, harmless, timeout, ...).
type AnalysisStats map[string]int

// URLReport is the subset of an upstream URL object the service uses.
type URLReport struct {
	ID         string            `json:"id"`
	URL        string            `json:"url,omitempty"`
	Stats      AnalysisStats     `json:"last_analysis_stats,omitempty"`
	Reputation int               `json:"reputation"`
	Categories map[string]string `json:"categories,omitempty"`
}

// HasStats reports whether the upstream already holds a finished analysis.
func (r *URLReport) HasStats() bool {
	return r != nil && r.Stats != nil
}

// Analysis is the status of a submitted URL analysis.
type Analysis struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Stats  AnalysisStats `json:"stats,omitempty"`
}

// Completed reports whether the analysis reached its terminal state.
func (a *Analysis) Completed() bool {
	return a != nil && a.Status == AnalysisStatusCompleted
}

// ScanResult is the outcome of one orchestrated scan.
type ScanResult struct {
	URL               string        `json:"url" yaml:"url"`
	Outcome           ScanOutcome   `json:"-" yaml:"outcome"`
	Stats             AnalysisStats `json:"stats,omitempty" yaml:"stats,omitempty"`
	Source            ScanSource    `json:"source,omitempty" yaml:"source,omitempty"`
	AnalysisID        string        `json:"analysis_id,omitempty" yaml:"analysis_id,omitempty"`
	AnalysisStatus    string        `json:"analysis_status,omitempty" yaml:"analysis_status,omitempty"`
	PollAttempts      int           `json:"poll_attempts,omitempty" yaml:"poll_attempts,omitempty"`
	Error             string        `json:"error,omitempty" yaml:"error,omitempty"`
	Reason            DenialReason  `json:"reason,omitempty" yaml:"reason,omitempty"`
	RetryAfterSeconds int           `json:"retry_after_seconds,omitempty" yaml:"retry_after_seconds,omitempty"`
	StatusCode        int           `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Details           string        `json:"details,omitempty" yaml:"details,omitempty"`
	UpstreamCalls     int           `json:"-" yaml:"upstream_calls"`
}

// Succeeded reports whether stats were obtained.
func (r *ScanResult) Succeeded() bool {
	return r != nil && r.Outcome == OutcomeSuccess
}
