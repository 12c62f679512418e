package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/linkscanner/linkscanner/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders scan results and rate limit snapshots.
type Formatter interface {
	FormatScan(report *ScanReport) (string, error)
	FormatRateLimits(snapshot core.RateLimitSnapshot) (string, error)
}

// ScanReport is the CLI view of one scan.
type ScanReport struct {
	Outcome    core.ScanOutcome       `json:"outcome" yaml:"outcome"`
	Result     *core.ScanResult       `json:"result" yaml:"result"`
	RateLimits core.RateLimitSnapshot `json:"rate_limit_info" yaml:"rate_limit_info"`
}

// NewScanReport pairs a result with the snapshot taken after it.
func NewScanReport(result *core.ScanResult, snapshot core.RateLimitSnapshot) *ScanReport {
	report := &ScanReport{Result: result, RateLimits: snapshot}
	if result != nil {
		report.Outcome = result.Outcome
	}
	return report
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Extension returns the file extension used when writing format to disk.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &TableFormatter{Markdown: true}
	default:
		return &TableFormatter{}
	}
}

// statKeys returns stat names with the verdicts that matter most first.
func statKeys(stats core.AnalysisStats) []string {
	priority := map[string]int{"malicious": 0, "suspicious": 1, "harmless": 2, "undetected": 3, "timeout": 4}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, iok := priority[keys[i]]
		pj, jok := priority[keys[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

// Verdict summarizes stats into a single word.
func Verdict(stats core.AnalysisStats) string {
	switch {
	case stats == nil:
		return "unknown"
	case stats["malicious"] > 0:
		return "malicious"
	case stats["suspicious"] > 0:
		return "suspicious"
	default:
		return "clean"
	}
}
