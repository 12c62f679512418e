package output

import (
	"encoding/json"

	"github.com/linkscanner/linkscanner/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatScan renders a scan report as JSON.
func (f *JSONFormatter) FormatScan(report *ScanReport) (string, error) {
	if report == nil {
		return "", nil
	}
	return f.marshal(report)
}

// FormatRateLimits renders a snapshot as JSON.
func (f *JSONFormatter) FormatRateLimits(snapshot core.RateLimitSnapshot) (string, error) {
	return f.marshal(snapshot)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
