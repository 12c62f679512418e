package output

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linkscanner/linkscanner/internal/core"
)

// YAMLFormatter renders results as YAML.
type YAMLFormatter struct{}

// FormatScan renders a scan report as YAML.
func (f *YAMLFormatter) FormatScan(report *ScanReport) (string, error) {
	if report == nil {
		return "", nil
	}
	return marshalYAML(report)
}

// FormatRateLimits renders a snapshot as YAML.
func (f *YAMLFormatter) FormatRateLimits(snapshot core.RateLimitSnapshot) (string, error) {
	return marshalYAML(snapshot)
}

func marshalYAML(value any) (string, error) {
	data, err := yaml.Marshal(value)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}
