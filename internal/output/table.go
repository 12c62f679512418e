package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/linkscanner/linkscanner/internal/core"
)

// TableFormatter renders results as an ASCII table, or as a Markdown table
// when Markdown is set.
type TableFormatter struct {
	Markdown bool
}

// FormatScan renders a scan report as a table.
func (f *TableFormatter) FormatScan(report *ScanReport) (string, error) {
	if report == nil || report.Result == nil {
		return "", nil
	}
	result := report.Result

	t := f.newWriter()
	t.SetTitle(result.URL)
	t.AppendHeader(table.Row{"Field", "Value"})

	t.AppendRow(table.Row{"Outcome", string(report.Outcome)})
	if result.Source != "" {
		t.AppendRow(table.Row{"Source", string(result.Source)})
	}
	if result.Stats != nil {
		t.AppendRow(table.Row{"Verdict", Verdict(result.Stats)})
		for _, key := range statKeys(result.Stats) {
			t.AppendRow(table.Row{"  " + key, result.Stats[key]})
		}
	}
	if result.AnalysisID != "" {
		t.AppendRow(table.Row{"Analysis", result.AnalysisID})
	}
	if result.AnalysisStatus != "" {
		t.AppendRow(table.Row{"Analysis status", result.AnalysisStatus})
	}
	if result.PollAttempts > 0 {
		t.AppendRow(table.Row{"Poll attempts", result.PollAttempts})
	}
	if result.Error != "" {
		t.AppendRow(table.Row{"Error", result.Error})
	}
	if result.RetryAfterSeconds > 0 {
		t.AppendRow(table.Row{"Retry after", fmt.Sprintf("%ds", result.RetryAfterSeconds)})
	}
	if result.StatusCode > 0 {
		t.AppendRow(table.Row{"Upstream status", result.StatusCode})
	}
	if result.Details != "" {
		t.AppendRow(table.Row{"Details", truncate(result.Details, 120)})
	}
	t.AppendRow(table.Row{"Upstream calls", result.UpstreamCalls})

	t.AppendFooter(table.Row{"Rate limits", usageSummary(report.RateLimits)})

	return f.render(t), nil
}

// FormatRateLimits renders governor usage as a table.
func (f *TableFormatter) FormatRateLimits(snapshot core.RateLimitSnapshot) (string, error) {
	t := f.newWriter()
	t.SetTitle("Rate Limits")
	t.AppendHeader(table.Row{"Window", "Used", "Limit", "Period"})
	t.AppendRow(table.Row{"minute", snapshot.RequestsLastMinute, limitLabel(snapshot.MinuteLimit), "last 60s"})
	t.AppendRow(table.Row{"day", snapshot.DailyUsed, limitLabel(snapshot.DailyQuota), snapshot.Day})
	t.AppendRow(table.Row{"month", snapshot.MonthlyUsed, limitLabel(snapshot.MonthlyQuota), snapshot.Month})

	if snapshot.SecondsUntilReset > 0 {
		t.AppendFooter(table.Row{"", "", "retry in", fmt.Sprintf("%ds", snapshot.SecondsUntilReset)})
	}

	return f.render(t), nil
}

func (f *TableFormatter) newWriter() table.Writer {
	style := table.StyleRounded
	style.Format.Footer = text.FormatDefault
	t := table.NewWriter()
	t.SetStyle(style)
	return t
}

func (f *TableFormatter) render(t table.Writer) string {
	if f.Markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

func usageSummary(s core.RateLimitSnapshot) string {
	return fmt.Sprintf("minute %d/%s, day %d/%s, month %d/%s",
		s.RequestsLastMinute, limitLabel(s.MinuteLimit),
		s.DailyUsed, limitLabel(s.DailyQuota),
		s.MonthlyUsed, limitLabel(s.MonthlyQuota))
}

func limitLabel(limit int) string {
	if limit <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", limit)
}

func truncate(value string, max int) string {
	value = strings.Join(strings.Fields(value), " ")
	if len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
