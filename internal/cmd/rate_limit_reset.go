package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/linkscanner/linkscanner/internal/core"
	"github.com/linkscanner/linkscanner/internal/metrics"
	"github.com/linkscanner/linkscanner/internal/observability"
	"github.com/linkscanner/linkscanner/internal/output"
)

var (
	rateLimitResetYes    bool
	rateLimitResetDryRun bool
)

// resetResult reports what a reset cleared.
type resetResult struct {
	Driver       string `json:"driver" yaml:"driver"`
	MinuteEvents int    `json:"minute_events" yaml:"minute_events"`
	DailyUsed    int    `json:"daily_used" yaml:"daily_used"`
	MonthlyUsed  int    `json:"monthly_used" yaml:"monthly_used"`
	DryRun       bool   `json:"dry_run" yaml:"dry_run"`
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all persisted rate limit counters",
	Long: `Clear the minute window and every stored day and month counter.

The upstream provider keeps its own quota, so clearing local counters does
not grant more requests; use it after changing accounts or limits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("reset requires --yes (or use --dry-run)")
		}

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		governor, counters, err := openGovernor(ctx, cfg, observability.CLILogger)
		if err != nil {
			return err
		}
		defer counters.Close() // nolint:errcheck // best-effort cleanup

		before := governor.Status(ctx)
		result := resetResult{
			Driver:       counters.Driver(),
			MinuteEvents: before.RequestsLastMinute,
			DailyUsed:    before.DailyUsed,
			MonthlyUsed:  before.MonthlyUsed,
			DryRun:       rateLimitResetDryRun,
		}

		if !rateLimitResetDryRun {
			err := governor.Reset(ctx)
			metrics.RecordOperation("rate_limit_reset", err == nil)
			if err != nil {
				return fmt.Errorf("reset counters: %w", err)
			}
			if logger := observability.CLILogger; logger != nil {
				logger.Info("Rate limit counters cleared", zap.String("driver", result.Driver))
			}
		}

		sink, err := openCommandSink(cmd, format, "rate-limit.reset")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		return writeResetResult(format, sink.writer, result, before)
	},
}

func writeResetResult(format output.Format, w io.Writer, result resetResult, before core.RateLimitSnapshot) error {
	switch format {
	case output.FormatJSON:
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	case output.FormatYAML:
		payload, err := yaml.Marshal(result)
		if err != nil {
			return err
		}
		_, err = w.Write(payload)
		return err
	}

	verb := "Cleared"
	if result.DryRun {
		verb = "Would clear"
	}
	_, err := fmt.Fprintf(w, "%s %s counters: %d minute event(s), day %s used %d, month %s used %d\n",
		verb, result.Driver, result.MinuteEvents, before.Day, result.DailyUsed, before.Month, result.MonthlyUsed)
	return err
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be cleared")
	addOutputFlags(rateLimitResetCmd)
}
