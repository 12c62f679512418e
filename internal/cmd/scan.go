package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkscanner/linkscanner/internal/core"
	errwrap "github.com/linkscanner/linkscanner/internal/errors"
	"github.com/linkscanner/linkscanner/internal/metrics"
	"github.com/linkscanner/linkscanner/internal/observability"
	"github.com/linkscanner/linkscanner/internal/output"
)

var scanBasic bool

var scanCmd = &cobra.Command{
	Use:   "scan <url>",
	Short: "Scan a URL without starting the server",
	Long: `Look up a URL on VirusTotal, submitting it and waiting for the analysis
when no report exists yet. Uses the same rate limits and persisted counters
as the server, so running both at once shares one budget per state file.`,
	Example: `  linkscanner scan https://example.com
  linkscanner scan --basic --output-format json https://example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(ctx)
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "configuration invalid")
		}

		logger := observability.CLILogger
		rt, err := newScanRuntime(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close() // nolint:errcheck // best-effort cleanup

		mode := core.ScanFull
		if scanBasic {
			mode = core.ScanBasic
		}

		result, err := rt.Orchestrator.Scan(ctx, args[0], mode)
		metrics.RecordOperation("scan", err == nil && result.Succeeded())
		if errors.Is(err, context.DeadlineExceeded) {
			return errwrap.WrapTimeout(ctx, err, "scan timed out waiting for the upstream")
		}
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Debug("Scan finished",
				zap.String("outcome", string(result.Outcome)),
				zap.Int("upstream_calls", result.UpstreamCalls))
		}

		report := output.NewScanReport(result, rt.Governor.Status(ctx))
		rendered, err := output.NewFormatter(format).FormatScan(report)
		if err != nil {
			return err
		}

		sink, err := openCommandSink(cmd, format, "scan."+args[0])
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		return writeRendered(sink.writer, rendered)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().BoolVar(&scanBasic, "basic", false, "Submit without waiting for the analysis to complete")
	addOutputFlags(scanCmd)
}
