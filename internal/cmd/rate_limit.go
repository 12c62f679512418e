package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/linkscanner/linkscanner/internal/output"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect or reset the persisted upstream request counters",
}

var rateLimitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current minute, day and month usage",
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
			return err
		}

		governor, counters, err := openGovernor(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer counters.Close() // nolint:errcheck // best-effort cleanup

		formatter := output.NewFormatter(format)
		rendered, err := formatter.FormatRateLimits(governor.Status(ctx))
		if err != nil {
			return err
		}

		sink, err := openCommandSink(cmd, format, "rate-limit.status")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		return writeRendered(sink.writer, rendered)
	},
}

func init() {
	addOutputFlags(rateLimitStatusCmd)

	rateLimitCmd.AddCommand(rateLimitStatusCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
