package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/linkscanner/linkscanner/internal/errors"
	"github.com/linkscanner/linkscanner/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify that configuration loads and the counter store is reachable.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}

		logger.Info("Running health check...")

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := loadConfig(ctx)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(ctx, err, "configuration invalid"))
			return
		}
		logger.Info("✅ Configuration valid",
			zap.String("store_driver", cfg.Store.Driver),
			zap.Int("per_minute", cfg.RateLimits.PerMinute))

		_, counters, err := openGovernor(ctx, cfg, logger)
		if err != nil {
			ExitWithCode(logger, foundry.ExitFileNotFound, "Counter store unavailable", err)
			return
		}
		defer counters.Close() // nolint:errcheck // best-effort cleanup

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := counters.CheckHealth(checkCtx); err != nil {
			ExitWithCode(logger, foundry.ExitFileNotFound, "Counter store unhealthy", err)
			return
		}
		logger.Info("✅ Counter store reachable", zap.String("driver", counters.Driver()))

		if cfg.VirusTotal.APIKey == "" {
			logger.Warn("⚠️  No VirusTotal API key configured")
		} else {
			logger.Info("✅ VirusTotal API key configured")
		}

		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
