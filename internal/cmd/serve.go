package cmd

import (
	"context"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkscanner/linkscanner/internal/config"
	"github.com/linkscanner/linkscanner/internal/core"
	"github.com/linkscanner/linkscanner/internal/core/store"
	errwrap "github.com/linkscanner/linkscanner/internal/errors"
	"github.com/linkscanner/linkscanner/internal/metrics"
	"github.com/linkscanner/linkscanner/internal/observability"
	"github.com/linkscanner/linkscanner/internal/server"
	"github.com/linkscanner/linkscanner/internal/server/handlers"
)

// AdminTokenEnv enables the admin signal endpoint when set.
const AdminTokenEnv = "LINKSCANNER_ADMIN_TOKEN"

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if !observability.MetricsReady() {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the URL scanning API with graceful shutdown support.

Routes:
  GET /                 banner and current rate limit usage
  GET /scan?url=        existing report or new submission
  GET /enhanced-scan?url=  scan plus domain reputation and related objects
  GET /rate-limits      current rate limit usage

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit

Rate limit counters are written through on every upstream call, so a
restart resumes from the persisted state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := loadConfig(ctx, serveOverrides(cmd))
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "configuration invalid")
		}

		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, cfg.Logging.Profile, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}

		rt, err := newScanRuntime(ctx, cfg, logger)
		if err != nil {
			return errwrap.WrapStorage(ctx, err, "counter store unavailable")
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("store_driver", rt.Store.Driver()),
			zap.Int("per_minute", cfg.RateLimits.PerMinute),
			zap.Int("per_day", cfg.RateLimits.PerDay),
			zap.Int("per_month", cfg.RateLimits.PerMonth))

		health := newHealthManager(cfg, rt.Store)

		srv := server.New(server.Options{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			Scanner: &handlers.ScanHandlers{
				Scanner:      rt.Orchestrator,
				Enricher:     rt.Enricher,
				Limits:       rt.Governor,
				Capabilities: rt.Capabilities,
				EnhancedMode: core.ScanFull,
			},
			Health: health,
			Version: &handlers.VersionHandler{
				Build:           versionInfo,
				Identity:        identity,
				UpstreamBaseURL: rt.Client.BaseURL,
			},
			AdminToken: os.Getenv(AdminTokenEnv),
		})

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: server, store, metrics, logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Failed to stop metrics exporter", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Closing counter store...")
			if err := rt.Close(); err != nil {
				return errwrap.WrapStorage(ctx, err, "counter store close failed")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		metrics.SetServerStartTime(time.Now().Unix())

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

// newHealthManager registers the service's health checkers.
func newHealthManager(cfg *config.Config, counters store.CounterStore) *handlers.HealthManager {
	identity := GetAppIdentity()

	hm := handlers.NewHealthManager(versionInfo.Version)
	hm.RegisterChecker("counter_store", counters)
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	}
	hm.RegisterChecker("app_identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})
	return hm
}

// serveOverrides returns only the flags the user actually set so that the
// config file and environment still apply otherwise.
func serveOverrides(cmd *cobra.Command) map[string]any {
	values := map[string]any{}
	if cmd.Flags().Changed("host") {
		values["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		values["port"] = serverPort
	}
	if len(values) == 0 {
		return nil
	}
	return map[string]any{"server": values}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
}
