package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/linkscanner/linkscanner/internal/config"
	"github.com/linkscanner/linkscanner/internal/core/engine"
	"github.com/linkscanner/linkscanner/internal/core/store"
)

// openGovernor opens the configured counter store and a governor reading
// from it. The caller owns the returned store and must close it.
func openGovernor(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*engine.Governor, store.CounterStore, error) {
	counters, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s counter store: %w", cfg.Store.Driver, err)
	}

	if logger != nil {
		logger.Debug("Counter store opened",
			zap.String("driver", counters.Driver()),
			zap.String("path", cfg.Store.Path))
	}

	governor := &engine.Governor{
		Store:  counters,
		Limits: cfg.RateLimits,
		Logger: logger,
	}
	return governor, counters, nil
}
