//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/linkscanner/linkscanner/internal/config"
	"github.com/linkscanner/linkscanner/internal/core"
	"github.com/linkscanner/linkscanner/internal/core/engine"
	"github.com/stretchr/testify/require"
)

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.CheckHealth(ctx))
	require.NoError(t, store.Close())
}

func TestLibsqlStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)

	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   filepath.Join(t.TempDir(), "linkscanner.db"),
	}
	db, err := OpenLibsql(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, db.Migrate(ctx))
	require.Equal(t, 1, db.DB.Stats().MaxOpenConnections)

	db.Clock = func() time.Time { return now }

	state := core.NewRateWindowState()
	state.Record(now.Add(-30 * time.Second))
	state.Record(now.Add(-2 * time.Second))
	state.DailyCount["2025-01-01"] = 40
	require.NoError(t, db.Save(ctx, state))

	loaded, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.MinuteEvents, 2)
	require.True(t, loaded.MinuteEvents[0].Equal(now.Add(-30*time.Second)))
	require.Equal(t, 2, loaded.DailyCount["2025-03-10"])
	require.NotContains(t, loaded.DailyCount, "2025-01-01")
	require.Equal(t, 2, loaded.MonthlyCount["2025-03"])

	require.NoError(t, db.Save(ctx, core.NewRateWindowState()))
	loaded, err = db.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded.MinuteEvents)
	require.Empty(t, loaded.DailyCount)
}

func TestLibsqlGovernorKeepsDailyQuotaAcrossReopen(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
	clock := func() time.Time { return now }
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   filepath.Join(t.TempDir(), "linkscanner.db"),
	}
	limits := core.RateLimitConfig{PerMinute: 10, PerDay: 2, PerMonth: 100}

	open := func() *Store {
		db, err := OpenLibsql(ctx, cfg)
		require.NoError(t, err)
		require.NoError(t, db.Migrate(ctx))
		db.Clock = clock
		return db
	}

	first := open()
	gov := &engine.Governor{Store: first, Limits: limits, Clock: clock}
	require.True(t, gov.Admit(ctx).Allowed)
	require.True(t, gov.Admit(ctx).Allowed)
	require.Equal(t, core.ReasonDailyQuotaExceeded, gov.CheckAdmission(ctx).Reason)
	require.NoError(t, first.Close())

	second := open()
	defer func() { _ = second.Close() }()
	restarted := &engine.Governor{Store: second, Limits: limits, Clock: clock}

	status := restarted.Status(ctx)
	require.Equal(t, 2, status.DailyUsed)
	require.Equal(t, 2, status.MonthlyUsed)
	require.Equal(t, core.ReasonDailyQuotaExceeded, restarted.CheckAdmission(ctx).Reason)

	// A further save must not leave a second key for the same day.
	require.NoError(t, restarted.Reset(ctx))
	later := time.Date(2025, 3, 10, 13, 0, 0, 0, time.Local)
	now = later
	require.True(t, restarted.Admit(ctx).Allowed)
	loaded, err := second.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"2025-03-10": 1}, loaded.DailyCount)
}
