package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkscanner/linkscanner/internal/config"
	"github.com/linkscanner/linkscanner/internal/core"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
	path := filepath.Join(t.TempDir(), "rate_limit_state.json")
	fs := &FileStore{Path: path, Clock: func() time.Time { return now }}

	state := core.NewRateWindowState()
	state.Record(now.Add(-20 * time.Second))
	state.Record(now.Add(-10 * time.Second))

	require.NoError(t, fs.Save(ctx, state))

	loaded, err := fs.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.MinuteEvents, 2)
	assert.True(t, loaded.MinuteEvents[0].Equal(now.Add(-20*time.Second)))
	assert.Equal(t, 2, loaded.DailyCount["2025-03-10"])
	assert.Equal(t, 2, loaded.MonthlyCount["2025-03"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStoreMissingFileIsFresh(t *testing.T) {
	fs := &FileStore{Path: filepath.Join(t.TempDir(), "absent.json")}

	state, err := fs.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.MinuteEvents)
	assert.Empty(t, state.DailyCount)
	assert.Empty(t, state.MonthlyCount)
}

func TestFileStoreCorruptFileIsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	state, err := (&FileStore{Path: path}).Load(context.Background())
	require.Error(t, err)
	require.NotNil(t, state)
	assert.Empty(t, state.DailyCount)
}

func TestFileStoreVersionMismatchIsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	doc := `{"version":2,"minute_events":[],"daily_count":{"2025-03-10":3},"monthly_count":{}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	state, err := (&FileStore{Path: path}).Load(context.Background())
	require.ErrorIs(t, err, ErrStateVersion)
	assert.Empty(t, state.DailyCount)
}

func TestFileStorePrunesOnLoad(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
	path := filepath.Join(t.TempDir(), "state.json")
	fs := &FileStore{Path: path, Clock: func() time.Time { return now }}

	state := &core.RateWindowState{
		MinuteEvents: []time.Time{now.Add(-90 * time.Second), now.Add(-5 * time.Second)},
		DailyCount:   map[string]int{"2025-02-01": 7, "2025-03-10": 2},
		MonthlyCount: map[string]int{"2023-01": 9, "2025-03": 2},
	}
	require.NoError(t, fs.Save(ctx, state))

	loaded, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.MinuteEvents, 1)
	assert.Equal(t, map[string]int{"2025-03-10": 2}, loaded.DailyCount)
	assert.Equal(t, map[string]int{"2025-03": 2}, loaded.MonthlyCount)
}

func TestFileStoreHealth(t *testing.T) {
	fs := &FileStore{Path: filepath.Join(t.TempDir(), "state.json")}
	require.NoError(t, fs.CheckHealth(context.Background()))

	missing := &FileStore{Path: filepath.Join(t.TempDir(), "nope", "state.json")}
	require.Error(t, missing.CheckHealth(context.Background()))
}

func TestOpenFileDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s, err := Open(context.Background(), config.StoreConfig{Path: path})
	require.NoError(t, err)
	require.Equal(t, DriverFile, s.Driver())
	require.NoError(t, s.CheckHealth(context.Background()))
	require.NoError(t, s.Close())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "redis", Path: "x"})
	require.Error(t, err)
}
