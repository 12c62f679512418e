package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkscanner/linkscanner/internal/config"
	"github.com/linkscanner/linkscanner/internal/core"
)

func TestBuildLibsqlDSN(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StoreConfig
		want string
	}{
		{"url with token", config.StoreConfig{URL: "libsql://example.turso.io", AuthToken: "token123"}, "libsql://example.turso.io?authToken=token123"},
		{"url keeps query", config.StoreConfig{URL: "libsql://example.turso.io?foo=bar", AuthToken: "token123"}, "libsql://example.turso.io?authToken=token123&foo=bar"},
		{"url without token", config.StoreConfig{URL: "https://db.example.com"}, "https://db.example.com"},
		{"file prefix", config.StoreConfig{Path: "file:./linkscanner.db"}, "file:./linkscanner.db"},
		{"memory", config.StoreConfig{Path: ":memory:"}, ":memory:"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dsn, err := buildLibsqlDSN(tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, dsn)
		})
	}

	t.Run("bare path gains file prefix", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "counters.db")
		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: path})
		require.NoError(t, err)
		assert.Equal(t, "file:"+path, dsn)
		assert.DirExists(t, filepath.Dir(path))
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := buildLibsqlDSN(config.StoreConfig{})
		require.Error(t, err)
	})
}

func TestIsRemoteDSN(t *testing.T) {
	assert.True(t, isRemoteDSN("libsql://example.turso.io"))
	assert.True(t, isRemoteDSN("https://db.example.com"))
	assert.False(t, isRemoteDSN("file:/tmp/counters.db"))
	assert.False(t, isRemoteDSN(":memory:"))
}

func TestOpenSelectsFileDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "rate_limit_state.json")

	counters, err := Open(context.Background(), config.StoreConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = counters.Close() })

	assert.Equal(t, DriverFile, counters.Driver())
	assert.IsType(t, &FileStore{}, counters)
	assert.DirExists(t, filepath.Dir(path))
	require.NoError(t, counters.CheckHealth(context.Background()))
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: DriverFile})
	require.Error(t, err)

	_, err = Open(context.Background(), config.StoreConfig{Driver: "redis", Path: "x"})
	require.ErrorContains(t, err, "unsupported store driver")
}

func TestPrepareLoaded(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)

	fresh := prepareLoaded(nil, now)
	require.NotNil(t, fresh)
	assert.Empty(t, fresh.MinuteEvents)

	state := &core.RateWindowState{
		MinuteEvents: []time.Time{now.Add(-10 * time.Second), now.Add(-2 * time.Minute), now.Add(-30 * time.Second)},
		DailyCount:   map[string]int{"2025-03-10": 3, "2025-02-01": 9},
	}
	loaded := prepareLoaded(state, now)
	assert.Equal(t, []time.Time{now.Add(-30 * time.Second), now.Add(-10 * time.Second)}, loaded.MinuteEvents)
	assert.Equal(t, map[string]int{"2025-03-10": 3}, loaded.DailyCount)
	assert.NotNil(t, loaded.MonthlyCount)
}

func TestNormalizePeriodKey(t *testing.T) {
	cases := []struct {
		raw    string
		layout string
		want   string
	}{
		{"2025-03-10", dayKeyLayout, "2025-03-10"},
		{"2025-03-10T00:00:00Z", dayKeyLayout, "2025-03-10"},
		{"2025-03-10T00:00:00+09:00", dayKeyLayout, "2025-03-10"},
		{"2025-03-10 00:00:00", dayKeyLayout, "2025-03-10"},
		{"2025-03", monthKeyLayout, "2025-03"},
		{"2025-03-01T00:00:00Z", monthKeyLayout, "2025-03"},
		{"garbage", dayKeyLayout, "garbage"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizePeriodKey(tc.raw, tc.layout))
		})
	}
}
