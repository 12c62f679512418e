package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/linkscanner/linkscanner/internal/core"
)

const stateVersion = 1

// FileStore keeps governor state in a single JSON document.
type FileStore struct {
	Path  string
	Clock func() time.Time

	mu sync.Mutex
}

type stateDocument struct {
	Version      int            `json:"version"`
	MinuteEvents []time.Time    `json:"minute_events"`
	DailyCount   map[string]int `json:"daily_count"`
	MonthlyCount map[string]int `json:"monthly_count"`
	SavedAt      time.Time      `json:"saved_at"`
}

// ErrStateVersion marks a state document written by an incompatible version.
var ErrStateVersion = errors.New("unsupported rate limit state version")

// Load reads the state file. A missing file yields a fresh state and no
// error; unreadable or corrupt content yields a fresh state and an error.
func (f *FileStore) Load(ctx context.Context) (*core.RateWindowState, error) {
	if f == nil || f.Path == "" {
		return core.NewRateWindowState(), errors.New("state file path is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.NewRateWindowState(), nil
		}
		return core.NewRateWindowState(), fmt.Errorf("read rate limit state: %w", err)
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return core.NewRateWindowState(), fmt.Errorf("decode rate limit state: %w", err)
	}
	if doc.Version != stateVersion {
		return core.NewRateWindowState(), fmt.Errorf("%w: %d", ErrStateVersion, doc.Version)
	}

	state := &core.RateWindowState{
		MinuteEvents: doc.MinuteEvents,
		DailyCount:   doc.DailyCount,
		MonthlyCount: doc.MonthlyCount,
	}
	return prepareLoaded(state, f.now()), nil
}

// Save writes the state to a temporary file in the target directory, syncs
// it and renames it over the previous document.
func (f *FileStore) Save(ctx context.Context, state *core.RateWindowState) error {
	if f == nil || f.Path == "" {
		return errors.New("state file path is required")
	}
	if state == nil {
		return errors.New("rate window state is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc := stateDocument{
		Version:      stateVersion,
		MinuteEvents: state.MinuteEvents,
		DailyCount:   state.DailyCount,
		MonthlyCount: state.MonthlyCount,
		SavedAt:      f.now(),
	}
	if doc.MinuteEvents == nil {
		doc.MinuteEvents = []time.Time{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rate limit state: %w", err)
	}

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}

// CheckHealth verifies the state directory exists and accepts new files.
func (f *FileStore) CheckHealth(ctx context.Context) error {
	if f == nil || f.Path == "" {
		return errors.New("state file path is required")
	}

	probe, err := os.CreateTemp(filepath.Dir(f.Path), ".health-*.tmp")
	if err != nil {
		return fmt.Errorf("state directory not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// Driver returns the store driver name.
func (f *FileStore) Driver() string {
	return DriverFile
}

// Close is a no-op; the file is not held open between saves.
func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) now() time.Time {
	if f != nil && f.Clock != nil {
		return f.Clock()
	}
	return time.Now()
}
