package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/linkscanner/linkscanner/internal/config"
	"github.com/linkscanner/linkscanner/internal/core"
)

const (
	DriverFile   = "file"
	DriverLibsql = "libsql"
)

// CounterStore persists the rate governor's window state.
//
// Load never leaves the caller without a usable state: on missing or corrupt
// data it returns a fresh state alongside the error, which is meant for
// logging only.
type CounterStore interface {
	Load(ctx context.Context) (*core.RateWindowState, error)
	Save(ctx context.Context, state *core.RateWindowState) error
	CheckHealth(ctx context.Context) error
	Driver() string
	Close() error
}

// Store wraps the database connection for the libsql driver.
type Store struct {
	DB     *sql.DB
	Clock  func() time.Time
	driver string
}

// Open initializes the counter store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (CounterStore, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = DriverFile
	}

	if ctx == nil {
		ctx = context.Background()
	}

	switch driver {
	case DriverFile:
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			return nil, errors.New("store path is required")
		}
		if err := ensureStoreDir(path); err != nil {
			return nil, err
		}
		return &FileStore{Path: filepath.Clean(path)}, nil
	case DriverLibsql:
		s, err := OpenLibsql(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

// OpenLibsql opens a libsql connection without running migrations.
func OpenLibsql(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(DriverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	// Local SQLite files serialize writers; one connection avoids SQLITE_BUSY.
	if !isRemoteDSN(dsn) {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}

	return &Store{DB: db, driver: DriverLibsql}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Driver returns the configured store driver.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// CheckHealth pings the database.
func (s *Store) CheckHealth(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	return s.DB.PingContext(ctx)
}

func (s *Store) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}

	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") {
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	}

	if strings.HasPrefix(path, "libsql:") {
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func isRemoteDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "libsql:") || strings.HasPrefix(dsn, "http:") || strings.HasPrefix(dsn, "https:")
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}

	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}

	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

func prepareLoaded(state *core.RateWindowState, now time.Time) *core.RateWindowState {
	if state == nil {
		return core.NewRateWindowState()
	}
	state.Normalize()
	state.PruneMinute(now)
	state.PruneRetention(now)
	return state
}
