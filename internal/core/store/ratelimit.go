package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linkscanner/linkscanner/internal/core"
)

// Load reads governor state from the database.
func (s *Store) Load(ctx context.Context) (*core.RateWindowState, error) {
	now := s.now()
	if s == nil || s.DB == nil {
		return core.NewRateWindowState(), errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	state := core.NewRateWindowState()

	rows, err := s.DB.QueryContext(ctx, `SELECT occurred_at FROM minute_events ORDER BY occurred_at`)
	if err != nil {
		return core.NewRateWindowState(), fmt.Errorf("fetch minute events: %w", err)
	}
	for rows.Next() {
		var nanos int64
		if err := rows.Scan(&nanos); err != nil {
			_ = rows.Close()
			return core.NewRateWindowState(), fmt.Errorf("scan minute event: %w", err)
		}
		state.MinuteEvents = append(state.MinuteEvents, time.Unix(0, nanos))
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return core.NewRateWindowState(), fmt.Errorf("fetch minute events: %w", err)
	}
	_ = rows.Close()

	if err := s.loadCounts(ctx, `SELECT day, request_count FROM daily_counts`, dayKeyLayout, state.DailyCount); err != nil {
		return core.NewRateWindowState(), fmt.Errorf("fetch daily counts: %w", err)
	}
	if err := s.loadCounts(ctx, `SELECT month, request_count FROM monthly_counts`, monthKeyLayout, state.MonthlyCount); err != nil {
		return core.NewRateWindowState(), fmt.Errorf("fetch monthly counts: %w", err)
	}

	return prepareLoaded(state, now), nil
}

// Save replaces the persisted state inside a single transaction.
func (s *Store) Save(ctx context.Context, state *core.RateWindowState) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if state == nil {
		return errors.New("rate window state is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM minute_events`,
		`DELETE FROM daily_counts`,
		`DELETE FROM monthly_counts`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear rate state: %w", err)
		}
	}

	for _, event := range state.MinuteEvents {
		if _, err := tx.ExecContext(ctx, `INSERT INTO minute_events (occurred_at) VALUES (?)`, event.UnixNano()); err != nil {
			return fmt.Errorf("store minute event: %w", err)
		}
	}
	for day, count := range state.DailyCount {
		if _, err := tx.ExecContext(ctx, `INSERT INTO daily_counts (day, request_count) VALUES (?, ?)`, day, count); err != nil {
			return fmt.Errorf("store daily count: %w", err)
		}
	}
	for month, count := range state.MonthlyCount {
		if _, err := tx.ExecContext(ctx, `INSERT INTO monthly_counts (month, request_count) VALUES (?, ?)`, month, count); err != nil {
			return fmt.Errorf("store monthly count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state save: %w", err)
	}
	return nil
}

// Period key layouts, matching core.DayKey and core.MonthKey.
const (
	dayKeyLayout   = "2006-01-02"
	monthKeyLayout = "2006-01"
)

func (s *Store) loadCounts(ctx context.Context, query, layout string, into map[string]int) error {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			raw   string
			count int
		)
		if err := rows.Scan(&raw, &count); err != nil {
			return err
		}
		into[normalizePeriodKey(raw, layout)] += count
	}
	return rows.Err()
}

// normalizePeriodKey undoes libsql reading date-shaped TEXT columns back as
// timestamps ("2025-03-10" comes back as "2025-03-10T00:00:00Z"). The
// calendar date is taken as written, without a zone conversion.
func normalizePeriodKey(raw, layout string) string {
	if _, err := time.Parse(layout, raw); err == nil {
		return raw
	}
	for _, candidate := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(candidate, raw); err == nil {
			return parsed.Format(layout)
		}
	}
	return raw
}
