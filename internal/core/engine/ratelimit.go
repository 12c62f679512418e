package engine

import (
	"context"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/linkscanner/linkscanner/internal/core"
	"github.com/linkscanner/linkscanner/internal/metrics"
)

// CounterStore persists governor state between runs.
type CounterStore interface {
	Load(ctx context.Context) (*core.RateWindowState, error)
	Save(ctx context.Context, state *core.RateWindowState) error
}

// DefaultRateLimits mirrors the public VirusTotal API allowance.
var DefaultRateLimits = core.RateLimitConfig{
	PerMinute: 4,
	PerDay:    500,
	PerMonth:  15500,
}

// Governor enforces the per-minute, per-day and per-month upstream budget.
//
// All state lives behind a single mutex; every record is written through to
// Store before the lock is released. A limit of zero or less disables that
// threshold.
type Governor struct {
	Store  CounterStore
	Limits core.RateLimitConfig
	Clock  func() time.Time
	Logger *logging.Logger

	mu     sync.Mutex
	state  *core.RateWindowState
	loaded bool
}

// NewGovernor builds a governor and loads persisted state immediately.
func NewGovernor(ctx context.Context, store CounterStore, limits core.RateLimitConfig) *Governor {
	g := &Governor{Store: store, Limits: limits}
	g.mu.Lock()
	g.ensureLoaded(ctx)
	g.mu.Unlock()
	return g
}

// CheckAdmission reports whether one more upstream call may be made now.
// It does not record anything.
func (g *Governor) CheckAdmission(ctx context.Context) core.Decision {
	if g == nil {
		return core.Decision{Allowed: true}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureLoaded(ctx)
	decision := g.check(g.now())
	g.observe(decision)
	return decision
}

// RecordRequest accounts for one upstream call made now.
func (g *Governor) RecordRequest(ctx context.Context) {
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureLoaded(ctx)
	g.record(ctx, g.now())
}

// Admit checks admission and, when allowed, records the call in the same
// critical section.
func (g *Governor) Admit(ctx context.Context) core.Decision {
	if g == nil {
		return core.Decision{Allowed: true}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureLoaded(ctx)
	now := g.now()
	decision := g.check(now)
	if decision.Allowed {
		g.record(ctx, now)
	}
	g.observe(decision)
	return decision
}

// Status returns a snapshot of current usage.
func (g *Governor) Status(ctx context.Context) core.RateLimitSnapshot {
	if g == nil {
		return core.RateLimitSnapshot{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureLoaded(ctx)
	now := g.now()
	g.state.PruneMinute(now)

	day := core.DayKey(now)
	month := core.MonthKey(now)
	snapshot := core.RateLimitSnapshot{
		RequestsLastMinute: len(g.state.MinuteEvents),
		MinuteLimit:        g.Limits.PerMinute,
		DailyUsed:          g.state.DailyCount[day],
		DailyQuota:         g.Limits.PerDay,
		MonthlyUsed:        g.state.MonthlyCount[month],
		MonthlyQuota:       g.Limits.PerMonth,
		Day:                day,
		Month:              month,
	}
	if g.minuteExhausted() {
		snapshot.SecondsUntilReset = core.CeilSeconds(g.minuteRetryAfter(now))
	}
	return snapshot
}

// Reset clears all counters and persists the empty state.
func (g *Governor) Reset(ctx context.Context) error {
	if g == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = core.NewRateWindowState()
	g.loaded = true
	if g.Store == nil {
		return nil
	}
	return g.Store.Save(ctx, g.state.Clone())
}

func (g *Governor) ensureLoaded(ctx context.Context) {
	if g.loaded {
		return
	}
	g.loaded = true

	var state *core.RateWindowState
	if g.Store != nil {
		loaded, err := g.Store.Load(ctx)
		if err != nil {
			g.warn("Rate limit state unavailable, starting fresh", zap.Error(err))
		}
		state = loaded
	}
	if state == nil {
		state = core.NewRateWindowState()
	}

	now := g.now()
	state.Normalize()
	state.PruneRetention(now)
	state.PruneMinute(now)
	g.state = state
}

func (g *Governor) check(now time.Time) core.Decision {
	g.state.PruneMinute(now)

	if g.minuteExhausted() {
		return core.Decision{
			Reason:     core.ReasonMinuteLimitExceeded,
			RetryAfter: g.minuteRetryAfter(now),
			Limit:      g.Limits.PerMinute,
		}
	}
	if g.Limits.PerDay > 0 && g.state.DailyCount[core.DayKey(now)] >= g.Limits.PerDay {
		return core.Decision{Reason: core.ReasonDailyQuotaExceeded, Limit: g.Limits.PerDay}
	}
	if g.Limits.PerMonth > 0 && g.state.MonthlyCount[core.MonthKey(now)] >= g.Limits.PerMonth {
		return core.Decision{Reason: core.ReasonMonthlyQuotaExceeded, Limit: g.Limits.PerMonth}
	}
	return core.Decision{Allowed: true}
}

func (g *Governor) minuteExhausted() bool {
	return g.Limits.PerMinute > 0 && len(g.state.MinuteEvents) >= g.Limits.PerMinute
}

// minuteRetryAfter assumes minute events are pruned and non-empty.
func (g *Governor) minuteRetryAfter(now time.Time) time.Duration {
	oldest := g.state.MinuteEvents[0]
	wait := core.MinuteWindow - now.Sub(oldest)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func (g *Governor) record(ctx context.Context, now time.Time) {
	g.state.Record(now)
	if g.Store == nil {
		return
	}
	// The call has already been spent upstream; a cancelled caller must not
	// stop it from being persisted.
	if err := g.Store.Save(context.WithoutCancel(ctx), g.state.Clone()); err != nil {
		g.warn("Failed to persist rate limit state", zap.Error(err))
	}
}

func (g *Governor) observe(decision core.Decision) {
	metrics.RecordGovernorDecision(decision.Allowed, string(decision.Reason))
	if !decision.Allowed && g.Logger != nil {
		g.Logger.Info("Upstream request denied by rate governor",
			zap.String("reason", string(decision.Reason)),
			zap.Int("limit", decision.Limit),
			zap.Int("retry_after_seconds", decision.RetryAfterSeconds()))
	}
}

func (g *Governor) warn(msg string, fields ...zap.Field) {
	if g.Logger != nil {
		g.Logger.Warn(msg, fields...)
	}
}

func (g *Governor) now() time.Time {
	if g != nil && g.Clock != nil {
		return g.Clock()
	}
	return time.Now()
}
