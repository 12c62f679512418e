package core

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	// MinuteWindow is the span of the sliding per-minute window.
	MinuteWindow = time.Minute

	// DailyRetentionDays bounds how many past days of counters are kept.
	DailyRetentionDays = 7

	// MonthlyRetentionMonths bounds how many past months of counters are kept.
	MonthlyRetentionMonths = 12

	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// RateLimitConfig holds the three upstream request thresholds.
type RateLimitConfig struct {
	PerMinute int `json:"per_minute" yaml:"per_minute" mapstructure:"per_minute"`
	PerDay    int `json:"per_day" yaml:"per_day" mapstructure:"per_day"`
	PerMonth  int `json:"per_month" yaml:"per_month" mapstructure:"per_month"`
}

// RateWindowState is the process-wide request accounting state.
//
// MinuteEvents holds one timestamp per admitted upstream call inside the
// trailing minute, oldest first. DailyCount and MonthlyCount are keyed by
// local calendar day (YYYY-MM-DD) and month (YYYY-MM).
type RateWindowState struct {
	MinuteEvents []time.Time
	DailyCount   map[string]int
	MonthlyCount map[string]int
}

// NewRateWindowState returns an empty state.
func NewRateWindowState() *RateWindowState {
	return &RateWindowState{
		MinuteEvents: []time.Time{},
		DailyCount:   map[string]int{},
		MonthlyCount: map[string]int{},
	}
}

// DayKey returns the local calendar day key for t.
func DayKey(t time.Time) string {
	return t.Local().Format(dayLayout)
}

// MonthKey returns the local calendar month key for t.
func MonthKey(t time.Time) string {
	return t.Local().Format(monthLayout)
}

// Normalize fills nil maps and sorts minute events so that the oldest event
// is always first.
func (s *RateWindowState) Normalize() {
	if s == nil {
		return
	}
	if s.MinuteEvents == nil {
		s.MinuteEvents = []time.Time{}
	}
	if s.DailyCount == nil {
		s.DailyCount = map[string]int{}
	}
	if s.MonthlyCount == nil {
		s.MonthlyCount = map[string]int{}
	}
	sort.SliceStable(s.MinuteEvents, func(i, j int) bool {
		return s.MinuteEvents[i].Before(s.MinuteEvents[j])
	})
}

// PruneMinute drops minute events that are at least MinuteWindow old.
func (s *RateWindowState) PruneMinute(now time.Time) {
	if s == nil {
		return
	}
	kept := s.MinuteEvents[:0]
	for _, event := range s.MinuteEvents {
		if now.Sub(event) < MinuteWindow {
			kept = append(kept, event)
		}
	}
	s.MinuteEvents = kept
}

// PruneRetention drops day and month counters that fall outside the
// retention windows. The current day and month are never removed.
func (s *RateWindowState) PruneRetention(now time.Time) {
	if s == nil {
		return
	}

	local := now.Local()
	dayCutoff := local.AddDate(0, 0, -DailyRetentionDays).Format(dayLayout)
	for key := range s.DailyCount {
		if key < dayCutoff {
			delete(s.DailyCount, key)
		}
	}

	firstOfMonth := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, local.Location())
	monthCutoff := firstOfMonth.AddDate(0, -MonthlyRetentionMonths, 0).Format(monthLayout)
	for key := range s.MonthlyCount {
		if key < monthCutoff {
			delete(s.MonthlyCount, key)
		}
	}
}

// Record applies one admitted request at now to all three counters.
func (s *RateWindowState) Record(now time.Time) {
	s.MinuteEvents = append(s.MinuteEvents, now)
	s.DailyCount[DayKey(now)]++
	s.MonthlyCount[MonthKey(now)]++
}

// Clone returns a deep copy suitable for handing to a persistence layer.
func (s *RateWindowState) Clone() *RateWindowState {
	if s == nil {
		return NewRateWindowState()
	}
	out := &RateWindowState{
		MinuteEvents: make([]time.Time, len(s.MinuteEvents)),
		DailyCount:   make(map[string]int, len(s.DailyCount)),
		MonthlyCount: make(map[string]int, len(s.MonthlyCount)),
	}
	copy(out.MinuteEvents, s.MinuteEvents)
	for k, v := range s.DailyCount {
		out.DailyCount[k] = v
	}
	for k, v := range s.MonthlyCount {
		out.MonthlyCount[k] = v
	}
	return out
}

// DenialReason names the threshold that refused an admission.
type DenialReason string

const (
	ReasonNone                 DenialReason = ""
	ReasonMinuteLimitExceeded  DenialReason = "minute_limit_exceeded"
	ReasonDailyQuotaExceeded   DenialReason = "daily_quota_exceeded"
	ReasonMonthlyQuotaExceeded DenialReason = "monthly_quota_exceeded"

	// ReasonUpstreamThrottled is reported when the upstream itself answers 429.
	ReasonUpstreamThrottled DenialReason = "upstream_rate_limited"
)

// Decision is the result of an admission check. A denial is a normal value,
// not an error.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     DenialReason  `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"-"`
	Limit      int           `json:"limit,omitempty"`
}

// RetryAfterSeconds rounds the retry hint up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return CeilSeconds(d.RetryAfter)
}

// Message renders a caller-facing explanation for a denial.
func (d Decision) Message() string {
	switch d.Reason {
	case ReasonMinuteLimitExceeded:
		return fmt.Sprintf("Rate limit exceeded: %d requests per minute allowed, retry in %d seconds", d.Limit, d.RetryAfterSeconds())
	case ReasonDailyQuotaExceeded:
		return fmt.Sprintf("Rate limit exceeded: daily quota of %d requests reached, resets at local midnight", d.Limit)
	case ReasonMonthlyQuotaExceeded:
		return fmt.Sprintf("Rate limit exceeded: monthly quota of %d requests reached, resets on the first of next month", d.Limit)
	case ReasonUpstreamThrottled:
		return "Rate limit exceeded: upstream API refused the request (HTTP 429)"
	default:
		return ""
	}
}

// RateLimitSnapshot is the read-only view of governor state exposed to callers.
type RateLimitSnapshot struct {
	RequestsLastMinute int    `json:"requests_last_minute" yaml:"requests_last_minute"`
	MinuteLimit        int    `json:"minute_limit" yaml:"minute_limit"`
	DailyUsed          int    `json:"daily_used" yaml:"daily_used"`
	DailyQuota         int    `json:"daily_quota" yaml:"daily_quota"`
	MonthlyUsed        int    `json:"monthly_used" yaml:"monthly_used"`
	MonthlyQuota       int    `json:"monthly_quota" yaml:"monthly_quota"`
	SecondsUntilReset  int    `json:"seconds_until_reset" yaml:"seconds_until_reset"`
	Day                string `json:"day" yaml:"day"`
	Month              string `json:"month" yaml:"month"`
}

// CeilSeconds converts d to whole seconds, rounding up.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
