// Package ratelimit implements per-organization admission control across
// minute, hour and day windows on top of an atomic distributed counter with
// an in-process fallback.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Window describes one rate-limit window.
type Window struct {
	Name     string
	Duration time.Duration
}

// The three windows are checked in this order for every request; a violation
// in one never skips incrementing or reporting the others.
var Windows = []Window{
	{Name: "minute", Duration: time.Minute},
	{Name: "hour", Duration: time.Hour},
	{Name: "day", Duration: 24 * time.Hour},
}

// skewBuffer extends counter expiry slightly past the window so a bucket
// outlives clock skew between processes.
const skewBuffer = 10 * time.Second

// Limits holds the per-window request limits for an organization.
type Limits struct {
	PerMinute int64
	PerHour   int64
	PerDay    int64
	Enabled   bool
}

// DefaultLimits apply when an organization has no configured override.
var DefaultLimits = Limits{PerMinute: 100, PerHour: 3000, PerDay: 50000, Enabled: true}

func (l Limits) forWindow(name string) int64 {
	switch name {
	case "minute":
		return l.PerMinute
	case "hour":
		return l.PerHour
	default:
		return l.PerDay
	}
}

// WindowUsage reports one window's current state; returned for every window
// on every decision so callers can emit telemetry headers.
type WindowUsage struct {
	Window     string
	Used       int64
	Limit      int64
	ResetAfter time.Duration
}

// Result is an admission decision.
type Result struct {
	Allowed bool
	Usage   []WindowUsage
	// RetryAfter is the shortest time until one of the violated windows
	// rolls over. Zero when Allowed.
	RetryAfter time.Duration
}

// Counter is the atomic increment-and-get boundary. IncrementAndGet must be
// atomic per key: two concurrent calls may never both observe a value under
// the limit when their sum exceeds it.
type Counter interface {
	IncrementAndGet(ctx context.Context, key string, expiry time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// LimitSource resolves the configured limits for an organization.
type LimitSource interface {
	Limits(orgID string) Limits
}

// StaticLimits is a LimitSource returning the same limits for every org.
type StaticLimits struct{ L Limits }

func (s StaticLimits) Limits(string) Limits { return s.L }

// Limiter checks three independent windows per organization. The counter is
// selected per call by the breaker: the distributed store while healthy, the
// in-process fallback during an outage, so a store outage degrades to
// rate-limited per-process instead of unlimited or a hard failure.
type Limiter struct {
	breaker *Breaker
	limits  LimitSource
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Limiter. remote may be nil, in which case only the local
// counter is used.
func New(remote Counter, limits LimitSource, logger *slog.Logger) *Limiter {
	if limits == nil {
		limits = StaticLimits{L: DefaultLimits}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		breaker: NewBreaker(remote, NewLocalCounter(), logger),
		limits:  limits,
		logger:  logger,
		now:     time.Now,
	}
}

func bucketKey(orgID string, w Window, now time.Time) (string, time.Time) {
	start := now.Truncate(w.Duration)
	return fmt.Sprintf("ratelimit:%s:%s:%d", orgID, w.Name, start.Unix()), start
}

// Allow increments every window's counter for the current bucket and admits
// the request only when no window exceeds its limit. All windows are
// incremented and reported even when an earlier one already rejected.
func (l *Limiter) Allow(ctx context.Context, orgID string) Result {
	limits := l.limits.Limits(orgID)
	if !limits.Enabled {
		return Result{Allowed: true}
	}

	now := l.now()
	res := Result{Allowed: true}
	for _, w := range Windows {
		key, start := bucketKey(orgID, w, now)
		limit := limits.forWindow(w.Name)
		resetAfter := start.Add(w.Duration).Sub(now)

		used := l.breaker.IncrementAndGet(ctx, key, w.Duration+skewBuffer)

		res.Usage = append(res.Usage, WindowUsage{
			Window:     w.Name,
			Used:       used,
			Limit:      limit,
			ResetAfter: resetAfter,
		})

		if used > limit {
			res.Allowed = false
			if res.RetryAfter == 0 || resetAfter < res.RetryAfter {
				res.RetryAfter = resetAfter
			}
		}
	}
	return res
}

// CurrentUsage reads every window's current counter without incrementing.
func (l *Limiter) CurrentUsage(ctx context.Context, orgID string) []WindowUsage {
	limits := l.limits.Limits(orgID)
	now := l.now()
	usage := make([]WindowUsage, 0, len(Windows))
	for _, w := range Windows {
		key, start := bucketKey(orgID, w, now)
		used := l.breaker.Get(ctx, key)
		usage = append(usage, WindowUsage{
			Window:     w.Name,
			Used:       used,
			Limit:      limits.forWindow(w.Name),
			ResetAfter: start.Add(w.Duration).Sub(now),
		})
	}
	return usage
}

// Reset deletes the three current-bucket keys for an organization.
func (l *Limiter) Reset(ctx context.Context, orgID string) error {
	now := l.now()
	for _, w := range Windows {
		key, _ := bucketKey(orgID, w, now)
		if err := l.breaker.Delete(ctx, key); err != nil {
			return fmt.Errorf("reset %s window: %w", w.Name, err)
		}
	}
	return nil
}
