package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type flakyCounter struct {
	inner Counter
	down  bool
	calls int
}

func (f *flakyCounter) IncrementAndGet(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	f.calls++
	if f.down {
		return 0, errors.New("connection refused")
	}
	return f.inner.IncrementAndGet(ctx, key, expiry)
}

func (f *flakyCounter) Get(ctx context.Context, key string) (int64, error) {
	if f.down {
		return 0, errors.New("connection refused")
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyCounter) Delete(ctx context.Context, key string) error {
	if f.down {
		return errors.New("connection refused")
	}
	return f.inner.Delete(ctx, key)
}

func testLimiter(limits Limits) *Limiter {
	return New(NewLocalCounter(), StaticLimits{L: limits}, nil)
}

func TestLimiterAdmitsUnderLimit(t *testing.T) {
	l := testLimiter(Limits{PerMinute: 3, PerHour: 100, PerDay: 1000, Enabled: true})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := l.Allow(ctx, "org-1")
		if !res.Allowed {
			t.Fatalf("request %d rejected, want admitted", i)
		}
	}

	res := l.Allow(ctx, "org-1")
	if res.Allowed {
		t.Fatal("request 4 admitted with limit 3/minute")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want within the minute window", res.RetryAfter)
	}
}

func TestLimiterReportsAllWindows(t *testing.T) {
	l := testLimiter(Limits{PerMinute: 1, PerHour: 100, PerDay: 1000, Enabled: true})
	ctx := context.Background()

	l.Allow(ctx, "org-1")
	res := l.Allow(ctx, "org-1")

	if res.Allowed {
		t.Fatal("second request admitted with limit 1/minute")
	}
	if len(res.Usage) != 3 {
		t.Fatalf("usage windows = %d, want 3", len(res.Usage))
	}
	// The minute rejection must not skip incrementing hour and day.
	for _, u := range res.Usage {
		if u.Used != 2 {
			t.Errorf("window %s used = %d, want 2", u.Window, u.Used)
		}
	}
}

func TestLimiterShortestRetryAfter(t *testing.T) {
	l := testLimiter(Limits{PerMinute: 1, PerHour: 1, PerDay: 1000, Enabled: true})
	ctx := context.Background()

	l.Allow(ctx, "org-1")
	res := l.Allow(ctx, "org-1")

	if res.Allowed {
		t.Fatal("expected rejection")
	}
	// Minute and hour both violated; retry-after must be the minute's.
	if res.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want the shorter (minute) window", res.RetryAfter)
	}
}

func TestLimiterResetAndUsage(t *testing.T) {
	l := testLimiter(Limits{PerMinute: 10, PerHour: 100, PerDay: 1000, Enabled: true})
	ctx := context.Background()

	l.Allow(ctx, "org-1")
	l.Allow(ctx, "org-1")

	if err := l.Reset(ctx, "org-1"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	res := l.Allow(ctx, "org-1")
	if !res.Allowed {
		t.Fatal("request after reset rejected")
	}
	for _, u := range res.Usage {
		if u.Used != 1 {
			t.Errorf("window %s used = %d after reset, want 1", u.Window, u.Used)
		}
	}

	usage := l.CurrentUsage(ctx, "org-1")
	for _, u := range usage {
		if u.Used != 1 {
			t.Errorf("CurrentUsage window %s = %d, want 1 (read must not increment)", u.Window, u.Used)
		}
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := testLimiter(Limits{PerMinute: 1, PerHour: 1, PerDay: 1, Enabled: false})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if res := l.Allow(ctx, "org-1"); !res.Allowed {
			t.Fatal("disabled limits rejected a request")
		}
	}
}

func TestLimiterTenantIsolation(t *testing.T) {
	l := testLimiter(Limits{PerMinute: 1, PerHour: 100, PerDay: 1000, Enabled: true})
	ctx := context.Background()

	if res := l.Allow(ctx, "org-1"); !res.Allowed {
		t.Fatal("org-1 first request rejected")
	}
	if res := l.Allow(ctx, "org-2"); !res.Allowed {
		t.Fatal("org-2 rejected because of org-1's usage")
	}
}

func TestLimiterConcurrentAtomicity(t *testing.T) {
	const limit = 50
	l := testLimiter(Limits{PerMinute: limit, PerHour: 10000, PerDay: 100000, Enabled: true})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := l.Allow(ctx, "org-1"); res.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != limit {
		t.Errorf("admitted = %d, want exactly %d", admitted, limit)
	}
}

func TestLimiterFailsOverToLocalCounter(t *testing.T) {
	remote := &flakyCounter{inner: NewLocalCounter(), down: true}
	l := New(remote, StaticLimits{L: Limits{PerMinute: 2, PerHour: 100, PerDay: 1000, Enabled: true}}, nil)
	ctx := context.Background()

	// Store down: requests still rate limited via the in-process counter.
	for i := 1; i <= 2; i++ {
		if res := l.Allow(ctx, "org-1"); !res.Allowed {
			t.Fatalf("request %d rejected during store outage", i)
		}
	}
	if res := l.Allow(ctx, "org-1"); res.Allowed {
		t.Fatal("limit not enforced by the in-process fallback")
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	remote := &flakyCounter{inner: NewLocalCounter(), down: true}
	b := NewBreaker(remote, NewLocalCounter(), nil)
	ctx := context.Background()

	for i := 0; i < failureThreshold+2; i++ {
		b.IncrementAndGet(ctx, "k", time.Minute)
	}
	// Once open, remote stops being called until the probe interval elapses.
	callsWhenOpened := remote.calls
	b.IncrementAndGet(ctx, "k", time.Minute)
	if remote.calls != callsWhenOpened {
		t.Errorf("remote called while breaker open: %d -> %d", callsWhenOpened, remote.calls)
	}
}

func TestBreakerClosesOnProbeSuccess(t *testing.T) {
	remote := &flakyCounter{inner: NewLocalCounter(), down: true}
	b := NewBreaker(remote, NewLocalCounter(), nil)
	ctx := context.Background()

	for i := 0; i < failureThreshold; i++ {
		b.IncrementAndGet(ctx, "k", time.Minute)
	}

	// Heal the store and move time past the probe deadline.
	remote.down = false
	b.mu.Lock()
	b.nextProbe = time.Now().Add(-time.Second)
	b.mu.Unlock()

	b.IncrementAndGet(ctx, "k", time.Minute)

	b.mu.Lock()
	open := b.open
	b.mu.Unlock()
	if open {
		t.Error("breaker still open after successful probe")
	}
}
