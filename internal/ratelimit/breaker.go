package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// failureThreshold is how many consecutive remote errors open the breaker.
const failureThreshold = 3

// Breaker selects between the distributed counter and the in-process
// fallback. While open, remote calls are skipped entirely except for a single
// probe once the backoff interval elapses; the probe's outcome closes the
// breaker or pushes the next probe further out.
type Breaker struct {
	remote Counter
	local  Counter
	logger *slog.Logger

	mu        sync.Mutex
	open      bool
	failures  int
	bo        backoff.BackOff
	nextProbe time.Time
	now       func() time.Time
}

// NewBreaker creates a breaker over the remote and local counters. remote may
// be nil, which pins the breaker open on the local counter.
func NewBreaker(remote, local Counter, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0
	return &Breaker{
		remote: remote,
		local:  local,
		logger: logger,
		bo:     bo,
		now:    time.Now,
	}
}

// tryRemote reports whether the next call should go to the remote counter.
func (b *Breaker) tryRemote() bool {
	if b.remote == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.now().After(b.nextProbe) {
		// One probe; concurrent callers stay on the local counter until it
		// either closes the breaker or schedules the next probe.
		b.nextProbe = b.now().Add(b.bo.NextBackOff())
		return true
	}
	return false
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		b.logger.Info("rate limit counter store recovered")
	}
	b.open = false
	b.failures = 0
	b.bo.Reset()
}

func (b *Breaker) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if !b.open && b.failures >= failureThreshold {
		b.open = true
		b.nextProbe = b.now().Add(b.bo.NextBackOff())
		b.logger.Warn("rate limit counter store unavailable, falling back to in-process counting",
			slog.String("error", err.Error()))
	}
}

// IncrementAndGet increments via the remote counter when healthy, falling
// back to the in-process counter on error. The local counter cannot fail.
func (b *Breaker) IncrementAndGet(ctx context.Context, key string, expiry time.Duration) int64 {
	if b.tryRemote() {
		v, err := b.remote.IncrementAndGet(ctx, key, expiry)
		if err == nil {
			b.recordSuccess()
			return v
		}
		b.recordFailure(err)
	}
	v, _ := b.local.IncrementAndGet(ctx, key, expiry)
	return v
}

// Get reads without incrementing.
func (b *Breaker) Get(ctx context.Context, key string) int64 {
	if b.tryRemote() {
		v, err := b.remote.Get(ctx, key)
		if err == nil {
			b.recordSuccess()
			return v
		}
		b.recordFailure(err)
	}
	v, _ := b.local.Get(ctx, key)
	return v
}

// Delete removes the key from whichever counters are reachable.
func (b *Breaker) Delete(ctx context.Context, key string) error {
	var remoteErr error
	if b.tryRemote() {
		if remoteErr = b.remote.Delete(ctx, key); remoteErr == nil {
			b.recordSuccess()
		} else {
			b.recordFailure(remoteErr)
		}
	}
	if err := b.local.Delete(ctx, key); err != nil {
		return err
	}
	return remoteErr
}
