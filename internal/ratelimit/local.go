package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepInterval bounds how often expired buckets are reaped.
const sweepInterval = time.Minute

type localBucket struct {
	mu        sync.Mutex
	value     int64
	expiresAt time.Time
}

// LocalCounter is the in-process fallback counter. It is best-effort and
// per-process only; its job is to keep admission control running while the
// distributed store is down. A per-bucket lock gives the same
// increment-and-compare atomicity the remote counter provides.
type LocalCounter struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	lastSweep time.Time
	now       func() time.Time
}

var _ Counter = (*LocalCounter)(nil)

// NewLocalCounter creates an in-process counter.
func NewLocalCounter() *LocalCounter {
	return &LocalCounter{
		buckets: make(map[string]*localBucket),
		now:     time.Now,
	}
}

func (c *LocalCounter) bucket(key string, expiry time.Duration) *localBucket {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= sweepInterval {
		for k, b := range c.buckets {
			if now.After(b.expiresAt) {
				delete(c.buckets, k)
			}
		}
		c.lastSweep = now
	}

	b, ok := c.buckets[key]
	if !ok || now.After(b.expiresAt) {
		b = &localBucket{expiresAt: now.Add(expiry)}
		c.buckets[key] = b
	}
	return b
}

func (c *LocalCounter) IncrementAndGet(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	b := c.bucket(key, expiry)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value++
	return b.value, nil
}

func (c *LocalCounter) Get(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[key]
	if !ok || c.now().After(b.expiresAt) {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, nil
}

func (c *LocalCounter) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buckets, key)
	return nil
}
