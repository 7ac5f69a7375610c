package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter implements the atomic increment-and-get boundary used by the rate
// limiter. The increment and expiry are pipelined; EXPIRE NX means only the
// request that creates a bucket sets its lifetime, so the window never slides.
type Counter struct {
	client redis.UniversalClient
}

// NewCounter creates a Redis-backed counter.
func NewCounter(client redis.UniversalClient) *Counter {
	return &Counter{client: client}
}

func (c *Counter) IncrementAndGet(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr pipeline: %w", err)
	}
	return incr.Val(), nil
}

func (c *Counter) Get(ctx context.Context, key string) (int64, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get counter: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter value %q: %w", raw, err)
	}
	return n, nil
}

func (c *Counter) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del counter: %w", err)
	}
	return nil
}
