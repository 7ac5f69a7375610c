package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTTL is the fast-tier TTL applied when the caller passes zero.
const DefaultTTL = time.Hour

// Entry is a cached response with its contributing accounting fields.
type Entry struct {
	Key              string          `db:"cache_key"`
	OrgID            string          `db:"org_id"`
	CoarseHash       string          `db:"coarse_hash"`
	Payload          json.RawMessage `db:"payload"`
	Model            string          `db:"model"`
	Provider         string          `db:"provider"`
	PromptTokens     int             `db:"prompt_tokens"`
	CompletionTokens int             `db:"completion_tokens"`
	Cost             decimal.Decimal `db:"cost"`
	Hits             int64           `db:"hits"`
	CreatedAt        time.Time       `db:"created_at"`
	LastAccessed     time.Time       `db:"last_accessed"`
}

// FastStore is the ephemeral tier: TTL-expired, best-effort, may be
// unavailable without affecting correctness.
type FastStore interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key with the given prefix and returns the
	// number deleted.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// DurableStore is the authoritative tier: writes are synchronous and entries
// live until explicit deletion or purge.
type DurableStore interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Upsert(ctx context.Context, entry *Entry) error
	// RecordHit bumps the hit counter and last-accessed timestamp.
	RecordHit(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteByOrg removes every entry for the organization and returns the
	// number deleted.
	DeleteByOrg(ctx context.Context, orgID string) (int64, error)
}

// ResponseCache coordinates the two tiers. The tiers are intentionally not
// transactional: a reader may see the durable tier populated while the fast
// tier is still missing, at worst causing a redundant upstream call.
type ResponseCache struct {
	fast    FastStore
	durable DurableStore
	ttl     time.Duration
	logger  *slog.Logger
}

// New creates a ResponseCache over the given tiers.
func New(fast FastStore, durable DurableStore, ttl time.Duration, logger *slog.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseCache{fast: fast, durable: durable, ttl: ttl, logger: logger}
}

// Get checks the fast tier first, then the durable tier. A durable hit is NOT
// written back to the fast tier: fast-tier freshness is an independent knob
// and a durable hit must not resurrect an expired fast entry. Hit bookkeeping
// goes to the durable tier best-effort on every hit from either tier.
func (c *ResponseCache) Get(ctx context.Context, orgID, key string) (*Entry, bool) {
	if entry, ok, err := c.fast.Get(ctx, key); err != nil {
		c.logger.Warn("fast tier get failed", slog.String("key", key), slog.String("error", err.Error()))
	} else if ok {
		c.recordHit(ctx, key)
		return entry, true
	}

	entry, ok, err := c.durable.Get(ctx, key)
	if err != nil {
		c.logger.Warn("durable tier get failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	c.recordHit(ctx, key)
	return entry, true
}

func (c *ResponseCache) recordHit(ctx context.Context, key string) {
	if err := c.durable.RecordHit(ctx, key); err != nil {
		c.logger.Warn("hit bookkeeping failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Set writes the durable tier first and synchronously; its failure fails the
// operation. The fast-tier write is best-effort and only logged.
func (c *ResponseCache) Set(ctx context.Context, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.LastAccessed = now

	if err := c.durable.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("durable cache write: %w", err)
	}

	if err := c.fast.Set(ctx, entry, ttl); err != nil {
		c.logger.Warn("fast tier set failed", slog.String("key", entry.Key), slog.String("error", err.Error()))
	}
	return nil
}

// Delete removes the key from both tiers.
func (c *ResponseCache) Delete(ctx context.Context, orgID, key string) error {
	if err := c.fast.Delete(ctx, key); err != nil {
		c.logger.Warn("fast tier delete failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	if _, err := c.durable.Delete(ctx, key); err != nil {
		return fmt.Errorf("durable cache delete: %w", err)
	}
	return nil
}

// Clear purges every entry for an organization from both tiers and reports
// the per-tier deletion counts.
func (c *ResponseCache) Clear(ctx context.Context, orgID string) (fastDeleted, durableDeleted int64, err error) {
	fastDeleted, ferr := c.fast.DeletePrefix(ctx, orgID+":")
	if ferr != nil {
		c.logger.Warn("fast tier clear failed", slog.String("org_id", orgID), slog.String("error", ferr.Error()))
	}
	durableDeleted, err = c.durable.DeleteByOrg(ctx, orgID)
	if err != nil {
		return fastDeleted, 0, fmt.Errorf("durable cache clear: %w", err)
	}
	return fastDeleted, durableDeleted, nil
}
