// Package memory provides an in-process fast-tier cache used in tests and as
// the dev-mode stand-in for Redis.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tjfontaine/autopilot-gateway/internal/cache"
)

const defaultSize = 4096

// maxTTL caps how long the LRU holds anything; per-entry TTLs are enforced on
// read since the LRU's own TTL is cache-wide.
const maxTTL = 24 * time.Hour

type item struct {
	entry     *cache.Entry
	expiresAt time.Time
}

// Store is an in-memory FastStore backed by an expirable LRU.
type Store struct {
	lru *expirable.LRU[string, item]
}

var _ cache.FastStore = (*Store)(nil)

// New creates an in-memory fast-tier store.
func New() *Store {
	return &Store{
		lru: expirable.NewLRU[string, item](defaultSize, nil, maxTTL),
	}
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, bool, error) {
	it, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(it.expiresAt) {
		s.lru.Remove(key)
		return nil, false, nil
	}
	return it.entry, true, nil
}

func (s *Store) Set(ctx context.Context, entry *cache.Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	s.lru.Add(entry.Key, item{entry: entry, expiresAt: time.Now().Add(ttl)})
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	for _, key := range s.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			if s.lru.Remove(key) {
				deleted++
			}
		}
	}
	return deleted, nil
}
