// Package sqldb provides the durable cache tier and the audit tables on a
// relational store.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/autopilot-gateway/internal/cache"
	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

// Store is the SQL implementation of the durable cache tier and the audit
// record sink.
type Store struct {
	db *sqlx.DB
}

var _ cache.DurableStore = (*Store)(nil)

// New opens a SQLite store at the given DSN and initializes the schema.
func New(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute pragma: %w", err)
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS response_cache (
cache_key TEXT PRIMARY KEY,
org_id TEXT NOT NULL,
coarse_hash TEXT NOT NULL,
payload TEXT NOT NULL,
model TEXT NOT NULL,
provider TEXT NOT NULL,
prompt_tokens INTEGER NOT NULL,
completion_tokens INTEGER NOT NULL,
cost TEXT NOT NULL,
hits INTEGER NOT NULL DEFAULT 0,
created_at TIMESTAMP NOT NULL,
last_accessed TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_response_cache_org ON response_cache(org_id)`,
		`CREATE INDEX IF NOT EXISTS idx_response_cache_coarse ON response_cache(coarse_hash)`,
		`CREATE TABLE IF NOT EXISTS routing_decisions (
id TEXT PRIMARY KEY,
org_id TEXT NOT NULL,
requested_model TEXT NOT NULL,
selected_model TEXT NOT NULL,
provider TEXT,
task_type TEXT NOT NULL,
confidence REAL NOT NULL,
reason TEXT NOT NULL,
cache_hit INTEGER NOT NULL DEFAULT 0,
degraded INTEGER NOT NULL DEFAULT 0,
prompt_length INTEGER NOT NULL DEFAULT 0,
temperature REAL NOT NULL DEFAULT 0,
cost TEXT NOT NULL,
error TEXT,
created_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_decisions_org ON routing_decisions(org_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS validation_attempts (
id TEXT PRIMARY KEY,
org_id TEXT NOT NULL,
request_id TEXT NOT NULL,
defect TEXT NOT NULL,
strategy TEXT NOT NULL,
attempt INTEGER NOT NULL,
fixed INTEGER NOT NULL DEFAULT 0,
created_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_validation_attempts_request ON validation_attempts(request_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB returns the underlying sqlx.DB for advanced operations.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, bool, error) {
	var entry cache.Entry
	err := s.db.GetContext(ctx, &entry,
		`SELECT cache_key, org_id, coarse_hash, payload, model, provider,
prompt_tokens, completion_tokens, cost, hits, created_at, last_accessed
FROM response_cache WHERE cache_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select cache entry: %w", err)
	}
	return &entry, true, nil
}

// Upsert inserts or refreshes an entry. On conflict the payload and
// accounting fields are replaced; the hit counter is preserved.
func (s *Store) Upsert(ctx context.Context, entry *cache.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO response_cache
(cache_key, org_id, coarse_hash, payload, model, provider, prompt_tokens, completion_tokens, cost, hits, created_at, last_accessed)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(cache_key) DO UPDATE SET
payload = excluded.payload,
coarse_hash = excluded.coarse_hash,
model = excluded.model,
provider = excluded.provider,
prompt_tokens = excluded.prompt_tokens,
completion_tokens = excluded.completion_tokens,
cost = excluded.cost,
last_accessed = excluded.last_accessed`,
		entry.Key, entry.OrgID, entry.CoarseHash, []byte(entry.Payload), entry.Model,
		entry.Provider, entry.PromptTokens, entry.CompletionTokens, entry.Cost.String(),
		entry.Hits, entry.CreatedAt, entry.LastAccessed)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *Store) RecordHit(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE response_cache SET hits = hits + 1, last_accessed = ? WHERE cache_key = ?`,
		time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("record cache hit: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE cache_key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete cache entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) DeleteByOrg(ctx context.Context, orgID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE org_id = ?`, orgID)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries for org: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertRoutingDecision persists a routing decision audit record.
func (s *Store) InsertRoutingDecision(ctx context.Context, d *domain.RoutingDecision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing_decisions
(id, org_id, requested_model, selected_model, provider, task_type, confidence, reason, cache_hit, degraded, prompt_length, temperature, cost, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrgID, d.RequestedModel, d.SelectedModel, string(d.Provider), d.TaskType,
		d.Confidence, d.Reason, d.CacheHit, d.Degraded, d.PromptLength, d.Temperature,
		d.Cost.String(), d.Error, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert routing decision: %w", err)
	}
	return nil
}

// InsertValidationAttempt persists a validation attempt audit record.
func (s *Store) InsertValidationAttempt(ctx context.Context, a *domain.ValidationAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validation_attempts
(id, org_id, request_id, defect, strategy, attempt, fixed, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrgID, a.RequestID, a.Defect, a.Strategy, a.Attempt, a.Fixed, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert validation attempt: %w", err)
	}
	return nil
}
