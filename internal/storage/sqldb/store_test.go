package sqldb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tjfontaine/autopilot-gateway/internal/cache"
	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

func newTestStore(t *testing.T, name string) *Store {
	t.Helper()
	store, err := New("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func entry(org, key string) *cache.Entry {
	now := time.Now().UTC()
	return &cache.Entry{
		Key:              key,
		OrgID:            org,
		CoarseHash:       "coarse-1",
		Payload:          json.RawMessage(`{"id":"resp-1","model":"gpt-4o-mini"}`),
		Model:            "gpt-4o-mini",
		Provider:         "openai",
		PromptTokens:     12,
		CompletionTokens: 34,
		Cost:             decimal.RequireFromString("0.000022"),
		CreatedAt:        now,
		LastAccessed:     now,
	}
}

func TestStoreUpsertGet(t *testing.T) {
	store := newTestStore(t, "cache1")
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "org-1:missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want miss", ok, err)
	}

	e := entry("org-1", "org-1:abc")
	if err := store.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "org-1:abc")
	if err != nil || !ok {
		t.Fatalf("Get() = ok=%v err=%v, want hit", ok, err)
	}
	if string(got.Payload) != string(e.Payload) {
		t.Errorf("payload = %s, want %s", got.Payload, e.Payload)
	}
	if !got.Cost.Equal(e.Cost) {
		t.Errorf("cost = %s, want %s", got.Cost, e.Cost)
	}

	// Re-upsert with new payload keeps the row count at one.
	e.Payload = json.RawMessage(`{"id":"resp-2"}`)
	if err := store.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert() repeat error = %v", err)
	}
	got, _, _ = store.Get(ctx, "org-1:abc")
	if string(got.Payload) != `{"id":"resp-2"}` {
		t.Errorf("payload after re-upsert = %s", got.Payload)
	}
}

func TestStoreRecordHit(t *testing.T) {
	store := newTestStore(t, "cache2")
	ctx := context.Background()

	if err := store.Upsert(ctx, entry("org-1", "org-1:abc")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.RecordHit(ctx, "org-1:abc"); err != nil {
			t.Fatalf("RecordHit() error = %v", err)
		}
	}

	got, _, err := store.Get(ctx, "org-1:abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Hits != 3 {
		t.Errorf("hits = %d, want 3", got.Hits)
	}
}

func TestStoreDeleteByOrg(t *testing.T) {
	store := newTestStore(t, "cache3")
	ctx := context.Background()

	for _, k := range []string{"org-1:a", "org-1:b"} {
		if err := store.Upsert(ctx, entry("org-1", k)); err != nil {
			t.Fatalf("Upsert(%s) error = %v", k, err)
		}
	}
	if err := store.Upsert(ctx, entry("org-2", "org-2:c")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	n, err := store.DeleteByOrg(ctx, "org-1")
	if err != nil {
		t.Fatalf("DeleteByOrg() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteByOrg() = %d, want 2", n)
	}
	if _, ok, _ := store.Get(ctx, "org-2:c"); !ok {
		t.Error("DeleteByOrg removed another organization's entry")
	}
}

func TestStoreAuditInserts(t *testing.T) {
	store := newTestStore(t, "audit1")
	ctx := context.Background()

	d := &domain.RoutingDecision{
		ID:             "dec-1",
		OrgID:          "org-1",
		RequestedModel: "gpt-4o",
		SelectedModel:  "gpt-4o-mini",
		Provider:       domain.ProviderOpenAI,
		TaskType:       "summarization",
		Confidence:     0.75,
		Reason:         "downgraded_medium_tier",
		Cost:           decimal.RequireFromString("0.000100"),
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.InsertRoutingDecision(ctx, d); err != nil {
		t.Fatalf("InsertRoutingDecision() error = %v", err)
	}

	a := &domain.ValidationAttempt{
		ID:        "att-1",
		OrgID:     "org-1",
		RequestID: "req-1",
		Defect:    "truncated",
		Strategy:  "increase_max_tokens",
		Attempt:   1,
		Fixed:     true,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.InsertValidationAttempt(ctx, a); err != nil {
		t.Fatalf("InsertValidationAttempt() error = %v", err)
	}

	var count int
	if err := store.DB().Get(&count, `SELECT COUNT(*) FROM routing_decisions`); err != nil {
		t.Fatalf("count decisions: %v", err)
	}
	if count != 1 {
		t.Errorf("routing_decisions rows = %d, want 1", count)
	}
}
