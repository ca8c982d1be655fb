package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scrypster/memoryrag/internal/storage"
	"github.com/scrypster/memoryrag/pkg/types"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestMemory(id string) *types.Memory {
	now := time.Now().UTC()
	return &types.Memory{
		ID:          id,
		Kind:        types.KindSemantic,
		Content:     "test memory content for " + id,
		CreatedAt:   now,
		AccessedAt:  now,
		AccessCount: 0,
		Importance:  0.5,
	}
}

func TestStoreAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	memory := newTestMemory("mem-1")
	memory.Metadata = map[string]interface{}{"source": "unit", "attempt": "first"}
	memory.Tags = []string{"alpha", "beta"}
	memory.Embedding = []float64{0.1, -0.2, 0.3}

	if err := store.Store(ctx, memory); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := store.Get(ctx, "mem-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != memory.Content {
		t.Errorf("content mismatch: %q", got.Content)
	}
	if got.Kind != types.KindSemantic {
		t.Errorf("kind mismatch: %s", got.Kind)
	}
	if got.Metadata["source"] != "unit" {
		t.Errorf("metadata not round-tripped: %v", got.Metadata)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "alpha" {
		t.Errorf("tags not round-tripped: %v", got.Tags)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != -0.2 {
		t.Errorf("embedding not round-tripped: %v", got.Embedding)
	}
}

func TestStoreUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	memory := newTestMemory("mem-1")
	if err := store.Store(ctx, memory); err != nil {
		t.Fatalf("first Store failed: %v", err)
	}
	memory.Content = "updated content"
	if err := store.Store(ctx, memory); err != nil {
		t.Fatalf("second Store failed: %v", err)
	}

	got, err := store.Get(ctx, "mem-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "updated content" {
		t.Errorf("expected updated content, got %q", got.Content)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("upsert should not duplicate: count = %d", count)
	}
}

func TestStoreValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Store(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("nil memory: expected ErrInvalidInput, got %v", err)
	}

	memory := newTestMemory("")
	if err := store.Store(ctx, memory); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("empty ID: expected ErrInvalidInput, got %v", err)
	}

	memory = newTestMemory("mem-1")
	memory.Kind = "unknown"
	if err := store.Store(ctx, memory); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("bad kind: expected ErrInvalidInput, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTouchPersistsAccessStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	memory := newTestMemory("mem-1")
	if err := store.Store(ctx, memory); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	memory.AccessCount = 4
	memory.AccessedAt = time.Now().UTC().Add(time.Minute)
	memory.Importance = 0.9
	if err := store.Touch(ctx, memory); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	got, err := store.Get(ctx, "mem-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccessCount != 4 {
		t.Errorf("access_count = %d, want 4", got.AccessCount)
	}
	if got.Importance != 0.9 {
		t.Errorf("importance = %f, want 0.9", got.Importance)
	}
}

func TestTouchMissingRecord(t *testing.T) {
	store := newTestStore(t)
	memory := newTestMemory("ghost")
	if err := store.Touch(context.Background(), memory); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []*types.Memory{
		func() *types.Memory {
			m := newTestMemory("pref-1")
			m.Kind = types.KindPreference
			m.Content = "prefers dark mode everywhere"
			m.Tags = []string{"ui", "settings"}
			m.Importance = 0.8
			return m
		}(),
		func() *types.Memory {
			m := newTestMemory("pref-2")
			m.Kind = types.KindPreference
			m.Content = "prefers tabs over spaces"
			m.Tags = []string{"editor"}
			m.Importance = 0.4
			return m
		}(),
		func() *types.Memory {
			m := newTestMemory("fact-1")
			m.Kind = types.KindSemantic
			m.Content = "dark chocolate contains flavonoids"
			m.Importance = 0.6
			return m
		}(),
	}
	for _, m := range seed {
		if err := store.Store(ctx, m); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	t.Run("kind filter", func(t *testing.T) {
		results, err := store.Search(ctx, storage.SearchFilters{Kind: types.KindPreference})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 preferences, got %d", len(results))
		}
		// Ordered by importance descending.
		if results[0].ID != "pref-1" {
			t.Errorf("expected pref-1 first, got %s", results[0].ID)
		}
	})

	t.Run("content substring", func(t *testing.T) {
		results, err := store.Search(ctx, storage.SearchFilters{Query: "dark"})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 2 {
			t.Errorf("expected 2 matches for 'dark', got %d", len(results))
		}
	})

	t.Run("tags superset", func(t *testing.T) {
		results, err := store.Search(ctx, storage.SearchFilters{Tags: []string{"ui", "settings"}})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 || results[0].ID != "pref-1" {
			t.Errorf("expected only pref-1, got %v", results)
		}
	})

	t.Run("single tag", func(t *testing.T) {
		results, err := store.Search(ctx, storage.SearchFilters{Tags: []string{"editor"}})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 || results[0].ID != "pref-2" {
			t.Errorf("expected only pref-2, got %v", results)
		}
	})

	t.Run("min importance", func(t *testing.T) {
		results, err := store.Search(ctx, storage.SearchFilters{MinImportance: 0.5})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 2 {
			t.Errorf("expected 2 results >= 0.5, got %d", len(results))
		}
	})

	t.Run("limit", func(t *testing.T) {
		results, err := store.Search(ctx, storage.SearchFilters{Limit: 1})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(results) != 1 {
			t.Errorf("expected 1 result, got %d", len(results))
		}
	})
}

func TestSearchEmptyStore(t *testing.T) {
	store := newTestStore(t)
	results, err := store.Search(context.Background(), storage.SearchFilters{
		Kind:  types.KindPreference,
		Limit: 5,
	})
	if err != nil {
		t.Fatalf("Search on empty store failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result, got %d", len(results))
	}
}

func TestEvictLowestImportance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	importances := map[string]float64{
		"low-1": 0.1, "low-2": 0.2, "mid": 0.5, "high-1": 0.8, "high-2": 0.9,
	}
	for id, importance := range importances {
		m := newTestMemory(id)
		m.Importance = importance
		if err := store.Store(ctx, m); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	evicted, err := store.EvictLowestImportance(ctx, 2)
	if err != nil {
		t.Fatalf("EvictLowestImportance failed: %v", err)
	}
	if len(evicted) != 2 {
		t.Fatalf("expected 2 evictions, got %v", evicted)
	}

	got := map[string]bool{}
	for _, id := range evicted {
		got[id] = true
	}
	for _, id := range []string{"low-1", "low-2"} {
		if !got[id] {
			t.Errorf("expected %s in evicted IDs, got %v", id, evicted)
		}
		if _, err := store.Get(ctx, id); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected %s evicted, got %v", id, err)
		}
	}
	for _, id := range []string{"mid", "high-1", "high-2"} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Errorf("%s should survive: %v", id, err)
		}
	}
}

func TestEvictTieBreakByAccessedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := newTestMemory("older")
	older.Importance = 0.5
	older.AccessedAt = time.Now().UTC().Add(-time.Hour)
	newer := newTestMemory("newer")
	newer.Importance = 0.5

	if err := store.Store(ctx, older); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := store.Store(ctx, newer); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if _, err := store.EvictLowestImportance(ctx, 1); err != nil {
		t.Fatalf("EvictLowestImportance failed: %v", err)
	}

	if _, err := store.Get(ctx, "older"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("oldest accessed_at should evict first, got %v", err)
	}
	if _, err := store.Get(ctx, "newer"); err != nil {
		t.Errorf("newer record should survive: %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	memory := newTestMemory("mem-1")
	memory.Embedding = []float64{1, 2, 3}
	if err := store.Store(ctx, memory); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := store.Delete(ctx, "mem-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "mem-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "mem-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("double delete should report ErrNotFound, got %v", err)
	}
}

func TestStatsAndExport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	embedded := newTestMemory("mem-1")
	embedded.Embedding = []float64{0.5, 0.5}
	plain := newTestMemory("mem-2")
	plain.Kind = types.KindWorking

	for _, m := range []*types.Memory{embedded, plain} {
		if err := store.Store(ctx, m); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalMemories != 2 {
		t.Errorf("total = %d, want 2", stats.TotalMemories)
	}
	if stats.EmbeddedMemories != 1 {
		t.Errorf("embedded = %d, want 1", stats.EmbeddedMemories)
	}
	if stats.KindDistribution[types.KindWorking] != 1 {
		t.Errorf("kind distribution wrong: %v", stats.KindDistribution)
	}

	all, err := store.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 exported memories, got %d", len(all))
	}
	for _, m := range all {
		if m.ID == "mem-1" && len(m.Embedding) != 2 {
			t.Errorf("export should include embeddings, got %v", m.Embedding)
		}
	}
}
