package engine

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/memoryrag/internal/llm"
	"github.com/scrypster/memoryrag/internal/storage"
	"github.com/scrypster/memoryrag/pkg/types"
)

// Options tunes the memory engine.
type Options struct {
	// MaxMemories is the capacity ceiling enforced by eviction.
	MaxMemories int
	// EvictionMargin is how far below the ceiling each sweep lands.
	EvictionMargin int
	// WorkingSetSize is the in-process LRU cache capacity.
	WorkingSetSize int
}

// MemoryEngine is the top-level memory subsystem: capacity-bounded durable
// storage with importance scoring, access tracking on every read, and
// semantic retrieval when an embedding backend is available.
//
// Embedding is best-effort: when the backend is down, memories are stored
// without a vector (they still serve filtered search) and semantic queries
// degrade to empty results. Durable I/O errors always propagate.
type MemoryEngine struct {
	store    storage.MemoryStore
	semantic storage.SemanticSearcher
	embedder llm.EmbeddingGenerator
	capacity *CapacityManager
	cache    *lru.Cache[string, *types.Memory]
	logger   *log.Logger

	// touchMu serialises access-tracking updates so concurrent reads of the
	// same record cannot lose increments.
	touchMu sync.Mutex
}

// NewMemoryEngine wires the engine. embedder may be nil, in which case all
// memories are stored without vectors and semantic search returns empty
// results. semantic may be nil only when embedder is nil.
func NewMemoryEngine(store storage.MemoryStore, semantic storage.SemanticSearcher, embedder llm.EmbeddingGenerator, opts Options, logger *log.Logger) (*MemoryEngine, error) {
	if store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.MaxMemories < 1 {
		opts.MaxMemories = 1000
	}
	if opts.EvictionMargin < 0 {
		opts.EvictionMargin = 0
	}
	if opts.WorkingSetSize < 1 {
		opts.WorkingSetSize = 128
	}
	if logger == nil {
		logger = log.Default()
	}

	cache, err := lru.New[string, *types.Memory](opts.WorkingSetSize)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to create working-set cache: %w", err)
	}

	e := &MemoryEngine{
		store:    store,
		semantic: semantic,
		embedder: embedder,
		capacity: NewCapacityManager(store, opts.MaxMemories, opts.EvictionMargin, logger),
		cache:    cache,
		logger:   logger,
	}
	// Eviction sweeps must not leave deleted records in the working set.
	e.capacity.onEvict = func(ids []string) {
		for _, id := range ids {
			e.cache.Remove(id)
		}
	}
	return e, nil
}

// Store persists a new memory and returns it with generated fields filled
// in. Kind and content are required; metadata and tags may be nil. The
// embedding is computed before persisting unless the backend is unavailable,
// in which case the memory is stored without one and the failure is logged.
// A capacity check is triggered asynchronously after the write.
func (e *MemoryEngine) Store(ctx context.Context, kind types.MemoryKind, content string, metadata map[string]interface{}, tags []string) (*types.Memory, error) {
	if !types.IsValidMemoryKind(kind) {
		return nil, fmt.Errorf("%w: invalid memory kind %q", storage.ErrInvalidInput, kind)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	memory := &types.Memory{
		ID:          uuid.NewString(),
		Kind:        kind,
		Content:     content,
		Metadata:    metadata,
		Tags:        tags,
		CreatedAt:   now,
		AccessedAt:  now,
		AccessCount: 0,
	}
	memory.Importance = ScoreImportance(memory, now)

	if e.embedder != nil {
		embedding, err := e.embedder.Embed(ctx, content)
		if err != nil {
			e.logger.Printf("embedding failed for memory %s, storing without vector: %v", memory.ID, err)
		} else {
			memory.Embedding = embedding
		}
	}

	if err := e.store.Store(ctx, memory); err != nil {
		return nil, err
	}

	e.cache.Add(memory.ID, memory)
	e.capacity.Trigger()

	return memory, nil
}

// Retrieve returns the memory with the given ID, or storage.ErrNotFound.
// A hit updates accessed_at, increments access_count, recomputes importance,
// and persists the update before returning.
func (e *MemoryEngine) Retrieve(ctx context.Context, id string) (*types.Memory, error) {
	memory, ok := e.cache.Get(id)
	if !ok {
		var err error
		memory, err = e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	return e.touchAccess(ctx, memory)
}

// Search returns memories matching all supplied filters, ordered by
// importance descending then accessed_at descending. Every returned memory
// receives the same access-tracking update as Retrieve.
func (e *MemoryEngine) Search(ctx context.Context, filters storage.SearchFilters) ([]*types.Memory, error) {
	results, err := e.store.Search(ctx, filters)
	if err != nil {
		return nil, err
	}

	for i, memory := range results {
		touched, err := e.touchAccess(ctx, memory)
		if err != nil {
			// The memory may have been evicted between query and touch.
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		results[i] = touched
	}

	return results, nil
}

// SemanticSearch embeds the query text and returns the top-limit memories
// by cosine similarity, optionally pre-filtered by kind. When no embedding
// backend is configured or the backend fails, it degrades to an empty
// result rather than failing the call.
func (e *MemoryEngine) SemanticSearch(ctx context.Context, text string, kind types.MemoryKind, limit int) ([]storage.ScoredMemory, error) {
	if e.embedder == nil || e.semantic == nil {
		return []storage.ScoredMemory{}, nil
	}

	queryEmbedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		e.logger.Printf("query embedding failed, returning empty semantic results: %v", err)
		return []storage.ScoredMemory{}, nil
	}

	return e.semantic.VectorSearch(ctx, queryEmbedding, kind, limit)
}

// Delete removes a memory from the durable store and the working set.
func (e *MemoryEngine) Delete(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.cache.Remove(id)
	return nil
}

// Stats reports aggregate counts over the store.
func (e *MemoryEngine) Stats(ctx context.Context) (*storage.StoreStats, error) {
	return e.store.Stats(ctx)
}

// touchAccess applies the mutation-on-read update and persists it, returning
// a fresh copy of the record. Updates run one at a time under touchMu so the
// read-modify-write on access_count never loses increments; records handed
// out or cached are never mutated afterwards, each touch produces a new copy.
func (e *MemoryEngine) touchAccess(ctx context.Context, memory *types.Memory) (*types.Memory, error) {
	e.touchMu.Lock()
	defer e.touchMu.Unlock()

	// A concurrent touch may have advanced the record since the caller
	// loaded it; start from the newest version we know of.
	if latest, ok := e.cache.Get(memory.ID); ok && latest.AccessCount > memory.AccessCount {
		memory = latest
	}

	updated := *memory
	now := time.Now().UTC()
	updated.AccessedAt = now
	updated.AccessCount++
	updated.Importance = ScoreImportance(&updated, now)

	if err := e.store.Touch(ctx, &updated); err != nil {
		return nil, err
	}
	e.cache.Add(updated.ID, &updated)
	return &updated, nil
}

// snapshot is the on-disk export format: a gzip-compressed JSON document.
type snapshot struct {
	Version    int             `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	Memories   []*types.Memory `json:"memories"`
}

const snapshotVersion = 1

// Export writes a gzip-compressed JSON snapshot of every memory, embeddings
// included, to w.
func (e *MemoryEngine) Export(ctx context.Context, w io.Writer) error {
	exporter, ok := e.store.(storage.Exporter)
	if !ok {
		return errors.New("engine: store does not support export")
	}

	memories, err := exporter.ExportAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to export memories: %w", err)
	}

	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)
	if err := enc.Encode(snapshot{
		Version:    snapshotVersion,
		ExportedAt: time.Now().UTC(),
		Memories:   memories,
	}); err != nil {
		_ = gz.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return gz.Close()
}

// Import reads a snapshot produced by Export and stores every memory,
// preserving IDs, timestamps, access statistics, and embeddings. Existing
// records with the same ID are overwritten. A single capacity check runs
// after the batch.
func (e *MemoryEngine) Import(ctx context.Context, r io.Reader) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = gz.Close() }()

	var snap snapshot
	if err := json.NewDecoder(gz).Decode(&snap); err != nil {
		return 0, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	imported := 0
	for _, memory := range snap.Memories {
		if err := e.store.Store(ctx, memory); err != nil {
			return imported, fmt.Errorf("failed to import memory %s: %w", memory.ID, err)
		}
		imported++
	}

	e.capacity.Trigger()
	return imported, nil
}

// Close waits for any in-flight eviction sweep. It does not close the
// underlying store; the caller owns that.
func (e *MemoryEngine) Close() {
	e.capacity.Wait()
}
