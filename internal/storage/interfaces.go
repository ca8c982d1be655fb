// Package storage provides composable storage interfaces for the MemoryRAG
// system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Both the SQLite and
// PostgreSQL backends implement all of them; consumers depend only on the
// capabilities they use.
package storage

import (
	"context"

	"github.com/scrypster/memoryrag/pkg/types"
)

// MemoryStore provides durable CRUD and filtered search over memory records.
type MemoryStore interface {
	// Store creates or updates a memory (upsert semantics). If the memory
	// carries an embedding it is persisted alongside the record.
	Store(ctx context.Context, memory *types.Memory) error

	// Get retrieves a memory by ID without touching access statistics.
	// Returns ErrNotFound if the memory doesn't exist.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// Touch persists the access-tracking fields (accessed_at, access_count,
	// importance) of an already-loaded memory. Returns ErrNotFound if the
	// record has been removed in the meantime.
	Touch(ctx context.Context, memory *types.Memory) error

	// Search returns records matching all supplied filters, ordered by
	// importance descending then accessed_at descending, truncated to the
	// filter limit. Access statistics are NOT updated here; the engine
	// applies tracking to the hits it hands out.
	Search(ctx context.Context, filters SearchFilters) ([]*types.Memory, error)

	// Count returns the total number of stored records.
	Count(ctx context.Context) (int, error)

	// EvictLowestImportance deletes up to n records ordered by importance
	// ascending, ties broken by oldest accessed_at. Returns the IDs of the
	// records actually deleted so callers can invalidate caches.
	EvictLowestImportance(ctx context.Context, n int) ([]string, error)

	// Delete removes a memory by ID. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Stats reports aggregate figures about the stored records.
	Stats(ctx context.Context) (*StoreStats, error)

	// Close releases any resources held by the store.
	Close() error
}

// SemanticSearcher ranks stored records against a query vector.
//
// The SQLite backend implements this as a linear cosine-similarity scan over
// serialized embeddings; the PostgreSQL backend delegates to a pgvector
// cosine-distance index. Both honour the same observable contract: results
// ordered by similarity descending, ties broken by importance, records
// without an embedding never match.
type SemanticSearcher interface {
	// VectorSearch returns the top-limit records by cosine similarity to
	// the query vector, optionally pre-filtered by kind (empty kind means
	// no filter). An empty store yields an empty slice, not an error.
	VectorSearch(ctx context.Context, query []float64, kind types.MemoryKind, limit int) ([]ScoredMemory, error)
}

// Exporter streams every stored record, embeddings included, for snapshots.
type Exporter interface {
	// ExportAll returns all records ordered by created_at ascending.
	ExportAll(ctx context.Context) ([]*types.Memory, error)
}

// ScoredMemory pairs a record with its similarity to a query vector.
type ScoredMemory struct {
	Memory     *types.Memory
	Similarity float64
}
