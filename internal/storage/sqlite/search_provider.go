package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/scrypster/memoryrag/internal/storage"
	"github.com/scrypster/memoryrag/pkg/types"
)

// vectorSearchMaxCandidates caps the number of embeddings loaded into memory
// during a vector search. Embeddings are selected in recency order (newest
// first) so the most recently-created memories are always considered. For
// typical datasets (< 10k memories) this limit is never hit; for very large
// datasets, use the PostgreSQL backend for indexed ANN search.
const vectorSearchMaxCandidates = 10_000

// VectorSearch performs semantic similarity search using stored embeddings.
// Embeddings are loaded into Go memory and ranked by cosine similarity, with
// ties broken by record importance. Records without an embedding never match.
func (s *MemoryStore) VectorSearch(ctx context.Context, query []float64, kind types.MemoryKind, limit int) ([]storage.ScoredMemory, error) {
	if len(query) == 0 {
		return []storage.ScoredMemory{}, nil
	}
	if limit < 1 {
		limit = 10
	}

	querySQL := `
		SELECT e.memory_id, e.embedding, e.dimension, m.importance
		FROM embeddings e
		JOIN memories m ON m.id = e.memory_id
	`
	args := []interface{}{}
	if kind != "" {
		querySQL += " WHERE m.kind = ?"
		args = append(args, string(kind))
	}
	querySQL += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, vectorSearchMaxCandidates)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", wrapCorruption(err))
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		memoryID   string
		score      float64
		importance float64
	}
	var candidates []scored

	for rows.Next() {
		var memID string
		var blob []byte
		var dim int
		var importance float64
		if err := rows.Scan(&memID, &blob, &dim, &importance); err != nil {
			continue
		}
		embedding, err := deserializeEmbedding(blob, dim)
		if err != nil {
			continue
		}
		sim := cosineSimilarity(query, embedding)
		candidates = append(candidates, scored{memID, sim, importance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].importance > candidates[j].importance
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]storage.ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		mem, err := s.Get(ctx, c.memoryID)
		if err != nil {
			// Evicted between scan and fetch; skip.
			continue
		}
		results = append(results, storage.ScoredMemory{Memory: mem, Similarity: c.score})
	}

	return results, nil
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 if either vector has zero magnitude or lengths differ.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// serializeEmbedding encodes a vector as little-endian float64 bytes.
func serializeEmbedding(embedding []float64) []byte {
	buf := make([]byte, 8*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// deserializeEmbedding decodes little-endian float64 bytes, validating the
// blob length against the recorded dimension.
func deserializeEmbedding(blob []byte, dimension int) ([]float64, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	if len(blob) != 8*dimension {
		return nil, fmt.Errorf("embedding blob is %d bytes, want %d for dimension %d",
			len(blob), 8*dimension, dimension)
	}
	embedding := make([]float64, dimension)
	for i := range embedding {
		embedding[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return embedding, nil
}
