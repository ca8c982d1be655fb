// Package llm provides embedding generation for semantic memory search.
// The primary implementation talks to a local Ollama instance; a
// deterministic local embedder is available for offline operation and tests.
package llm

import (
	"context"
	"errors"
)

// ErrEmbeddingUnavailable is returned when no embedding could be produced,
// either because the backend is unreachable or the circuit breaker is open.
// Callers storing memories should treat this as non-fatal: the record can be
// persisted without a vector and will simply not participate in semantic
// search.
var ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

// EmbeddingGenerator produces a vector representation of text.
type EmbeddingGenerator interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float64, error)
}
