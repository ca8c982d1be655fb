package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// LocalEmbedder is a deterministic, dependency-free embedding generator.
// Each token is hashed into a bucket of the output vector, so texts sharing
// vocabulary produce similar vectors. It is not a substitute for a real
// embedding model, but it keeps semantic search functional when no backend
// is configured and gives tests stable vectors.
type LocalEmbedder struct {
	dimension int
}

// NewLocalEmbedder creates a local embedder producing vectors of the given
// dimension (default 256 if non-positive).
func NewLocalEmbedder(dimension int) *LocalEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &LocalEmbedder{dimension: dimension}
}

// Embed produces a normalized bag-of-words hash vector for the text.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.dimension)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:!?()[]{}\"'`")
		if token == "" {
			continue
		}
		sum := sha256.Sum256([]byte(token))
		bucket := int(binary.LittleEndian.Uint32(sum[:4])) % e.dimension
		if bucket < 0 {
			bucket += e.dimension
		}
		// Sign from a second hash byte spreads tokens across both
		// directions, which keeps unrelated texts near-orthogonal.
		if sum[4]%2 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec, nil
}

// Dimension returns the output vector dimension.
func (e *LocalEmbedder) Dimension() int {
	return e.dimension
}

var _ EmbeddingGenerator = (*LocalEmbedder)(nil)
