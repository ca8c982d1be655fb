// Package rag implements retrieval-augmented querying: a query engine that
// merges semantic memory search, keyword document search, and curated
// knowledge-base lookups into a single context-ranked result list.
package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/scrypster/memoryrag/internal/llm"
)

// Document is an externally-indexed text unit, distinct from memory records
// in the durable store.
type Document struct {
	// ID is unique within one index.
	ID string `json:"doc_id"`

	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// UpdatedAt feeds the freshness bonus during re-ranking. A zero value
	// means unknown and earns no bonus.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ScoredDocument pairs a document with a retrieval relevance score.
type ScoredDocument struct {
	Doc   *Document
	Score float64
}

// DocumentIndex holds documents with an HNSW graph over their embeddings
// for approximate semantic search, plus a linear keyword scan. Safe for
// concurrent use.
type DocumentIndex struct {
	embedder llm.EmbeddingGenerator

	mu    sync.RWMutex
	graph *hnsw.Graph[string]
	docs  map[string]*Document
}

// NewDocumentIndex creates an empty index. embedder may be nil, in which
// case only keyword search works and semantic search returns no results.
func NewDocumentIndex(embedder llm.EmbeddingGenerator) *DocumentIndex {
	return &DocumentIndex{
		embedder: embedder,
		graph:    hnsw.NewGraph[string](),
		docs:     make(map[string]*Document),
	}
}

// Add embeds the document content and inserts it into the index. Adding an
// existing ID replaces the stored document. When embedding fails the
// document is still registered for keyword search.
func (x *DocumentIndex) Add(ctx context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	var embedding []float64
	if x.embedder != nil {
		var err error
		embedding, err = x.embedder.Embed(ctx, doc.Content)
		if err != nil {
			embedding = nil
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.docs[doc.ID] = doc
	if len(embedding) > 0 {
		x.graph.Add(hnsw.MakeNode(doc.ID, float32Slice(embedding)))
	}
	return nil
}

// Len returns the number of indexed documents.
func (x *DocumentIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// SemanticSearch returns up to k documents ranked by cosine similarity to
// the query text. An empty index or a failed query embedding yields no
// results, not an error.
func (x *DocumentIndex) SemanticSearch(ctx context.Context, query string, k int) ([]ScoredDocument, error) {
	if x.embedder == nil || k < 1 {
		return nil, nil
	}

	queryEmbedding, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	q := float32Slice(queryEmbedding)

	x.mu.RLock()
	defer x.mu.RUnlock()

	neighbors := x.graph.Search(q, k)
	results := make([]ScoredDocument, 0, len(neighbors))
	for _, node := range neighbors {
		doc, ok := x.docs[node.Key]
		if !ok {
			continue
		}
		results = append(results, ScoredDocument{
			Doc:   doc,
			Score: cosineSimilarity32(q, node.Value),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// KeywordSearch scores every document by term overlap with the query:
// |query terms ∩ doc terms| / |query terms|. Documents with zero overlap
// are omitted; the top k by score are returned.
func (x *DocumentIndex) KeywordSearch(query string, k int) []ScoredDocument {
	queryTerms := termSet(query)
	if len(queryTerms) == 0 || k < 1 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var results []ScoredDocument
	for _, doc := range x.docs {
		docTerms := termSet(doc.Content)
		overlap := 0
		for term := range queryTerms {
			if _, ok := docTerms[term]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		results = append(results, ScoredDocument{
			Doc:   doc,
			Score: float64(overlap) / float64(len(queryTerms)),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Doc.ID < results[j].Doc.ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// termSet lowercases and tokenizes text into a set of terms.
func termSet(text string) map[string]struct{} {
	terms := map[string]struct{}{}
	for _, term := range strings.Fields(strings.ToLower(text)) {
		terms[term] = struct{}{}
	}
	return terms
}

func float32Slice(input []float64) []float32 {
	out := make([]float32, len(input))
	for i, v := range input {
		out[i] = float32(v)
	}
	return out
}

func cosineSimilarity32(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
