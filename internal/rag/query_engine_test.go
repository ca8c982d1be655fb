package rag

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/scrypster/memoryrag/internal/llm"
	"github.com/scrypster/memoryrag/internal/storage"
	"github.com/scrypster/memoryrag/pkg/types"
)

func newTestIndex(t *testing.T, docs ...*Document) *DocumentIndex {
	t.Helper()
	index := NewDocumentIndex(llm.NewLocalEmbedder(128))
	for _, doc := range docs {
		if err := index.Add(context.Background(), doc); err != nil {
			t.Fatalf("failed to index %s: %v", doc.ID, err)
		}
	}
	return index
}

func newTestQueryEngine(t *testing.T, memories MemoryRetriever, docs ...*Document) *QueryEngine {
	t.Helper()
	return NewQueryEngine(memories, newTestIndex(t, docs...), 5, log.New(io.Discard, "", 0))
}

// stubRetriever returns fixed memories, or an error when set.
type stubRetriever struct {
	memories []storage.ScoredMemory
	err      error
}

func (s *stubRetriever) SemanticSearch(context.Context, string, types.MemoryKind, int) ([]storage.ScoredMemory, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.memories, nil
}

func TestQueryRanksRelatedDocumentHigher(t *testing.T) {
	qe := newTestQueryEngine(t, nil,
		&Document{ID: "fastapi", Content: "fastapi is a modern python web framework for building apis quickly"},
		&Document{ID: "baking", Content: "preheat the oven and whisk the eggs before folding in the flour"},
	)

	results, err := qe.Query(context.Background(), "Python web API", QueryContext{}, 5)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].ID != "fastapi" {
		t.Errorf("expected fastapi document ranked first, got %s", results[0].ID)
	}
	for _, r := range results {
		if r.ID == "baking" && r.Score >= results[0].Score {
			t.Errorf("unrelated document should rank strictly lower")
		}
	}
}

func TestQueryNoDuplicateIdentities(t *testing.T) {
	// The same document is reachable via the semantic and the keyword
	// pass; the merged list must carry it once.
	qe := newTestQueryEngine(t, nil,
		&Document{ID: "doc-1", Content: "configuring python logging handlers and formatters"},
		&Document{ID: "doc-2", Content: "python logging to remote collectors"},
	)

	results, err := qe.Query(context.Background(), "python logging", QueryContext{}, 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	seen := map[string]bool{}
	for _, r := range results {
		key := string(r.Source) + "/" + r.ID
		if seen[key] {
			t.Fatalf("duplicate identity in results: %s", key)
		}
		seen[key] = true
	}
}

func TestQueryMergesMemoriesAndDocuments(t *testing.T) {
	memories := &stubRetriever{memories: []storage.ScoredMemory{
		{
			Memory: &types.Memory{
				ID:      "mem-1",
				Kind:    types.KindSemantic,
				Content: "the team prefers python for backend services",
			},
			Similarity: 0.9,
		},
	}}
	qe := newTestQueryEngine(t, memories,
		&Document{ID: "doc-1", Content: "python service deployment checklist"},
	)

	results, err := qe.Query(context.Background(), "python services", QueryContext{}, 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	var sawMemory, sawDocument bool
	for _, r := range results {
		switch r.Source {
		case types.SourceMemory:
			sawMemory = true
		case types.SourceDocument:
			sawDocument = true
		}
	}
	if !sawMemory {
		t.Error("expected a memory result")
	}
	if !sawDocument {
		t.Error("expected a document result")
	}
}

func TestQueryDegradesWhenMemoryPassFails(t *testing.T) {
	memories := &stubRetriever{err: errors.New("vector index unavailable")}
	qe := newTestQueryEngine(t, memories,
		&Document{ID: "doc-1", Content: "python retry middleware patterns"},
	)

	results, err := qe.Query(context.Background(), "python retry", QueryContext{}, 5)
	if err != nil {
		t.Fatalf("Query should degrade, not fail: %v", err)
	}
	if len(results) == 0 {
		t.Error("document pass should still contribute results")
	}
}

func TestContextBonusBoostsTechStackMatch(t *testing.T) {
	// Equal base relevance; the context bonus must decide the order.
	candidates := []types.RankedResult{
		{Source: types.SourceDocument, ID: "generic", Score: 0.5,
			Content: "general advice about building web services"},
		{Source: types.SourceDocument, ID: "stack", Score: 0.5,
			Content: "building a web_api with python and fastapi services"},
	}

	ranked := dedupeAndRerank(candidates,
		QueryContext{TechStack: []string{"python", "fastapi"}, ProjectType: "web_api"})

	if ranked[0].ID != "stack" {
		t.Fatalf("tech-stack match should rank first, got %s", ranked[0].ID)
	}
	// +0.1 per tech-stack term plus +0.2 for the project type.
	if diff := ranked[0].Score - 0.5; diff < 0.39 || diff > 0.41 {
		t.Errorf("expected a 0.4 context bonus, got %f", diff)
	}
}

func TestQueryRoutesToCuratedIndexes(t *testing.T) {
	qe := newTestQueryEngine(t, nil)

	codeKB := newTestIndex(t,
		&Document{ID: "pattern-1", Content: "error handling function wrapping pattern"})
	frameworkKB := newTestIndex(t,
		&Document{ID: "fw-1", Content: "fastapi dependency injection overview"})
	qe.RegisterCurated(KBCodePatterns, codeKB)
	qe.RegisterCurated(KBFrameworks, frameworkKB)

	results, err := qe.Query(context.Background(), "function error handling", QueryContext{}, 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !containsID(results, "pattern-1") {
		t.Error("code-related query should hit the code_patterns base")
	}

	results, err = qe.Query(context.Background(), "fastapi dependency injection", QueryContext{}, 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !containsID(results, "fw-1") {
		t.Error("framework query should hit the frameworks base")
	}
}

func TestContextBonusFreshness(t *testing.T) {
	fresh := types.RankedResult{
		Content:  "irrelevant",
		Metadata: map[string]interface{}{"last_updated": time.Now().UTC().Format(time.RFC3339)},
	}
	stale := types.RankedResult{
		Content:  "irrelevant",
		Metadata: map[string]interface{}{"last_updated": time.Now().AddDate(0, 0, -200).UTC().Format(time.RFC3339)},
	}

	freshBonus := contextBonus(fresh, QueryContext{})
	staleBonus := contextBonus(stale, QueryContext{})

	if freshBonus <= 0 || freshBonus > freshnessBonusMax {
		t.Errorf("fresh document bonus out of range: %f", freshBonus)
	}
	if staleBonus != 0 {
		t.Errorf("documents older than the decay window earn no bonus, got %f", staleBonus)
	}
}

func TestEnhanceQuery(t *testing.T) {
	enhanced := enhanceQuery("optimize queries", QueryContext{
		TechStack:   []string{"python", "postgres"},
		ProjectType: "web_api",
		UserRole:    "developer",
	})

	for _, want := range []string{"optimize queries", "python postgres", "web_api", "developer"} {
		if !strings.Contains(enhanced, want) {
			t.Errorf("enhanced query missing %q: %s", want, enhanced)
		}
	}

	if got := enhanceQuery("plain", QueryContext{}); got != "plain" {
		t.Errorf("empty context should leave the query untouched, got %q", got)
	}
}

func TestKeywordSearchScoring(t *testing.T) {
	index := newTestIndex(t,
		&Document{ID: "both", Content: "python logging setup"},
		&Document{ID: "one", Content: "python only here"},
		&Document{ID: "none", Content: "entirely unrelated text"},
	)

	results := index.KeywordSearch("python logging", 10)

	if len(results) != 2 {
		t.Fatalf("expected 2 overlapping documents, got %d", len(results))
	}
	if results[0].Doc.ID != "both" || results[0].Score != 1.0 {
		t.Errorf("full overlap should score 1.0 first, got %s at %f", results[0].Doc.ID, results[0].Score)
	}
	if results[1].Doc.ID != "one" || results[1].Score != 0.5 {
		t.Errorf("half overlap should score 0.5, got %s at %f", results[1].Doc.ID, results[1].Score)
	}
}

func TestSemanticSearchEmptyIndex(t *testing.T) {
	index := NewDocumentIndex(llm.NewLocalEmbedder(64))
	results, err := index.SemanticSearch(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("SemanticSearch failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("empty index should return no results, got %d", len(results))
	}
}

func containsID(results []types.RankedResult, id string) bool {
	for _, r := range results {
		if r.ID == id {
			return true
		}
	}
	return false
}
