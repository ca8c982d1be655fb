package rag

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/memoryrag/internal/storage"
	"github.com/scrypster/memoryrag/pkg/types"
)

// Curated knowledge-base names.
const (
	KBCodePatterns = "code_patterns"
	KBFrameworks   = "frameworks"
)

// frameworkTriggers route a query to the frameworks knowledge base.
var frameworkTriggers = []string{"react", "vue", "angular", "fastapi", "django"}

// Context bonus tuning: each matched tech-stack term, a project-type match,
// and document freshness (linear decay to zero over 100 days) add to the
// base relevance score during re-ranking.
const (
	techStackBonus       = 0.1
	projectTypeBonus     = 0.2
	freshnessBonusMax    = 0.1
	freshnessDecayPerDay = 0.001
)

// QueryContext carries the caller's situational context used for query
// enhancement and result re-ranking.
type QueryContext struct {
	TechStack   []string
	ProjectType string
	UserRole    string
}

// MemoryRetriever is the slice of the memory engine the query engine needs.
type MemoryRetriever interface {
	SemanticSearch(ctx context.Context, text string, kind types.MemoryKind, limit int) ([]storage.ScoredMemory, error)
}

// QueryEngine merges three retrieval passes over memories and documents
// into one deduplicated, context-ranked list. Any single pass failing
// contributes zero results instead of failing the query.
type QueryEngine struct {
	memories    MemoryRetriever
	index       *DocumentIndex
	curated     map[string]*DocumentIndex
	defaultTopK int
	logger      *log.Logger
}

// NewQueryEngine wires a query engine. memories may be nil (document-only
// deployments); index must not be nil.
func NewQueryEngine(memories MemoryRetriever, index *DocumentIndex, defaultTopK int, logger *log.Logger) *QueryEngine {
	if defaultTopK < 1 {
		defaultTopK = 5
	}
	if logger == nil {
		logger = log.Default()
	}
	return &QueryEngine{
		memories:    memories,
		index:       index,
		curated:     make(map[string]*DocumentIndex),
		defaultTopK: defaultTopK,
		logger:      logger,
	}
}

// RegisterCurated attaches a named curated knowledge base. Queries route to
// it via keyword triggers (see contextAwareSearch).
func (qe *QueryEngine) RegisterCurated(name string, index *DocumentIndex) {
	qe.curated[name] = index
}

// Query runs the full retrieval flow: enhance the query with context
// hints, run the three passes, merge, deduplicate, re-rank with context
// bonuses, and return the top-k results.
func (qe *QueryEngine) Query(ctx context.Context, query string, qctx QueryContext, topK int) ([]types.RankedResult, error) {
	if topK < 1 {
		topK = qe.defaultTopK
	}

	enhanced := enhanceQuery(query, qctx)

	var merged []types.RankedResult

	// Pass 1: semantic retrieval over memories and the document index,
	// using the context-enhanced query.
	merged = append(merged, qe.semanticPass(ctx, enhanced, topK/2)...)

	// Pass 2: keyword-overlap retrieval over documents, using the raw
	// query so context hints do not dilute the term set.
	for _, sd := range qe.index.KeywordSearch(query, topK/4) {
		merged = append(merged, documentResult(sd))
	}

	// Pass 3: curated knowledge bases selected by query triggers.
	merged = append(merged, qe.contextAwareSearch(query, topK/4)...)

	results := dedupeAndRerank(merged, qctx)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// semanticPass queries both vector indexes; either failing is logged and
// contributes nothing.
func (qe *QueryEngine) semanticPass(ctx context.Context, query string, k int) []types.RankedResult {
	if k < 1 {
		k = 1
	}
	var results []types.RankedResult

	if qe.memories != nil {
		scored, err := qe.memories.SemanticSearch(ctx, query, "", k)
		if err != nil {
			qe.logger.Printf("memory semantic pass failed: %v", err)
		} else {
			for _, sm := range scored {
				results = append(results, types.RankedResult{
					Source:   types.SourceMemory,
					ID:       sm.Memory.ID,
					Content:  sm.Memory.Content,
					Metadata: sm.Memory.Metadata,
					Score:    sm.Similarity,
				})
			}
		}
	}

	docs, err := qe.index.SemanticSearch(ctx, query, k)
	if err != nil {
		qe.logger.Printf("document semantic pass failed: %v", err)
	} else {
		for _, sd := range docs {
			results = append(results, documentResult(sd))
		}
	}

	return results
}

// contextAwareSearch routes the query to curated knowledge bases:
// code-related wording hits the code-patterns base, framework names hit
// the frameworks base.
func (qe *QueryEngine) contextAwareSearch(query string, k int) []types.RankedResult {
	if k < 2 {
		k = 2
	}
	lower := strings.ToLower(query)
	var results []types.RankedResult

	if strings.Contains(lower, "code") || strings.Contains(lower, "function") {
		if kb, ok := qe.curated[KBCodePatterns]; ok {
			for _, sd := range kb.KeywordSearch(query, k/2) {
				results = append(results, documentResult(sd))
			}
		}
	}

	for _, framework := range frameworkTriggers {
		if strings.Contains(lower, framework) {
			if kb, ok := qe.curated[KBFrameworks]; ok {
				for _, sd := range kb.KeywordSearch(query, k/2) {
					results = append(results, documentResult(sd))
				}
			}
			break
		}
	}

	return results
}

// enhanceQuery appends context fields as plain-text hints. This is simple
// concatenation, not semantic rewriting.
func enhanceQuery(query string, qctx QueryContext) string {
	parts := []string{query}
	if len(qctx.TechStack) > 0 {
		parts = append(parts, "using tech stack: "+strings.Join(qctx.TechStack, " "))
	}
	if qctx.ProjectType != "" {
		parts = append(parts, "project type: "+qctx.ProjectType)
	}
	if qctx.UserRole != "" {
		parts = append(parts, "user role: "+qctx.UserRole)
	}
	return strings.Join(parts, " ")
}

// dedupeAndRerank drops duplicate identities (first occurrence wins, so
// earlier passes take precedence), adds context bonuses, and sorts by the
// final score descending.
func dedupeAndRerank(results []types.RankedResult, qctx QueryContext) []types.RankedResult {
	type identity struct {
		source types.ResultSource
		id     string
	}
	seen := map[identity]struct{}{}
	unique := make([]types.RankedResult, 0, len(results))

	for _, r := range results {
		key := identity{r.Source, r.ID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		r.Score += contextBonus(r, qctx)
		unique = append(unique, r)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Score > unique[j].Score
	})
	return unique
}

// contextBonus rewards tech-stack term matches, a project-type match, and
// document freshness.
func contextBonus(r types.RankedResult, qctx QueryContext) float64 {
	bonus := 0.0
	lower := strings.ToLower(r.Content)

	for _, tech := range qctx.TechStack {
		if tech != "" && strings.Contains(lower, strings.ToLower(tech)) {
			bonus += techStackBonus
		}
	}

	if qctx.ProjectType != "" && strings.Contains(lower, strings.ToLower(qctx.ProjectType)) {
		bonus += projectTypeBonus
	}

	if updated, ok := r.Metadata["last_updated"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, updated); err == nil {
			daysOld := time.Since(ts).Hours() / 24
			if freshness := freshnessBonusMax - daysOld*freshnessDecayPerDay; freshness > 0 {
				bonus += freshness
			}
		}
	}

	return bonus
}

// documentResult converts a scored document into a ranked result, exposing
// UpdatedAt through metadata so re-ranking can apply the freshness bonus.
func documentResult(sd ScoredDocument) types.RankedResult {
	metadata := make(map[string]interface{}, len(sd.Doc.Metadata)+1)
	for k, v := range sd.Doc.Metadata {
		metadata[k] = v
	}
	if !sd.Doc.UpdatedAt.IsZero() {
		metadata["last_updated"] = sd.Doc.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return types.RankedResult{
		Source:   types.SourceDocument,
		ID:       sd.Doc.ID,
		Content:  sd.Doc.Content,
		Metadata: metadata,
		Score:    sd.Score,
	}
}
