// Package types defines the core data structures for the MemoryRAG system:
// memory records, their kind taxonomy, compression results, and ranked
// retrieval results.
package types

import "time"

// MemoryKind classifies the semantic role of a memory record. The kind is
// immutable after creation because it selects the importance weight class
// used by the retention scorer.
type MemoryKind string

// Memory kind constants.
const (
	// KindWorking holds short-lived scratch state. Lowest retention weight.
	KindWorking MemoryKind = "working"

	// KindEpisodic records specific events or sessions.
	KindEpisodic MemoryKind = "episodic"

	// KindSemantic holds general facts and knowledge.
	KindSemantic MemoryKind = "semantic"

	// KindProcedural records how-to knowledge and workflows.
	KindProcedural MemoryKind = "procedural"

	// KindInteraction records assistant interactions. Highest retention weight.
	KindInteraction MemoryKind = "interaction"

	// KindPreference records user preferences.
	KindPreference MemoryKind = "preference"
)

// ValidMemoryKinds is a slice of all valid memory kinds for validation.
var ValidMemoryKinds = []MemoryKind{
	KindWorking,
	KindEpisodic,
	KindSemantic,
	KindProcedural,
	KindInteraction,
	KindPreference,
}

// IsValidMemoryKind checks if the given kind is a member of the closed set.
func IsValidMemoryKind(kind MemoryKind) bool {
	for _, valid := range ValidMemoryKinds {
		if valid == kind {
			return true
		}
	}
	return false
}

// Memory is a single stored memory record.
//
// AccessedAt, AccessCount, and Importance are mutated on every retrieval:
// Retrieve and Search hits are deliberately NOT side-effect-free reads.
// Callers that need a snapshot without touching access statistics should go
// through the storage layer's Get directly.
type Memory struct {
	// ID is the unique record key. Immutable once stored.
	ID string `json:"id"`

	// Kind is the memory's weight class. Immutable once stored.
	Kind MemoryKind `json:"kind"`

	// Content is the raw text payload.
	Content string `json:"content"`

	// Metadata is a free-form mapping of string keys to JSON-like values.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Tags support superset-match filtering. Order is irrelevant.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is set once at store time.
	CreatedAt time.Time `json:"created_at"`

	// AccessedAt is bumped on every retrieval. Never decreases and is
	// never earlier than CreatedAt.
	AccessedAt time.Time `json:"accessed_at"`

	// AccessCount is incremented on every retrieval. Never negative.
	AccessCount int `json:"access_count"`

	// Importance is the retention priority recomputed on every access.
	// Drives eviction order: lowest importance is evicted first.
	Importance float64 `json:"importance"`

	// Embedding is the fixed-length vector for semantic search. May be
	// absent until lazily computed; records without an embedding simply
	// never match semantic queries.
	Embedding []float64 `json:"embedding,omitempty"`
}

// ContentType selects which compression and ranking heuristics apply.
type ContentType string

// Content type constants.
const (
	ContentConversation  ContentType = "conversation"
	ContentCode          ContentType = "code"
	ContentDocumentation ContentType = "documentation"
)

// IsValidContentType checks if the given content type is a member of the
// closed set.
func IsValidContentType(ct ContentType) bool {
	switch ct {
	case ContentConversation, ContentCode, ContentDocumentation:
		return true
	}
	return false
}

// CompressionResult captures the outcome of a single strategy invocation.
// It is ephemeral: the pipeline inspects it, picks a winner, and discards it.
type CompressionResult struct {
	// Method is the strategy name (e.g. "hybrid_dictionary").
	Method string `json:"method"`

	// OriginalSize and CompressedSize are UTF-8 byte lengths, not runes.
	OriginalSize   int `json:"original_size"`
	CompressedSize int `json:"compressed_size"`

	// Ratio is CompressedSize / OriginalSize. A ratio >= 1.0 means the
	// strategy had no effect and is skipped by the pipeline.
	Ratio float64 `json:"compression_ratio"`

	// Elapsed is the wall-clock strategy runtime.
	Elapsed time.Duration `json:"elapsed"`

	// Quality estimates fidelity in [0,1]. 1.0 means fully reversible.
	Quality float64 `json:"quality_score"`

	// Payload is the candidate compressed text.
	Payload string `json:"-"`
}

// PipelineResult is the output contract of a full compression run.
type PipelineResult struct {
	OriginalSize   int     `json:"original_size"`
	CompressedSize int     `json:"compressed_size"`
	Ratio          float64 `json:"compression_ratio"`

	// TargetAchieved reports whether Ratio met the configured target.
	// The compressed payload is valid even when the target was missed.
	TargetAchieved bool `json:"target_achieved"`

	// Quality is the overall fidelity estimate in [0,1]. Values below
	// roughly 0.7 indicate lossy strategies dominated.
	Quality float64 `json:"quality_score"`

	Elapsed time.Duration `json:"elapsed"`

	// StrategiesApplied lists only strategies that actually reduced size,
	// in application order. Empty on already-compressed input.
	StrategiesApplied []string `json:"strategies_applied"`

	// Compressed is the final payload. Always valid UTF-8 text.
	Compressed string `json:"compressed_content"`
}

// ResultSource distinguishes where a ranked RAG result came from.
type ResultSource string

// Ranked result source constants.
const (
	SourceMemory   ResultSource = "memory"
	SourceDocument ResultSource = "document"
)

// RankedResult is a single merged entry returned by a RAG query.
type RankedResult struct {
	// Source identifies the retrieval origin (memory store or document index).
	Source ResultSource `json:"source"`

	// ID is the memory ID or document ID.
	ID string `json:"id"`

	// Content is the matched text.
	Content string `json:"content"`

	// Metadata carries the record or document metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Score is the final relevance after context-bonus re-ranking.
	Score float64 `json:"score"`
}
