package storage

import (
	"errors"

	"github.com/scrypster/memoryrag/pkg/types"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	// Expected and non-fatal; callers treat it as a normal result variant.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCorrupted indicates the backing store is unreadable or damaged.
	// Fatal for the triggering call, never for the process.
	ErrCorrupted = errors.New("storage corrupted")
)

// SearchFilters narrows a filtered search. Zero values mean "no filter".
type SearchFilters struct {
	// Query, when non-empty, requires a substring match on content.
	Query string

	// Kind, when non-empty, requires an exact kind match.
	Kind types.MemoryKind

	// Tags, when non-empty, requires the record's tag set to be a superset.
	Tags []string

	// MinImportance excludes records scoring below this value.
	MinImportance float64

	// Limit caps the result count (default: 10, max: 100).
	Limit int
}

// Normalize applies defaults and clamps the SearchFilters.
func (f *SearchFilters) Normalize() {
	if f.Limit < 1 {
		f.Limit = 10
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.MinImportance < 0 {
		f.MinImportance = 0
	}
}

// StoreStats summarises the contents of a memory store.
type StoreStats struct {
	// TotalMemories is the number of stored records.
	TotalMemories int

	// KindDistribution maps each kind to its record count.
	KindDistribution map[types.MemoryKind]int

	// AverageImportance is the mean importance across all records.
	AverageImportance float64

	// EmbeddedMemories counts records that carry an embedding.
	EmbeddedMemories int
}
