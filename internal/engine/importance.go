// Package engine implements the memory engine: importance scoring,
// capacity-bounded storage with asynchronous eviction, and the retrieval
// operations that track access statistics.
package engine

import (
	"time"

	"github.com/scrypster/memoryrag/pkg/types"
)

// Importance scoring constants. frequency saturates at 2x after 10 accesses;
// recency decays with age in days, floored at 0.1 so old memories never
// reach zero from age alone.
const (
	baseImportance      = 1.0
	frequencyDivisor    = 10.0
	maxFrequencyFactor  = 2.0
	minRecencyFactor    = 0.1
	secondsPerDay       = 86400.0
)

// kindWeights are the fixed per-kind multipliers. Interactions are weighted
// highest, the working set lowest.
var kindWeights = map[types.MemoryKind]float64{
	types.KindInteraction: 1.5,
	types.KindPreference:  1.3,
	types.KindProcedural:  1.2,
	types.KindSemantic:    1.0,
	types.KindEpisodic:    0.8,
	types.KindWorking:     0.5,
}

// ScoreImportance computes a memory's retention priority at the given
// instant:
//
//	importance = base * frequency_factor * recency_factor * kind_weight
//
// where frequency_factor = min(access_count/10, 2.0) and
// recency_factor = max(0.1, 1/(1+age_days)) with age measured from
// created_at. The score must be recomputed on every access, never cached:
// both the clock and the access count move it.
func ScoreImportance(memory *types.Memory, now time.Time) float64 {
	frequency := float64(memory.AccessCount) / frequencyDivisor
	if frequency > maxFrequencyFactor {
		frequency = maxFrequencyFactor
	}

	ageDays := now.Sub(memory.CreatedAt).Seconds() / secondsPerDay
	if ageDays < 0 {
		ageDays = 0
	}
	recency := 1.0 / (1.0 + ageDays)
	if recency < minRecencyFactor {
		recency = minRecencyFactor
	}

	weight, ok := kindWeights[memory.Kind]
	if !ok {
		weight = 1.0
	}

	return baseImportance * frequency * recency * weight
}
