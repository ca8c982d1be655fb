package engine

import (
	"math"
	"testing"
	"time"

	"github.com/scrypster/memoryrag/pkg/types"
)

func TestScoreImportance(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		memory types.Memory
		want   float64
	}{
		{
			name: "fresh interaction one access",
			memory: types.Memory{
				Kind:        types.KindInteraction,
				CreatedAt:   now,
				AccessCount: 1,
			},
			// 1.0 * (1/10) * 1.0 * 1.5
			want: 0.15,
		},
		{
			name: "frequency saturates at 2x",
			memory: types.Memory{
				Kind:        types.KindSemantic,
				CreatedAt:   now,
				AccessCount: 50,
			},
			// 1.0 * 2.0 * 1.0 * 1.0
			want: 2.0,
		},
		{
			name: "one day old halves recency",
			memory: types.Memory{
				Kind:        types.KindSemantic,
				CreatedAt:   now.Add(-24 * time.Hour),
				AccessCount: 10,
			},
			// 1.0 * 1.0 * 0.5 * 1.0
			want: 0.5,
		},
		{
			name: "recency floored at 0.1",
			memory: types.Memory{
				Kind:        types.KindSemantic,
				CreatedAt:   now.Add(-365 * 24 * time.Hour),
				AccessCount: 10,
			},
			// 1.0 * 1.0 * 0.1 * 1.0
			want: 0.1,
		},
		{
			name: "working kind weighted lowest",
			memory: types.Memory{
				Kind:        types.KindWorking,
				CreatedAt:   now,
				AccessCount: 10,
			},
			// 1.0 * 1.0 * 1.0 * 0.5
			want: 0.5,
		},
		{
			name: "zero accesses scores zero",
			memory: types.Memory{
				Kind:        types.KindInteraction,
				CreatedAt:   now,
				AccessCount: 0,
			},
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreImportance(&tt.memory, now)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ScoreImportance() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestScoreImportanceKindOrdering(t *testing.T) {
	now := time.Now().UTC()
	base := types.Memory{CreatedAt: now, AccessCount: 10}

	ordered := []types.MemoryKind{
		types.KindInteraction,
		types.KindPreference,
		types.KindProcedural,
		types.KindSemantic,
		types.KindEpisodic,
		types.KindWorking,
	}

	var prev float64 = math.Inf(1)
	for _, kind := range ordered {
		memory := base
		memory.Kind = kind
		score := ScoreImportance(&memory, now)
		if score >= prev {
			t.Errorf("kind %s should score below its predecessor: %f >= %f", kind, score, prev)
		}
		prev = score
	}
}

func TestScoreImportanceFutureCreatedAt(t *testing.T) {
	now := time.Now().UTC()
	memory := types.Memory{
		Kind:        types.KindSemantic,
		CreatedAt:   now.Add(time.Hour), // clock skew
		AccessCount: 10,
	}
	got := ScoreImportance(&memory, now)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("future created_at should clamp age to zero: got %f", got)
	}
}
