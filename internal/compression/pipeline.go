package compression

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scrypster/memoryrag/pkg/types"
)

// ErrAllStrategiesFailed reports that every selected strategy errored. The
// accompanying result still carries the original text with ratio 1.0, so
// callers can proceed with the uncompressed payload.
var ErrAllStrategiesFailed = errors.New("all compression strategies failed")

// Pipeline compresses text toward a target ratio using content-aware
// strategy selection. It is stateless between invocations aside from its
// read-only configuration; concurrent Compress calls are safe.
type Pipeline struct {
	targetRatio float64
	logger      *log.Logger
}

// NewPipeline creates a pipeline aiming for the given compressed/original
// ratio (defaults to 0.4 when out of range).
func NewPipeline(targetRatio float64, logger *log.Logger) *Pipeline {
	if targetRatio <= 0 || targetRatio > 1 {
		targetRatio = 0.4
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{targetRatio: targetRatio, logger: logger}
}

// Compress analyzes the content, selects strategies, and applies them in
// sequence, each consuming the previous strategy's output. A strategy that
// does not shrink its input is skipped, so a second pass over
// already-compressed output applies nothing. A strategy that errors is
// skipped too; only when every selected strategy errors does Compress
// return ErrAllStrategiesFailed, still carrying the original text with
// ratio 1.0.
func (p *Pipeline) Compress(ctx context.Context, content string, contentType types.ContentType) (*types.PipelineResult, error) {
	if !types.IsValidContentType(contentType) {
		return nil, fmt.Errorf("invalid content type %q", contentType)
	}

	start := time.Now()
	originalSize := len(content)

	analysis := Analyze(content, contentType)
	selected := selectStrategies(analysis)

	current := content
	applied := make([]string, 0, len(selected))
	failures := 0

	for _, strategy := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := strategy.apply(current, contentType, analysis)
		if err != nil {
			failures++
			p.logger.Printf("compression strategy %s failed, skipping: %v", strategy, err)
			continue
		}
		// Skip strategies with no effect, and never accept a payload that
		// erases non-empty content outright.
		if result.Ratio >= 1.0 || (result.Payload == "" && current != "") {
			continue
		}

		current = result.Payload
		applied = append(applied, result.Method)
	}

	var err error
	if len(selected) > 0 && failures == len(selected) {
		current = content
		applied = applied[:0]
		err = ErrAllStrategiesFailed
	}

	compressedSize := len(current)
	ratio := 1.0
	if originalSize > 0 {
		ratio = float64(compressedSize) / float64(originalSize)
	}

	return &types.PipelineResult{
		OriginalSize:      originalSize,
		CompressedSize:    compressedSize,
		Ratio:             ratio,
		TargetAchieved:    ratio <= p.targetRatio,
		Quality:           evaluateQuality(content, current, contentType),
		Elapsed:           time.Since(start),
		StrategiesApplied: applied,
		Compressed:        current,
	}, err
}

// TargetRatio returns the configured target compression ratio.
func (p *Pipeline) TargetRatio() float64 {
	return p.targetRatio
}
