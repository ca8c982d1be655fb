package compression

import (
	"strings"

	"github.com/scrypster/memoryrag/pkg/types"
)

// Fidelity weighting: keyword retention dominates, structure and a coarse
// length proxy for semantic consistency split the rest.
const (
	keywordWeight   = 0.4
	structureWeight = 0.3
	semanticWeight  = 0.3
)

var stopwords = map[string]struct{}{
	"this": {}, "that": {}, "with": {}, "from": {},
	"they": {}, "have": {}, "will": {}, "been": {},
}

// evaluateQuality estimates how much semantic content the compressed text
// preserved, in [0,1].
func evaluateQuality(original, compressed string, contentType types.ContentType) float64 {
	if len(original) == 0 {
		return 1.0
	}

	originalKeywords := extractKeywords(original)
	compressedKeywords := extractKeywords(compressed)

	keywordRetention := 1.0
	if len(originalKeywords) > 0 {
		retained := 0
		for kw := range originalKeywords {
			if _, ok := compressedKeywords[kw]; ok {
				retained++
			}
		}
		keywordRetention = float64(retained) / float64(len(originalKeywords))
	}

	structureRetention := evaluateStructureRetention(original, compressed, contentType)

	semanticConsistency := float64(len(compressed)) / float64(len(original)) * 2
	if semanticConsistency > 1.0 {
		semanticConsistency = 1.0
	}

	return keywordWeight*keywordRetention +
		structureWeight*structureRetention +
		semanticWeight*semanticConsistency
}

// extractKeywords collects lowercase words longer than three characters,
// punctuation stripped, stopwords removed.
func extractKeywords(content string) map[string]struct{} {
	keywords := map[string]struct{}{}
	for _, word := range strings.Fields(content) {
		word = strings.ToLower(strings.Trim(word, ".,!?;:()[]{}\"'"))
		if len(word) <= 3 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		keywords[word] = struct{}{}
	}
	return keywords
}

// evaluateStructureRetention compares counts of the content type's
// structural markers: speaker turns, function/class markers, or headings.
func evaluateStructureRetention(original, compressed string, contentType types.ContentType) float64 {
	var originalCount, compressedCount int
	switch contentType {
	case types.ContentConversation:
		originalCount = len(speakerMarkerRe.FindAllString(original, -1))
		compressedCount = len(speakerMarkerRe.FindAllString(compressed, -1))
	case types.ContentCode:
		originalCount = len(codeMarkerRe.FindAllString(original, -1))
		compressedCount = len(codeMarkerRe.FindAllString(compressed, -1))
	default:
		originalCount = len(headingMarkerRe.FindAllString(original, -1))
		compressedCount = len(headingMarkerRe.FindAllString(compressed, -1))
	}

	if originalCount == 0 {
		originalCount = 1
	}
	retention := float64(compressedCount) / float64(originalCount)
	if retention > 1.0 {
		retention = 1.0
	}
	return retention
}
