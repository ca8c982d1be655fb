package compression

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/scrypster/memoryrag/pkg/types"
)

// Strategy identifies a compression strategy. Strategies form a closed set
// and are considered in a fixed priority order; the selection predicate in
// selectStrategies decides which ones run for a given input.
type Strategy int

// Strategies in priority order.
const (
	StrategyDeduplication Strategy = iota
	StrategyEntropy
	StrategySemanticChunking
	StrategyDictionary
	StrategyQuantization
	StrategyApproximation
)

// allStrategies lists every strategy in application order.
var allStrategies = []Strategy{
	StrategyDeduplication,
	StrategyEntropy,
	StrategySemanticChunking,
	StrategyDictionary,
	StrategyQuantization,
	StrategyApproximation,
}

func (s Strategy) String() string {
	switch s {
	case StrategyDeduplication:
		return "contextual_deduplication"
	case StrategyEntropy:
		return "entropy_based"
	case StrategySemanticChunking:
		return "semantic_chunking"
	case StrategyDictionary:
		return "hybrid_dictionary"
	case StrategyQuantization:
		return "adaptive_quantization"
	case StrategyApproximation:
		return "approximation"
	default:
		return "unknown"
	}
}

// Selection thresholds.
const (
	// entropyCompressibilityMin selects entropy sampling when the zlib
	// probe barely compresses the content.
	entropyCompressibilityMin = 0.7
	// approximationCompressibilityMax selects lossy approximation when
	// the probe compresses the content well below half size.
	approximationCompressibilityMax = 0.5
	// dictionaryMinLength is the minimum content size for the lossless
	// dictionary encoder to be worth its header overhead.
	dictionaryMinLength = 5000
	// dedupMinPatternLength is the shortest repeated substring worth a
	// reference placeholder.
	dedupMinPatternLength = 20
)

// selectStrategies picks the ordered subset of strategies to attempt based
// on the content analysis. Quantization is always attempted.
func selectStrategies(analysis *Analysis) []Strategy {
	selected := make([]Strategy, 0, len(allStrategies))
	for _, s := range allStrategies {
		switch s {
		case StrategyDeduplication:
			if analysis.HighRepetition {
				selected = append(selected, s)
			}
		case StrategyEntropy:
			if analysis.Compressibility > entropyCompressibilityMin {
				selected = append(selected, s)
			}
		case StrategySemanticChunking:
			if analysis.ContentType == types.ContentConversation || analysis.ContentType == types.ContentDocumentation {
				selected = append(selected, s)
			}
		case StrategyDictionary:
			if analysis.TotalLength > dictionaryMinLength {
				selected = append(selected, s)
			}
		case StrategyQuantization:
			selected = append(selected, s)
		case StrategyApproximation:
			if analysis.Compressibility < approximationCompressibilityMax {
				selected = append(selected, s)
			}
		}
	}
	return selected
}

// apply runs the strategy on content and reports sizes, ratio, and a
// per-strategy fidelity estimate.
func (s Strategy) apply(content string, contentType types.ContentType, analysis *Analysis) (*types.CompressionResult, error) {
	start := time.Now()

	var payload string
	var quality float64
	var err error

	switch s {
	case StrategyDeduplication:
		payload, err = deduplicate(content, analysis.Patterns)
		quality = 1.0 // fully reversible
	case StrategyEntropy:
		payload = entropySample(content, contentType)
		quality = 0.80
	case StrategySemanticChunking:
		payload = chunkBySemantics(content, contentType)
		quality = 0.85
	case StrategyDictionary:
		payload, err = dictionaryEncode(content)
		quality = 1.0 // lossless
	case StrategyQuantization:
		payload = quantize(content, contentType)
		quality = 0.75
	case StrategyApproximation:
		payload = selectByImportance(content, contentType, 0.30)
		quality = 0.70
	default:
		return nil, fmt.Errorf("unknown strategy %d", s)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s, err)
	}

	originalSize := len(content)
	compressedSize := len(payload)
	ratio := 1.0
	if originalSize > 0 {
		ratio = float64(compressedSize) / float64(originalSize)
	}

	return &types.CompressionResult{
		Method:         s.String(),
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Ratio:          ratio,
		Elapsed:        time.Since(start),
		Quality:        quality,
		Payload:        payload,
	}, nil
}

// deduplicate replaces long repeated substrings with [[REF:hash]]
// placeholders and appends a [[DICT]] lookup section. ExpandReferences
// reverses it exactly.
func deduplicate(content string, patterns []string) (string, error) {
	dict := map[string]string{}
	result := content

	for _, pattern := range patterns {
		if len(pattern) <= dedupMinPatternLength {
			continue
		}
		sum := md5.Sum([]byte(pattern))
		key := hex.EncodeToString(sum[:])[:8]
		placeholder := "[[REF:" + key + "]]"

		replaced := strings.ReplaceAll(result, pattern, placeholder)
		if replaced == result {
			continue
		}
		dict[key] = pattern
		result = replaced
	}

	if len(dict) > 0 {
		dictJSON, err := json.Marshal(dict)
		if err != nil {
			return "", fmt.Errorf("failed to marshal dedup dictionary: %w", err)
		}
		result += "\n[[DICT]]\n" + string(dictJSON)
	}

	return result, nil
}

// ExpandReferences reverses deduplicate: it parses the trailing [[DICT]]
// section and substitutes every placeholder back. Content without a
// dictionary section is returned unchanged.
func ExpandReferences(content string) (string, error) {
	idx := strings.LastIndex(content, "\n[[DICT]]\n")
	if idx < 0 {
		return content, nil
	}

	body := content[:idx]
	var dict map[string]string
	if err := json.Unmarshal([]byte(content[idx+len("\n[[DICT]]\n"):]), &dict); err != nil {
		return "", fmt.Errorf("failed to parse dedup dictionary: %w", err)
	}

	for key, pattern := range dict {
		body = strings.ReplaceAll(body, "[[REF:"+key+"]]", pattern)
	}
	return body, nil
}

// entropySample keeps an entropy-dependent fraction of the
// highest-importance lines: the higher the character entropy, the more
// aggressive the sampling.
func entropySample(content string, contentType types.ContentType) string {
	entropy := characterEntropy(content)

	var keepFraction float64
	switch {
	case entropy > 4.0:
		keepFraction = 0.25
	case entropy > 3.0:
		keepFraction = 0.35
	default:
		keepFraction = 0.45
	}

	return selectByImportance(content, contentType, keepFraction)
}

// chunkBySemantics keeps the top lines of each semantic block: lines with
// meaningful length, at most three per block.
func chunkBySemantics(content string, contentType types.ContentType) string {
	blocks := splitSemanticBlocks(content, contentType)

	compressed := make([]string, 0, len(blocks))
	for _, block := range blocks {
		var kept []string
		for _, line := range strings.Split(block, "\n") {
			trimmed := strings.TrimSpace(line)
			if len(trimmed) > 10 {
				kept = append(kept, trimmed)
			}
			if len(kept) == 3 {
				break
			}
		}
		if len(kept) > 0 {
			compressed = append(compressed, strings.Join(kept, "\n"))
		}
	}

	return strings.Join(compressed, "\n")
}

// dictionaryEncode compresses losslessly with xz (LZMA2) and hex-encodes
// the result so the payload stays valid text.
func dictionaryEncode(content string) (string, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("xz write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("xz close failed: %w", err)
	}

	return hex.EncodeToString(buf.Bytes()), nil
}

// DictionaryDecode reverses dictionaryEncode, recovering the exact
// original text.
func DictionaryDecode(payload string) (string, error) {
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("payload is not hex: %w", err)
	}

	r, err := xz.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to create xz reader: %w", err)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("xz decode failed: %w", err)
	}
	return string(decoded), nil
}

// quantize applies content-type-specific line filtering: dialogue markers
// and long lines for conversation, keyword-bearing lines for code, headers
// and bulleted lines for documentation.
func quantize(content string, contentType types.ContentType) string {
	switch contentType {
	case types.ContentConversation:
		return quantizeConversation(content)
	case types.ContentCode:
		return quantizeCode(content)
	default:
		return quantizeDocumentation(content)
	}
}

func quantizeConversation(content string) string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "User:") || strings.HasPrefix(trimmed, "Assistant:") {
			kept = append(kept, line)
		} else if len(trimmed) > 30 {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

var codeKeywords = []string{
	"func", "function", "const", "let", "var", "class", "import", "export",
	"return", "if", "for", "while", "async", "await",
}

func quantizeCode(content string) string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		keyworded := false
		for _, keyword := range codeKeywords {
			if strings.Contains(trimmed, keyword) {
				keyworded = true
				break
			}
		}
		if keyworded {
			kept = append(kept, line)
		} else if len(trimmed) > 20 && !strings.HasPrefix(trimmed, "//") {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func quantizeDocumentation(content string) string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "*") ||
			strings.HasPrefix(trimmed, "-") ||
			len(strings.Fields(trimmed)) > 5 {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
