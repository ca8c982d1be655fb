// Package compression implements the multi-strategy text compression
// pipeline: content analysis drives strategy selection, selected strategies
// run in sequence, and a fidelity score is computed for the final payload.
package compression

import (
	"bytes"
	"compress/zlib"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/scrypster/memoryrag/pkg/types"
)

// Repetition detection bounds. Candidate substrings between the minimum and
// maximum window are sampled at doubling lengths with half-window steps so
// analysis stays near-linear instead of quadratic in content size.
const (
	minPatternLength   = 10
	maxPatternLength   = 200
	maxScanLength      = 20_000
	maxTrackedPatterns = 10
)

// Semantic block boundaries per content type, matched against line starts.
var (
	conversationTurnRe = regexp.MustCompile(`^(User|Assistant):`)
	codeBoundaryRe     = regexp.MustCompile(`^(func |type |class |function |def |async def )`)
	headingBoundaryRe  = regexp.MustCompile(`^#{1,6}\s`)

	speakerMarkerRe = regexp.MustCompile(`(User:|Assistant:)`)
	codeMarkerRe    = regexp.MustCompile(`(func |function |def |class |async )`)
	headingMarkerRe = regexp.MustCompile(`(?m)^#{1,6}\s`)
)

// Analysis holds the content features that drive strategy selection.
type Analysis struct {
	ContentType types.ContentType
	TotalLength int
	WordCount   int
	LineCount   int

	// Patterns are the most frequent repeated substrings, longest counts
	// first. HighRepetition is set when many distinct substrings repeat.
	Patterns       []string
	HighRepetition bool

	// SemanticBlocks is the content split at content-type delimiters:
	// speaker turns, function boundaries, or headings.
	SemanticBlocks []string

	// Compressibility is the byte-level baseline ratio from a generic
	// compressor probe: compressed/original, lower means more redundant.
	Compressibility float64
}

// Analyze computes the content features used for strategy selection.
func Analyze(content string, contentType types.ContentType) *Analysis {
	patterns := findRepetitionPatterns(content)

	return &Analysis{
		ContentType:     contentType,
		TotalLength:     len(content),
		WordCount:       len(strings.Fields(content)),
		LineCount:       strings.Count(content, "\n") + 1,
		Patterns:        patterns,
		HighRepetition:  len(patterns) > 5,
		SemanticBlocks:  splitSemanticBlocks(content, contentType),
		Compressibility: estimateCompressibility(content),
	}
}

// findRepetitionPatterns samples substrings of doubling lengths and counts
// their occurrences, returning the most frequent repeated ones.
func findRepetitionPatterns(content string) []string {
	scan := content
	if len(scan) > maxScanLength {
		scan = scan[:maxScanLength]
	}

	counts := map[string]int{}
	for length := minPatternLength; length <= maxPatternLength && length <= len(scan)/2; length *= 2 {
		step := length / 2
		for i := 0; i+length <= len(scan); i += step {
			pattern := scan[i : i+length]
			if _, seen := counts[pattern]; seen {
				continue
			}
			if n := strings.Count(content, pattern); n > 1 {
				counts[pattern] = n
			}
		}
	}

	type patternCount struct {
		pattern string
		count   int
	}
	ranked := make([]patternCount, 0, len(counts))
	for p, n := range counts {
		ranked = append(ranked, patternCount{p, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		// Longer patterns first on equal counts: bigger savings.
		if len(ranked[i].pattern) != len(ranked[j].pattern) {
			return len(ranked[i].pattern) > len(ranked[j].pattern)
		}
		return ranked[i].pattern < ranked[j].pattern
	})

	if len(ranked) > maxTrackedPatterns {
		ranked = ranked[:maxTrackedPatterns]
	}

	patterns := make([]string, 0, len(ranked))
	for _, pc := range ranked {
		patterns = append(patterns, pc.pattern)
	}
	return patterns
}

// splitSemanticBlocks divides content at the content type's natural
// boundaries and drops empty blocks. A new block begins at every line
// matching the type's boundary pattern.
func splitSemanticBlocks(content string, contentType types.ContentType) []string {
	var boundary *regexp.Regexp
	switch contentType {
	case types.ContentConversation:
		boundary = conversationTurnRe
	case types.ContentCode:
		boundary = codeBoundaryRe
	default:
		boundary = headingBoundaryRe
	}

	var blocks []string
	var current []string
	flush := func() {
		if len(current) == 0 {
			return
		}
		if block := strings.TrimSpace(strings.Join(current, "\n")); block != "" {
			blocks = append(blocks, block)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(content, "\n") {
		if boundary.MatchString(line) {
			flush()
		}
		current = append(current, line)
	}
	flush()

	return blocks
}

// estimateCompressibility probes byte-level redundancy with zlib. Returns
// compressed/original; 0.5 on any failure or empty input.
func estimateCompressibility(content string) float64 {
	if len(content) == 0 {
		return 0.5
	}
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write([]byte(content)); err != nil {
		_ = w.Close()
		return 0.5
	}
	if err := w.Close(); err != nil {
		return 0.5
	}
	return float64(buf.Len()) / float64(len(content))
}

// characterEntropy computes Shannon entropy in bits over the rune
// distribution.
func characterEntropy(content string) float64 {
	if len(content) == 0 {
		return 0
	}
	counts := map[rune]int{}
	total := 0
	for _, r := range content {
		counts[r]++
		total++
	}

	entropy := 0.0
	for _, count := range counts {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// lineImportance scores a single line by length and content-type keywords.
func lineImportance(line string, contentType types.ContentType) float64 {
	score := 0.1
	if len(line) > 20 {
		score += 0.2
	}

	switch contentType {
	case types.ContentConversation:
		lower := strings.ToLower(line)
		for _, keyword := range []string{"react", "component", "function", "api"} {
			if strings.Contains(lower, keyword) {
				score += 0.4
				break
			}
		}
	case types.ContentCode:
		for _, keyword := range []string{"class", "func", "function", "async", "return", "import"} {
			if strings.Contains(line, keyword) {
				score += 0.5
				break
			}
		}
	default:
		lower := strings.ToLower(line)
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			score += 0.3
		} else {
			for _, keyword := range []string{"architecture", "system", "component"} {
				if strings.Contains(lower, keyword) {
					score += 0.3
					break
				}
			}
		}
	}

	return score
}

// selectByImportance keeps the highest-scoring keepFraction of lines in
// their original order. At least one line is always kept so sampling can
// never erase the content entirely.
func selectByImportance(content string, contentType types.ContentType, keepFraction float64) string {
	lines := strings.Split(content, "\n")

	type scoredLine struct {
		index int
		score float64
	}
	scored := make([]scoredLine, len(lines))
	for i, line := range lines {
		scored[i] = scoredLine{i, lineImportance(line, contentType)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	target := int(float64(len(lines)) * keepFraction)
	if target < 1 {
		target = 1
	}
	if target > len(lines) {
		target = len(lines)
	}

	keep := make([]int, 0, target)
	for _, sl := range scored[:target] {
		keep = append(keep, sl.index)
	}
	sort.Ints(keep)

	selected := make([]string, 0, len(keep))
	for _, i := range keep {
		selected = append(selected, lines[i])
	}
	return strings.Join(selected, "\n")
}
