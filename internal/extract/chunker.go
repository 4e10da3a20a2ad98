package extract

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens approximates the token count of s as one token per four bytes.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// Plan is the single-pass or chunking decision for one document.
type Plan struct {
	TextTokens    int
	SchemaTokens  int
	Overhead      int
	Total         int
	Budget        int
	Chunked       bool
	MaxChunkChars int
}

// PlanExtraction estimates the cost of text plus schema plus overhead and
// chunks only when it is strictly over budget.
func PlanExtraction(text string, schemaJSON []byte, cfg Config) Plan {
	p := Plan{
		TextTokens:   EstimateTokens(text),
		SchemaTokens: EstimateTokens(string(schemaJSON)),
		Overhead:     cfg.PromptOverhead,
		Budget:       cfg.TokenBudget,
	}
	p.Total = p.TextTokens + p.SchemaTokens + p.Overhead
	if p.Total <= p.Budget {
		return p
	}

	p.Chunked = true
	p.MaxChunkChars = cfg.ChunkSize
	if avail := 4 * (p.Budget - p.SchemaTokens - p.Overhead); avail > 0 && (p.MaxChunkChars <= 0 || avail < p.MaxChunkChars) {
		p.MaxChunkChars = avail
	}
	return p
}

// Chunk is one contiguous slice of the text. Start and End are byte offsets.
type Chunk struct {
	Index int
	Start int
	End   int
	Text  string
}

// SplitText cuts text into chunks of at most maxChars bytes. Each cut is
// searched backwards from the limit inside a boundary window, preferring a
// paragraph break, then a sentence end, then a line break, else a hard cut
// on a rune boundary. Every chunk after the first restarts overlap bytes
// before the previous end.
func SplitText(text string, maxChars, overlap int) []Chunk {
	if maxChars <= 0 || len(text) <= maxChars {
		return []Chunk{{Index: 0, Start: 0, End: len(text), Text: text}}
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > maxChars/2 {
		overlap = maxChars / 2
	}
	window := maxChars / 4
	if window < 1 {
		window = 1
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end >= len(text) {
			end = len(text)
		} else {
			lo := end - window
			if floor := start + overlap + 1; lo < floor {
				lo = floor
			}
			end = splitPoint(text, lo, end)
		}

		raw := text[start:end]
		if body := strings.TrimSpace(raw); body != "" {
			from := start + strings.Index(raw, body)
			chunks = append(chunks, Chunk{Index: len(chunks), Start: from, End: from + len(body), Text: body})
		}
		if end >= len(text) {
			break
		}

		next := end - overlap
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// splitPoint returns the cut position in (lo, hi].
func splitPoint(text string, lo, hi int) int {
	if lo < hi {
		region := text[lo:hi]
		if i := strings.LastIndex(region, "\n\n"); i >= 0 {
			return lo + i + 2
		}
		for i := hi - 1; i > lo; i-- {
			switch text[i-1] {
			case '.', '!', '?':
				if text[i] == ' ' || text[i] == '\n' {
					return i
				}
			}
		}
		if i := strings.LastIndexByte(region, '\n'); i >= 0 {
			return lo + i + 1
		}
	}
	for hi > lo && hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi--
	}
	return hi
}
