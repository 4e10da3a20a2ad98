package enrich

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"

	"github.com/adverant/nexus/docintel-worker/internal/document"
	"github.com/adverant/nexus/docintel-worker/internal/extract"
)

// Match strategies, in cascade order.
const (
	StrategyExact    = "exact"
	StrategySequence = "sequence"
	StrategyFuzzy    = "fuzzy"
	StrategyCurrency = "currency"
)

const currencyTolerance = 0.005

// Token is a word token with its page, in document reading order.
type Token struct {
	Text  string
	Clean string
	Box   document.BoundingBox
	Page  int
}

// CollectTokens flattens all pages into one reading-order stream.
func CollectTokens(pages []document.PageRecord) []Token {
	var out []Token
	for p := range pages {
		for _, w := range pages[p].OrderedWords() {
			if strings.TrimSpace(w.Text) == "" {
				continue
			}
			out = append(out, Token{Text: w.Text, Clean: cleanWord(w.Text), Box: w.Box, Page: pages[p].PageNumber})
		}
	}
	return out
}

// cleanWord lowercases a word and trims surrounding punctuation.
func cleanWord(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}))
}

// Match is a located field.
type Match struct {
	Strategy string
	Tokens   []Token
}

// Boxes renders one box string per matched token.
func (m Match) Boxes() []string {
	out := make([]string, len(m.Tokens))
	for i, t := range m.Tokens {
		out[i] = t.Box.String()
	}
	return out
}

// Page is the page of the first matched token.
func (m Match) Page() int {
	return m.Tokens[0].Page
}

// Locator finds field values among the document tokens.
type Locator struct {
	tokens         []Token
	fuzzyThreshold float64
	maxGap         int
}

// NewLocator creates a locator over tokens.
func NewLocator(tokens []Token, fuzzyThreshold float64, maxGap int) *Locator {
	return &Locator{tokens: tokens, fuzzyThreshold: fuzzyThreshold, maxGap: maxGap}
}

// Locate runs the cascade on the verbatim text, then on the value itself.
func (l *Locator) Locate(f *document.FieldResult) (Match, bool) {
	var anchors []string
	if v := strings.TrimSpace(f.Verbatim()); v != "" {
		anchors = append(anchors, v)
	}
	if s := valueString(f.Value); s != "" && (len(anchors) == 0 || !strings.EqualFold(s, anchors[0])) {
		anchors = append(anchors, s)
	}
	for _, a := range anchors {
		if m, ok := l.LocateText(a); ok {
			return m, true
		}
	}
	return Match{}, false
}

// LocateText applies exact, sequence, fuzzy and currency matching in order.
func (l *Locator) LocateText(anchor string) (Match, bool) {
	words := strings.Fields(anchor)
	if len(words) == 0 || len(l.tokens) == 0 {
		return Match{}, false
	}
	if len(words) == 1 {
		if m, ok := l.exact(words[0]); ok {
			return m, true
		}
	} else if m, ok := l.sequence(words); ok {
		return m, true
	}
	if hasLetter(anchor) {
		if m, ok := l.fuzzy(anchor, len(words)); ok {
			return m, true
		}
	}
	return l.currency(anchor)
}

func (l *Locator) exact(word string) (Match, bool) {
	want := cleanWord(word)
	if want == "" {
		return Match{}, false
	}
	for i := range l.tokens {
		if l.tokens[i].Clean == want {
			return Match{Strategy: StrategyExact, Tokens: l.tokens[i : i+1]}, true
		}
	}
	return Match{}, false
}

// sequence finds the words in order on one page, allowing up to maxGap
// unrelated tokens between consecutive words.
func (l *Locator) sequence(words []string) (Match, bool) {
	clean := make([]string, 0, len(words))
	for _, w := range words {
		if c := cleanWord(w); c != "" {
			clean = append(clean, c)
		}
	}
	if len(clean) < 2 {
		return Match{}, false
	}

	for start := range l.tokens {
		if l.tokens[start].Clean != clean[0] {
			continue
		}
		matched := []Token{l.tokens[start]}
		pos := start
		for _, w := range clean[1:] {
			next := -1
			for j := pos + 1; j <= pos+1+l.maxGap && j < len(l.tokens); j++ {
				if l.tokens[j].Page != l.tokens[start].Page {
					break
				}
				if l.tokens[j].Clean == w {
					next = j
					break
				}
			}
			if next < 0 {
				break
			}
			matched = append(matched, l.tokens[next])
			pos = next
		}
		if len(matched) == len(clean) {
			return Match{Strategy: StrategySequence, Tokens: matched}, true
		}
	}
	return Match{}, false
}

// fuzzy compares the anchor with every window of n-1, n or n+1 consecutive
// tokens on one page and keeps the most similar window above the threshold.
func (l *Locator) fuzzy(anchor string, n int) (Match, bool) {
	target := strings.ToLower(strings.Join(strings.Fields(anchor), " "))
	best, bestScore := Match{}, 0.0
	for size := n - 1; size <= n+1; size++ {
		if size < 1 {
			continue
		}
		for i := 0; i+size <= len(l.tokens); i++ {
			window := l.tokens[i : i+size]
			if window[0].Page != window[size-1].Page {
				continue
			}
			parts := make([]string, size)
			for k, t := range window {
				parts[k] = strings.ToLower(t.Text)
			}
			score := levenshtein.Similarity(target, strings.Join(parts, " "), nil)
			if score > bestScore {
				best, bestScore = Match{Strategy: StrategyFuzzy, Tokens: window}, score
			}
		}
	}
	if bestScore >= l.fuzzyThreshold && len(best.Tokens) > 0 {
		return best, true
	}
	return Match{}, false
}

// currency compares amounts numerically, so "$2103.09" finds "2,103.09"
// and "USD 12,889.47" finds a lone "12,889.47" token. Several tokens are
// read as one amount only when they sit side by side on one line and each
// extra token is a currency marker or a piece of a grouped number.
func (l *Locator) currency(anchor string) (Match, bool) {
	want, ok := extract.ParseNumber(anchor)
	if !ok {
		return Match{}, false
	}
	for size := 1; size <= 3; size++ {
		for i := 0; i+size <= len(l.tokens); i++ {
			window := l.tokens[i : i+size]
			if !amountWindow(window) {
				continue
			}
			var sb strings.Builder
			for _, t := range window {
				sb.WriteString(t.Text)
			}
			got, ok := extract.ParseNumber(strings.TrimRight(sb.String(), ".,;:"))
			if ok && math.Abs(got-want) <= currencyTolerance {
				return Match{Strategy: StrategyCurrency, Tokens: window}, true
			}
		}
	}
	return Match{}, false
}

var currencyMarkers = map[string]struct{}{
	"$": {}, "€": {}, "£": {}, "¥": {},
	"usd": {}, "eur": {}, "gbp": {}, "chf": {}, "jpy": {}, "cad": {}, "aud": {},
}

func isCurrencyMarker(s string) bool {
	_, ok := currencyMarkers[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// amountWindow reports whether consecutive tokens can be read as one amount.
func amountWindow(window []Token) bool {
	digits := false
	for _, t := range window {
		if hasDigit(t.Text) {
			digits = true
		}
	}
	if !digits {
		return false
	}
	for k := 1; k < len(window); k++ {
		prev, next := window[k-1], window[k]
		if prev.Page != next.Page || !adjacentOnLine(prev.Box, next.Box) {
			return false
		}
		if isCurrencyMarker(prev.Text) || isCurrencyMarker(next.Text) {
			continue
		}
		if !groupedFragments(prev.Text, next.Text) {
			return false
		}
	}
	return true
}

// groupedFragments matches a number split at a group separator, such as
// "2," + "103.09" or "2" + ",103.09".
func groupedFragments(prev, next string) bool {
	if !isNumericFragment(prev) || !isNumericFragment(next) {
		return false
	}
	endsSep := strings.HasSuffix(prev, ",") || strings.HasSuffix(prev, ".")
	startsSep := strings.HasPrefix(next, ",") || strings.HasPrefix(next, ".")
	return endsSep != startsSep
}

func isNumericFragment(s string) bool {
	return s != "" && hasDigit(s) && strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != ',' && r != '.'
	}) < 0
}

// adjacentOnLine requires vertical overlap and a horizontal gap no wider than
// about two character heights.
func adjacentOnLine(a, b document.BoundingBox) bool {
	h := math.Max(a.Height, b.Height)
	if h <= 0 {
		return false
	}
	ca, cb := a.Top+a.Height/2, b.Top+b.Height/2
	if math.Abs(ca-cb) > h/2 {
		return false
	}
	gap := b.Left - (a.Left + a.Width)
	return gap >= -h && gap <= 2*h
}

func valueString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return ""
	}
	return fmt.Sprint(v)
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
