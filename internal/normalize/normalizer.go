/**
 * Content Normalizer
 *
 * Derives reading order and clean text from OCR pages. Repeating headers
 * and footers are flagged so they drop out of the text, multi-column pages
 * are reflowed column by column, and the text is cleaned of encoding and
 * whitespace noise. Word tokens themselves are never removed or altered.
 */

package normalize

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/adverant/nexus/docintel-worker/internal/document"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

// Config holds normalization thresholds. All distances are relative to the page.
type Config struct {
	ReflowColumns bool

	// Header and footer detection
	HeaderZone         float64
	FooterZone         float64
	PositionTolerance  float64
	XPositionTolerance float64
	MinOccurrenceRatio float64
	MinPages           int

	// Column detection
	MinGapWidth       float64
	MinGapHeightRatio float64
	MinColumnWidth    float64
	MaxColumns        int
	MinColumnLines    int

	LineTolerance float64
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		ReflowColumns:      true,
		HeaderZone:         0.08,
		FooterZone:         0.08,
		PositionTolerance:  0.01,
		XPositionTolerance: 0.02,
		MinOccurrenceRatio: 0.5,
		MinPages:           2,
		MinGapWidth:        0.03,
		MinGapHeightRatio:  0.5,
		MinColumnWidth:     0.08,
		MaxColumns:         6,
		MinColumnLines:     6,
		LineTolerance:      document.DefaultLineTolerance,
	}
}

// PageResult is the derived output for one page.
type PageResult struct {
	Layout *document.PageLayout
	Text   string
}

// Normalize is a pure function from OCR pages to derived layouts and text.
func Normalize(pages []document.PageRecord, cfg Config) []PageResult {
	lines := make([][][]int, len(pages))
	for p := range pages {
		lines[p] = document.GroupLines(pages[p].Words, nil, cfg.LineTolerance)
	}
	boiler := detectBoilerplate(pages, lines, cfg)

	results := make([]PageResult, len(pages))
	for p := range pages {
		words := pages[p].Words

		var content [][]int
		var furniture []int
		for _, line := range lines[p] {
			var kept []int
			for _, i := range line {
				if boiler[p][i] {
					furniture = append(furniture, i)
				} else {
					kept = append(kept, i)
				}
			}
			if len(kept) > 0 {
				content = append(content, kept)
			}
		}

		var gaps []gap
		if cfg.ReflowColumns {
			gaps = findGaps(words, content, cfg)
		}
		ordered := readingOrder(words, content, gaps)

		order := make([]int, 0, len(words))
		for _, line := range ordered {
			order = append(order, line...)
		}
		order = append(order, furniture...)

		results[p] = PageResult{
			Layout: &document.PageLayout{
				Order:       order,
				Boilerplate: boiler[p],
				Columns:     len(gaps) + 1,
			},
			Text: CleanText(renderLines(words, ordered)),
		}
	}
	return results
}

// renderLines joins lines, inserting a blank line where the vertical gap
// suggests a paragraph break or where reading jumps back up to a new column.
func renderLines(words []document.WordToken, lines [][]int) string {
	var sb strings.Builder
	prevTop, prevBottom, prevHeight := -1.0, 0.0, 0.0
	for n, line := range lines {
		top, bottom := lineExtent(words, line)
		if n > 0 {
			gap := top - prevBottom
			if top < prevTop || gap > 1.5*prevHeight {
				sb.WriteString("\n\n")
			} else {
				sb.WriteString("\n")
			}
		}
		sb.WriteString(document.LineText(words, line))
		prevTop, prevBottom, prevHeight = top, bottom, bottom-top
	}
	return sb.String()
}

var (
	hyphenBreak  = regexp.MustCompile(`(\p{L})-\n(\p{Ll})`)
	spaceRun     = regexp.MustCompile(`[ \t\f\v]+`)
	artifactLine = regexp.MustCompile(`(?m)^[ |_\-=+.]{3,}$`)
	digitO       = regexp.MustCompile(`(\d)[Oo](\d)`)
	blankLineRun = regexp.MustCompile(`\n{3,}`)
	controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
)

// CleanText applies encoding and whitespace normalization.
func CleanText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = controlChars.ReplaceAllString(s, "")
	s = spaceRun.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")

	s = hyphenBreak.ReplaceAllString(s, "$1$2")
	s = artifactLine.ReplaceAllString(s, "")
	for digitO.MatchString(s) {
		s = digitO.ReplaceAllString(s, "${1}0${2}")
	}
	s = blankLineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Normalizer is the pipeline stage wrapping Normalize.
type Normalizer struct {
	cfg    Config
	logger *logging.Logger
}

// NewNormalizer creates the stage.
func NewNormalizer(cfg Config, logger *logging.Logger) *Normalizer {
	return &Normalizer{cfg: cfg, logger: logging.OrNop(logger)}
}

// Name implements the pipeline box contract.
func (n *Normalizer) Name() string { return "normalize" }

// Process derives per-page layout and text and the document's normalized text.
func (n *Normalizer) Process(ctx context.Context, doc *document.Context) (*document.Context, error) {
	results := Normalize(doc.Pages, n.cfg)

	boilerplate, multiColumn := 0, 0
	for p := range doc.Pages {
		doc.Pages[p].Layout = results[p].Layout
		doc.Pages[p].Text = results[p].Text
		for _, b := range results[p].Layout.Boilerplate {
			if b {
				boilerplate++
			}
		}
		if results[p].Layout.Columns > 1 {
			multiColumn++
		}
	}
	doc.NormalizedText = doc.PageText()

	doc.SetMeta("boilerplate_tokens", boilerplate)
	doc.SetMeta("multi_column_pages", multiColumn)
	n.logger.Info("normalize.completed",
		"document_id", doc.DocumentID,
		"chars", len(doc.NormalizedText),
		"boilerplate_tokens", boilerplate,
		"multi_column_pages", multiColumn)
	return doc, nil
}
