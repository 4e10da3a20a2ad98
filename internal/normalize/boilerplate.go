package normalize

import (
	"regexp"
	"strings"

	"github.com/tsawler/tabula/layout"
	"github.com/tsawler/tabula/text"

	"github.com/adverant/nexus/docintel-worker/internal/document"
)

// Word boxes are page-relative. The layout detectors work in PDF points with
// the origin at the bottom left, so pages are mapped onto a US Letter sheet.
const (
	pageWidth  = 612.0
	pageHeight = 792.0
)

var (
	digitRun       = regexp.MustCompile(`\d+`)
	pageNumberLine = regexp.MustCompile(`(?i)^(page\s*)?[#\d]+(\s*(of|/)\s*[#\d]+)?$`)
)

// fragment converts a page-relative box into a layout fragment.
func fragment(s string, b document.BoundingBox) text.TextFragment {
	h := b.Height * pageHeight
	return text.TextFragment{
		Text:     s,
		X:        b.Left * pageWidth,
		Y:        (1 - b.Bottom()) * pageHeight,
		Width:    b.Width * pageWidth,
		Height:   h,
		FontSize: h,
	}
}

func lineFragment(words []document.WordToken, line []int) text.TextFragment {
	top, bottom := lineExtent(words, line)
	left, right := 1.0, 0.0
	for _, i := range line {
		if words[i].Box.Left < left {
			left = words[i].Box.Left
		}
		if words[i].Box.Right() > right {
			right = words[i].Box.Right()
		}
	}
	return fragment(document.LineText(words, line), document.BoundingBox{
		Left: left, Top: top, Width: right - left, Height: bottom - top,
	})
}

// detectBoilerplate flags tokens of header and footer lines. Lines that
// recur at the same position on enough pages are found by tabula's
// header/footer detector; a bare page number in a zone is flagged on its own.
func detectBoilerplate(pages []document.PageRecord, lines [][][]int, cfg Config) [][]bool {
	flags := make([][]bool, len(pages))
	fragments := make([]layout.PageFragments, len(pages))
	for p := range pages {
		flags[p] = make([]bool, len(pages[p].Words))
		fragments[p] = layout.PageFragments{PageIndex: p, PageWidth: pageWidth, PageHeight: pageHeight}

		words := pages[p].Words
		for _, line := range lines[p] {
			fragments[p].Fragments = append(fragments[p].Fragments, lineFragment(words, line))

			top, bottom := lineExtent(words, line)
			if top >= cfg.HeaderZone && bottom <= 1-cfg.FooterZone {
				continue
			}
			if key := maskLine(document.LineText(words, line)); key != "" && pageNumberLine.MatchString(key) {
				markLine(flags[p], line)
			}
		}
	}
	if len(pages) < cfg.MinPages {
		return flags
	}

	detector := layout.NewHeaderFooterDetectorWithConfig(layout.HeaderFooterConfig{
		HeaderRegionHeight: cfg.HeaderZone * pageHeight,
		FooterRegionHeight: cfg.FooterZone * pageHeight,
		MinOccurrenceRatio: cfg.MinOccurrenceRatio,
		PositionTolerance:  cfg.PositionTolerance * pageHeight,
		XPositionTolerance: cfg.XPositionTolerance * pageWidth,
		MinPages:           cfg.MinPages,
	})
	result := detector.Detect(fragments)
	if !result.HasHeadersOrFooters() {
		return flags
	}

	// FilterFragments keeps the input order, so a fragment missing from the
	// kept run is a header or footer line.
	for p := range pages {
		kept := result.FilterFragments(p, fragments[p].Fragments, pageHeight)
		k := 0
		for li, f := range fragments[p].Fragments {
			if k < len(kept) && kept[k] == f {
				k++
				continue
			}
			markLine(flags[p], lines[p][li])
		}
	}
	return flags
}

func maskLine(line string) string {
	s := strings.ToLower(strings.Join(strings.Fields(line), " "))
	return digitRun.ReplaceAllString(s, "#")
}

func lineExtent(words []document.WordToken, line []int) (float64, float64) {
	top, bottom := 1.0, 0.0
	for _, i := range line {
		b := words[i].Box
		if b.Top < top {
			top = b.Top
		}
		if b.Bottom() > bottom {
			bottom = b.Bottom()
		}
	}
	return top, bottom
}

func markLine(flags []bool, line []int) {
	for _, i := range line {
		flags[i] = true
	}
}
