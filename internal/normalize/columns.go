package normalize

import (
	"sort"

	"github.com/tsawler/tabula/layout"
	"github.com/tsawler/tabula/text"

	"github.com/adverant/nexus/docintel-worker/internal/document"
)

type gap struct {
	left, right float64
}

func (g gap) center() float64 { return (g.left + g.right) / 2 }

// findGaps returns the vertical whitespace gaps between text columns, found
// by tabula's column detector. Lines that run unbroken across more than half
// of the text extent (titles, full-width paragraphs) would bridge every gap,
// so they are left out of the analysis and read in place later.
func findGaps(words []document.WordToken, lines [][]int, cfg Config) []gap {
	if len(lines) < cfg.MinColumnLines {
		return nil
	}

	minX, maxX := 1.0, 0.0
	for _, line := range lines {
		left, right := lineSpan(words, line)
		if left < minX {
			minX = left
		}
		if right > maxX {
			maxX = right
		}
	}
	extent := maxX - minX
	if extent <= 0 {
		return nil
	}

	var fragments []text.TextFragment
	for _, line := range lines {
		left, right := lineSpan(words, line)
		if right-left > extent/2 && !hasInnerGap(words, line, cfg.MinGapWidth) {
			continue
		}
		for _, i := range line {
			fragments = append(fragments, fragment(words[i].Text, words[i].Box))
		}
	}

	detector := layout.NewColumnDetectorWithConfig(layout.ColumnConfig{
		MinColumnWidth:    cfg.MinColumnWidth * pageWidth,
		MinGapWidth:       cfg.MinGapWidth * pageWidth,
		MinGapHeightRatio: cfg.MinGapHeightRatio,
		MaxColumns:        cfg.MaxColumns,
		MergeThreshold:    layout.DefaultColumnConfig().MergeThreshold,
	})
	columns := detector.Detect(fragments, pageWidth, pageHeight)
	if columns.ColumnCount() < 2 {
		return nil
	}

	gaps := make([]gap, 0, columns.ColumnCount()-1)
	for i := 1; i < len(columns.Columns); i++ {
		prev, next := columns.Columns[i-1].BBox, columns.Columns[i].BBox
		gaps = append(gaps, gap{left: (prev.X + prev.Width) / pageWidth, right: next.X / pageWidth})
	}
	return gaps
}

func lineSpan(words []document.WordToken, line []int) (float64, float64) {
	left, right := 1.0, 0.0
	for _, i := range line {
		if words[i].Box.Left < left {
			left = words[i].Box.Left
		}
		if words[i].Box.Right() > right {
			right = words[i].Box.Right()
		}
	}
	return left, right
}

// hasInnerGap reports whether horizontal whitespace of at least width
// separates two neighbouring tokens of the line.
func hasInnerGap(words []document.WordToken, line []int, width float64) bool {
	sorted := append([]int(nil), line...)
	sort.Slice(sorted, func(a, b int) bool { return words[sorted[a]].Box.Left < words[sorted[b]].Box.Left })
	reach := words[sorted[0]].Box.Right()
	for _, i := range sorted[1:] {
		if words[i].Box.Left-reach >= width {
			return true
		}
		if r := words[i].Box.Right(); r > reach {
			reach = r
		}
	}
	return false
}

// spansGap reports whether any token of the line overlaps a gap.
func spansGap(words []document.WordToken, line []int, gaps []gap) bool {
	for _, i := range line {
		for _, g := range gaps {
			if words[i].Box.Right() > g.left && words[i].Box.Left < g.right {
				return true
			}
		}
	}
	return false
}

// bandOf returns the column index of a token by its horizontal center.
func bandOf(w document.WordToken, gaps []gap) int {
	cx := w.Box.CenterX()
	band := 0
	for _, g := range gaps {
		if cx > g.center() {
			band++
		}
	}
	return band
}

// readingOrder arranges lines into reading order: lines that cross a gap are
// emitted in place; runs of lines between them are read column by column.
// It returns the ordered lines, each a slice of token indexes.
func readingOrder(words []document.WordToken, lines [][]int, gaps []gap) [][]int {
	if len(gaps) == 0 {
		return lines
	}

	var out [][]int
	var block [][]int
	flush := func() {
		for band := 0; band <= len(gaps); band++ {
			for _, line := range block {
				var part []int
				for _, i := range line {
					if bandOf(words[i], gaps) == band {
						part = append(part, i)
					}
				}
				if len(part) > 0 {
					sort.SliceStable(part, func(a, b int) bool {
						return words[part[a]].Box.Left < words[part[b]].Box.Left
					})
					out = append(out, part)
				}
			}
		}
		block = nil
	}

	for _, line := range lines {
		if spansGap(words, line, gaps) {
			flush()
			out = append(out, line)
			continue
		}
		block = append(block, line)
	}
	flush()
	return out
}
