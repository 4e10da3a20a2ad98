package document

import (
	"sort"
	"strings"
)

// DefaultLineTolerance is the vertical center distance, relative to page
// height, under which two tokens share a line.
const DefaultLineTolerance = 0.01

// GroupLines groups the tokens selected by idx into lines, top to bottom,
// each line ordered left to right. A nil idx selects every token.
func GroupLines(words []WordToken, idx []int, tolerance float64) [][]int {
	if idx == nil {
		idx = make([]int, len(words))
		for i := range words {
			idx[i] = i
		}
	}
	if len(idx) == 0 {
		return nil
	}
	sorted := append([]int(nil), idx...)
	sort.SliceStable(sorted, func(a, b int) bool {
		return words[sorted[a]].Box.CenterY() < words[sorted[b]].Box.CenterY()
	})

	var lines [][]int
	var current []int
	var anchor float64
	for _, i := range sorted {
		cy := words[i].Box.CenterY()
		tol := tolerance
		if h := words[i].Box.Height / 2; h > tol {
			tol = h
		}
		if len(current) > 0 && cy-anchor > tol {
			lines = append(lines, current)
			current = nil
		}
		if len(current) == 0 {
			anchor = cy
		}
		current = append(current, i)
	}
	if len(current) > 0 {
		lines = append(lines, current)
	}
	for _, line := range lines {
		sort.SliceStable(line, func(a, b int) bool {
			return words[line[a]].Box.Left < words[line[b]].Box.Left
		})
	}
	return lines
}

// LineText joins the tokens of one line with single spaces.
func LineText(words []WordToken, line []int) string {
	parts := make([]string, 0, len(line))
	for _, i := range line {
		if t := strings.TrimSpace(words[i].Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// LinesText renders lines separated by newlines.
func LinesText(words []WordToken, lines [][]int) string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineText(words, line))
	}
	return strings.Join(out, "\n")
}
