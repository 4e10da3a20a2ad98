package classify

import (
	"strings"

	"github.com/adverant/nexus/docintel-worker/internal/document"
)

var ocrArtifacts = []string{"�", "|||", "___", "###"}

// TextQuality scores text in [0,1] from word count, words per line and
// the number of OCR artifacts.
func TextQuality(text string) float64 {
	if len(strings.TrimSpace(text)) < 10 {
		return 0
	}
	words := len(strings.Fields(text))
	lines := strings.Count(text, "\n") + 1

	length := minFloat(float64(words)/100, 1)
	density := minFloat(float64(words)/float64(lines)/10, 1)

	penalty := 0.0
	for _, a := range ocrArtifacts {
		penalty += float64(strings.Count(text, a)) * 0.1
	}

	q := (length+density)/2 - penalty
	switch {
	case q < 0:
		return 0
	case q > 1:
		return 1
	}
	return q
}

// SelectModality picks TEXTUAL when the text is long and clean enough,
// otherwise VISION. VISION without page images degrades to TEXTUAL.
func SelectModality(text string, pageImages int, cfg Config) document.Modality {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) >= cfg.MinTextLength && TextQuality(trimmed) >= cfg.MinTextQuality {
		return document.ModalityTextual
	}
	if pageImages == 0 {
		return document.ModalityTextual
	}
	return document.ModalityVision
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
