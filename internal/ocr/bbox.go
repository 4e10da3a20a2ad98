package ocr

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/adverant/nexus/docintel-worker/internal/document"
)

// ParseBBoxHTML reads the XHTML produced by `pdftotext -bbox` and returns one
// page record per <page> element with normalized word boxes.
func ParseBBoxHTML(r io.Reader) ([]document.PageRecord, error) {
	z := html.NewTokenizer(r)

	var (
		pages    []document.PageRecord
		current  *document.PageRecord
		width    float64
		height   float64
		inWord   bool
		wordBox  [4]float64
		wordText strings.Builder
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return finishPages(pages), nil
			}
			return nil, fmt.Errorf("parse bbox html: %w", z.Err())

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "page":
				pages = append(pages, document.PageRecord{PageNumber: len(pages) + 1})
				current = &pages[len(pages)-1]
				width = attrFloat(tok.Attr, "width")
				height = attrFloat(tok.Attr, "height")
			case "word":
				if current == nil || tt == html.SelfClosingTagToken {
					continue
				}
				inWord = true
				wordText.Reset()
				wordBox = [4]float64{
					attrFloat(tok.Attr, "xmin"),
					attrFloat(tok.Attr, "ymin"),
					attrFloat(tok.Attr, "xmax"),
					attrFloat(tok.Attr, "ymax"),
				}
			}

		case html.TextToken:
			if inWord {
				wordText.Write(z.Text())
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "word":
				if inWord && current != nil {
					text := strings.TrimSpace(wordText.String())
					if text != "" {
						current.Words = append(current.Words, document.WordToken{
							Text:       text,
							Box:        document.NewBoundingBox(wordBox[0], wordBox[1], wordBox[2], wordBox[3], width, height),
							Confidence: 1.0,
						})
					}
				}
				inWord = false
			case "page":
				current = nil
			}
		}
	}
}

func finishPages(pages []document.PageRecord) []document.PageRecord {
	for i := range pages {
		pages[i].RawText = document.LinesText(pages[i].Words,
			document.GroupLines(pages[i].Words, nil, document.DefaultLineTolerance))
	}
	return pages
}

func attrFloat(attrs []html.Attribute, key string) float64 {
	for _, a := range attrs {
		if a.Key == key {
			f, err := strconv.ParseFloat(a.Val, 64)
			if err == nil {
				return f
			}
		}
	}
	return 0
}
