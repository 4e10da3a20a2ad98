package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adverant/nexus/docintel-worker/internal/document"
	dierrors "github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

type fakeRunner struct {
	mu       sync.Mutex
	bboxHTML string
	textErr  error
	rendered int
	calls    []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, logger *logging.Logger, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	switch name {
	case "pdftotext":
		if f.textErr != nil {
			return nil, []byte("boom"), f.textErr
		}
		return []byte(f.bboxHTML), nil, nil
	case "pdftoppm":
		prefix := args[len(args)-1]
		for i := 1; i <= f.rendered; i++ {
			if err := os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, i), append(pngHeader, byte(i)), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	}
	return nil, nil, fmt.Errorf("unexpected command %s", name)
}

type fakeEngine struct {
	perPage map[byte][]document.WordToken
	hang    bool
}

func (f *fakeEngine) Recognize(ctx context.Context, img []byte) ([]document.WordToken, error) {
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.perPage[img[len(img)-1]], nil
}

func newTestExtractor(t *testing.T, runner Runner, engine Engine) *Extractor {
	cfg := DefaultConfig()
	cfg.TempDir = t.TempDir()
	cfg.PageTimeout = 50 * time.Millisecond
	return NewExtractor(cfg, engine,
		WithRunner(runner),
		WithLogger(logging.New(zaptest.NewLogger(t), "ocr")))
}

func bboxDocument(words ...string) string {
	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html><html xmlns="http://www.w3.org/1999/xhtml"><head><title></title></head><body><doc>`)
	sb.WriteString(`<page width="600.000000" height="800.000000">`)
	x := 10.0
	for _, w := range words {
		fmt.Fprintf(&sb, `<word xMin="%.1f" yMin="80.0" xMax="%.1f" yMax="96.0">%s</word>`, x, x+50, w)
		x += 55
		if x > 500 {
			x = 10
		}
	}
	sb.WriteString(`</page></doc></body></html>`)
	return sb.String()
}

func TestParseBBoxHTML(t *testing.T) {
	html := `<html><body><doc>
<page width="612.000000" height="792.000000">
  <word xMin="61.200000" yMin="79.200000" xMax="122.400000" yMax="99.000000">OM</word>
  <word xMin="130.000000" yMin="79.200000" xMax="240.000000" yMax="99.000000">INVESTMENTS,</word>
  <word xMin="250.000000" yMin="79.200000" xMax="290.000000" yMax="99.000000">L.P.</word>
</page>
<page width="612.000000" height="792.000000">
  <word xMin="61.200000" yMin="400.000000" xMax="122.400000" yMax="420.000000">AT&amp;T</word>
</page>
</doc></body></html>`

	pages, err := ParseBBoxHTML(strings.NewReader(html))
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, 1, pages[0].PageNumber)
	require.Len(t, pages[0].Words, 3)
	assert.Equal(t, "OM", pages[0].Words[0].Text)
	assert.Equal(t, "0.1000,0.1000,0.1000,0.0250", pages[0].Words[0].Box.String())
	assert.Equal(t, 1.0, pages[0].Words[0].Confidence)
	assert.Equal(t, "OM INVESTMENTS, L.P.", pages[0].RawText)

	assert.Equal(t, 2, pages[1].PageNumber)
	assert.Equal(t, "AT&T", pages[1].Words[0].Text)
}

func TestProcessDigitalPDF(t *testing.T) {
	words := strings.Fields(strings.Repeat("capital call notice for limited partners ", 5))
	runner := &fakeRunner{bboxHTML: bboxDocument(words...)}
	ex := newTestExtractor(t, runner, &fakeEngine{})

	doc := document.NewContext("doc-1", "task-1")
	doc.Content = []byte("%PDF-1.7 not really a pdf")

	out, err := ex.Process(context.Background(), doc)
	require.NoError(t, err)

	assert.False(t, out.IsScanned)
	assert.Equal(t, "application/pdf", out.MimeType)
	assert.Equal(t, "direct", out.Metadata["ocr_method"])
	assert.Len(t, out.Pages, 1)
	assert.Equal(t, len(words), out.TokenCount())
	assert.Nil(t, out.PageImages)
	assert.Nil(t, out.Content)
	assert.Equal(t, []string{"pdftotext"}, runner.calls)
}

func TestProcessScannedPDFFallsBackToRendering(t *testing.T) {
	runner := &fakeRunner{bboxHTML: bboxDocument("tiny"), rendered: 2}
	engine := &fakeEngine{perPage: map[byte][]document.WordToken{
		1: {
			{Text: "Capital", Box: document.BoundingBox{Left: 0.1, Top: 0.1, Width: 0.1, Height: 0.02}, Confidence: 0.92},
			{Text: "smudge", Box: document.BoundingBox{Left: 0.3, Top: 0.1, Width: 0.1, Height: 0.02}, Confidence: 0.12},
		},
		2: {
			{Text: "Call", Box: document.BoundingBox{Left: 0.1, Top: 0.5, Width: 0.1, Height: 0.02}, Confidence: 0.88},
		},
	}}
	ex := newTestExtractor(t, runner, engine)

	doc := document.NewContext("doc-2", "task-2")
	doc.Content = []byte("%PDF-1.4 scanned")

	out, err := ex.Process(context.Background(), doc)
	require.NoError(t, err)

	assert.True(t, out.IsScanned)
	require.Len(t, out.Pages, 2)
	assert.Len(t, out.PageImages, 2)
	assert.Equal(t, 2, out.Pages[1].PageNumber)

	// the low-confidence token is kept and flagged
	require.Len(t, out.Pages[0].Words, 2)
	assert.True(t, out.Pages[0].Words[1].LowConfidence)
	assert.False(t, out.Pages[0].Words[0].LowConfidence)
	assert.Equal(t, 1, out.Metadata["low_confidence_tokens"])
	assert.Equal(t, []string{"pdftotext", "pdftoppm"}, runner.calls)
}

func TestProcessShortTextLayerKeptWhenOCRYieldsNothing(t *testing.T) {
	layer := bboxDocument("Capital", "Call", "Notice", "Amount", "$2,103.09")

	tests := []struct {
		name     string
		rendered int
		calls    []string
	}{
		{name: "render fails", rendered: 0, calls: []string{"pdftotext", "pdftoppm"}},
		{name: "engine finds no words", rendered: 1, calls: []string{"pdftotext", "pdftoppm"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{bboxHTML: layer, rendered: tt.rendered}
			ex := newTestExtractor(t, runner, &fakeEngine{})

			doc := document.NewContext("doc-short", "task-short")
			doc.Content = []byte("%PDF-1.4 short text layer")

			out, err := ex.Process(context.Background(), doc)
			require.NoError(t, err)

			assert.Equal(t, "direct", out.Metadata["ocr_method"])
			assert.False(t, out.IsScanned)
			assert.Nil(t, out.PageImages)
			assert.Equal(t, 5, out.TokenCount())
			assert.Equal(t, "$2,103.09", out.Pages[0].Words[4].Text)
			assert.Equal(t, tt.calls, runner.calls)
		})
	}
}

func TestProcessPDFWithoutAnyTokensIsExhaustion(t *testing.T) {
	runner := &fakeRunner{bboxHTML: bboxDocument(), rendered: 1}
	ex := newTestExtractor(t, runner, &fakeEngine{})

	doc := document.NewContext("doc-empty", "task-empty")
	doc.Content = []byte("%PDF-1.4 blank")

	_, err := ex.Process(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dierrors.ErrOCRExhausted))
}

func TestProcessImageNoTokensIsExhaustion(t *testing.T) {
	ex := newTestExtractor(t, &fakeRunner{}, &fakeEngine{hang: true})

	doc := document.NewContext("doc-3", "task-3")
	doc.Content = append([]byte(nil), pngHeader...)

	_, err := ex.Process(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dierrors.ErrOCRExhausted))
}

func TestProcessUnsupportedFormat(t *testing.T) {
	ex := newTestExtractor(t, &fakeRunner{}, &fakeEngine{})

	doc := document.NewContext("doc-4", "task-4")
	doc.Filename = "notes.docx"
	doc.Content = []byte("PK\x03\x04 zip payload")

	_, err := ex.Process(context.Background(), doc)
	assert.True(t, errors.Is(err, dierrors.ErrUnsupportedFormat))
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectMimeType([]byte("%PDF-1.5"), ""))
	assert.Equal(t, "image/jpeg", DetectMimeType([]byte{0xFF, 0xD8, 0xFF, 0xE0}, ""))
	assert.Equal(t, "image/tiff", DetectMimeType([]byte{0x49, 0x49, 0x2A, 0x00}, ""))
	assert.Equal(t, "application/pdf", DetectMimeType([]byte{0, 1}, filepath.Join("a", "b.PDF")))
}
