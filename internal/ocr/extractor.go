/**
 * Optical Token Extractor
 *
 * Turns raw document bytes into pages of located word tokens. Digital PDFs
 * are read from their text layer; scanned PDFs and images are rendered and
 * recognized page by page. Low-confidence tokens are flagged, never dropped.
 */

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/adverant/nexus/docintel-worker/internal/document"
	"github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

// Config controls text-layer acceptance and page rendering.
type Config struct {
	DPI                int
	MinTextLength      int
	MinTokenConfidence float64
	MaxPages           int
	PageTimeout        time.Duration
	TempDir            string
	PdfToTextPath      string
	PdfToPPMPath       string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DPI:                300,
		MinTextLength:      100,
		MinTokenConfidence: 0.30,
		MaxPages:           50,
		PageTimeout:        30 * time.Second,
		TempDir:            os.TempDir(),
		PdfToTextPath:      "pdftotext",
		PdfToPPMPath:       "pdftoppm",
	}
}

// Extractor is the OCR pipeline stage.
type Extractor struct {
	cfg    Config
	engine Engine
	runner Runner
	logger *logging.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(e *Extractor) { e.runner = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates the stage.
func NewExtractor(cfg Config, engine Engine, opts ...Option) *Extractor {
	def := DefaultConfig()
	if cfg.DPI <= 0 {
		cfg.DPI = def.DPI
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = def.PageTimeout
	}
	if cfg.TempDir == "" {
		cfg.TempDir = def.TempDir
	}
	if cfg.PdfToTextPath == "" {
		cfg.PdfToTextPath = def.PdfToTextPath
	}
	if cfg.PdfToPPMPath == "" {
		cfg.PdfToPPMPath = def.PdfToPPMPath
	}
	e := &Extractor{cfg: cfg, engine: engine, runner: ExecRunner{}}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

// Name implements the pipeline box contract.
func (e *Extractor) Name() string { return "ocr" }

// Process fills doc.Pages from doc.Content.
func (e *Extractor) Process(ctx context.Context, doc *document.Context) (*document.Context, error) {
	if len(doc.Content) == 0 {
		return doc, errors.NewInvalidRequestError(doc.DocumentID, "document has no content")
	}

	mimeType := DetectMimeType(doc.Content, doc.Filename)
	doc.MimeType = mimeType
	log := e.logger.With("document_id", doc.DocumentID, "mime_type", mimeType)

	var (
		pages  []document.PageRecord
		images [][]byte
		method string
		err    error
	)
	switch {
	case mimeType == "application/pdf":
		pages, images, method, err = e.processPDF(ctx, doc.Content, log)
	case IsImage(mimeType):
		pages, err = e.recognizePages(ctx, [][]byte{doc.Content}, log)
		images = [][]byte{doc.Content}
		method = "tesseract"
	default:
		return doc, errors.NewUnsupportedFormatError(doc.DocumentID, mimeType)
	}
	if err != nil {
		return doc, err
	}

	lowConfidence := 0
	for p := range pages {
		for w := range pages[p].Words {
			if pages[p].Words[w].Confidence < e.cfg.MinTokenConfidence {
				pages[p].Words[w].LowConfidence = true
				lowConfidence++
			}
		}
	}

	doc.Pages = pages
	doc.IsScanned = method != "direct"
	if doc.IsScanned {
		doc.PageImages = images
	}
	doc.Content = nil

	tokens := doc.TokenCount()
	doc.SetMeta("ocr_method", method)
	doc.SetMeta("page_count", len(pages))
	doc.SetMeta("token_count", tokens)
	doc.SetMeta("low_confidence_tokens", lowConfidence)

	if tokens == 0 {
		return doc, errors.NewOCRExhaustedError(doc.DocumentID, len(pages), nil)
	}

	log.Info("ocr.completed",
		"method", method,
		"pages", len(pages),
		"tokens", tokens,
		"low_confidence_tokens", lowConfidence)
	return doc, nil
}

func (e *Extractor) processPDF(ctx context.Context, data []byte, log *logging.Logger) ([]document.PageRecord, [][]byte, string, error) {
	pageCount, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		log.Warn("ocr.pdf.page_count_failed", "error", err)
	} else if pageCount > e.cfg.MaxPages {
		log.Warn("ocr.pdf.truncated", "page_count", pageCount, "max_pages", e.cfg.MaxPages)
	}

	workDir, err := os.MkdirTemp(e.cfg.TempDir, "ocr-*")
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	input := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, nil, "", fmt.Errorf("failed to write pdf: %w", err)
	}

	direct, err := e.directText(ctx, input, log)
	if err == nil && textLength(direct) >= e.cfg.MinTextLength {
		return direct, nil, "direct", nil
	}
	if err != nil {
		log.Warn("ocr.direct_text.failed", "error", err)
		direct = nil
	}

	// A short text layer is still kept when rendering or OCR yields nothing.
	images, err := e.renderPages(ctx, input, workDir)
	if err != nil {
		if tokenCount(direct) > 0 {
			log.Warn("ocr.render.failed_using_direct", "error", err, "tokens", tokenCount(direct))
			return direct, nil, "direct", nil
		}
		return nil, nil, "", errors.NewOCRExhaustedError("", pageCount, err)
	}
	pages, err := e.recognizePages(ctx, images, log)
	if err != nil {
		return nil, nil, "", err
	}
	if tokenCount(pages) == 0 && tokenCount(direct) > 0 {
		log.Warn("ocr.recognition.empty_using_direct", "pages", len(images), "tokens", tokenCount(direct))
		return direct, nil, "direct", nil
	}
	return pages, images, "tesseract", nil
}

func (e *Extractor) directText(ctx context.Context, input string, log *logging.Logger) ([]document.PageRecord, error) {
	stdout, _, err := e.runner.Run(ctx, e.cfg.PdfToTextPath, log,
		"-bbox", "-enc", "UTF-8", "-l", strconv.Itoa(e.cfg.MaxPages), input, "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	return ParseBBoxHTML(bytes.NewReader(stdout))
}

var renderedPage = regexp.MustCompile(`-(\d+)\.png$`)

// renderPages rasterizes the PDF and returns PNG bytes in page order.
func (e *Extractor) renderPages(ctx context.Context, input, workDir string) ([][]byte, error) {
	prefix := filepath.Join(workDir, "page")
	if _, _, err := e.runner.Run(ctx, e.cfg.PdfToPPMPath, e.logger,
		"-r", strconv.Itoa(e.cfg.DPI), "-png", "-l", strconv.Itoa(e.cfg.MaxPages), input, prefix); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w", err)
	}

	files, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages")
	}
	sort.Slice(files, func(i, j int) bool { return pageIndex(files[i]) < pageIndex(files[j]) })

	images := make([][]byte, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read rendered page: %w", err)
		}
		images = append(images, b)
	}
	return images, nil
}

func pageIndex(path string) int {
	m := renderedPage.FindStringSubmatch(path)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

type pageOutcome struct {
	words []document.WordToken
	err   error
}

// recognizePages runs the engine on each page with a per-page timeout. A page
// that fails keeps an empty record so page numbers stay aligned.
func (e *Extractor) recognizePages(ctx context.Context, images [][]byte, log *logging.Logger) ([]document.PageRecord, error) {
	pages := make([]document.PageRecord, 0, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := document.PageRecord{PageNumber: i + 1}

		start := time.Now()
		words, err := e.recognizeWithTimeout(ctx, img)
		if err != nil {
			log.Warn("ocr.page.failed", "page", i+1, "error", err)
		} else {
			page.Words = words
			page.RawText = document.LinesText(words, document.GroupLines(words, nil, document.DefaultLineTolerance))
			log.Debug("ocr.page.completed", "page", i+1, "words", len(words), "elapsed_ms", time.Since(start).Milliseconds())
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (e *Extractor) recognizeWithTimeout(ctx context.Context, img []byte) ([]document.WordToken, error) {
	pageCtx, cancel := context.WithTimeout(ctx, e.cfg.PageTimeout)
	defer cancel()

	done := make(chan pageOutcome, 1)
	go func() {
		words, err := e.engine.Recognize(pageCtx, img)
		done <- pageOutcome{words: words, err: err}
	}()

	select {
	case out := <-done:
		return out.words, out.err
	case <-pageCtx.Done():
		return nil, fmt.Errorf("page recognition timed out: %w", pageCtx.Err())
	}
}

func tokenCount(pages []document.PageRecord) int {
	n := 0
	for _, p := range pages {
		n += len(p.Words)
	}
	return n
}

func textLength(pages []document.PageRecord) int {
	n := 0
	for _, p := range pages {
		n += len([]rune(p.RawText))
	}
	return n
}
