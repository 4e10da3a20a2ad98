/**
 * Schema Extractor
 *
 * Produces the value tree for a classified document. Text that fits the
 * request budget is extracted in one call; longer text is split into
 * overlapping chunks that are extracted concurrently and merged once every
 * chunk call has returned.
 */

package extract

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/docintel-worker/internal/catalog"
	"github.com/adverant/nexus/docintel-worker/internal/document"
	"github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/llm"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

// Extraction modes recorded in metadata.
const (
	ModeSinglePass = "single-pass"
	ModeChunking   = "chunking"
)

// Config holds extraction limits.
type Config struct {
	TokenBudget      int // estimated tokens allowed per request
	PromptOverhead   int // fixed token cost of the instructions
	ChunkSize        int // upper bound on chunk length, in characters
	ChunkOverlap     int
	ChunkConcurrency int
	MaxTokens        int // response budget
	MaxImages        int // page images attached in VISION modality
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		TokenBudget:      100000,
		PromptOverhead:   1000,
		ChunkSize:        50000,
		ChunkOverlap:     2000,
		ChunkConcurrency: 1,
		MaxTokens:        4000,
		MaxImages:        20,
	}
}

// Extractor is the extraction stage.
type Extractor struct {
	cfg     Config
	catalog catalog.Provider
	invoker *llm.Invoker
	logger  *logging.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates the stage.
func NewExtractor(cfg Config, cat catalog.Provider, invoker *llm.Invoker, opts ...Option) *Extractor {
	e := &Extractor{cfg: cfg, catalog: cat, invoker: invoker}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

// Name implements the pipeline box contract.
func (e *Extractor) Name() string { return "extract" }

type chunkOutcome struct {
	tree   *document.Node
	issues []document.Issue
	result *llm.Result
	err    error
}

// Process sets ExtractionSchema, ValueTree, ValidationErrors and the quality score.
func (e *Extractor) Process(ctx context.Context, doc *document.Context) (*document.Context, error) {
	log := e.logger.With("document_id", doc.DocumentID, "document_type", doc.DocumentType)
	if doc.DocumentType == "" {
		return nil, errors.NewStageFailedError(doc.DocumentID, e.Name(), stderrors.New("document has no type"))
	}

	schema, err := e.catalog.Schema(ctx, doc.DocumentType)
	if stderrors.Is(err, catalog.ErrSchemaNotFound) {
		return nil, errors.NewSchemaNotFoundError(doc.DocumentID, doc.DocumentType)
	}
	if err != nil {
		return nil, errors.NewStageFailedError(doc.DocumentID, e.Name(), fmt.Errorf("load extraction schema: %w", err))
	}
	doc.ExtractionSchema = schema

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, errors.NewStageFailedError(doc.DocumentID, e.Name(), fmt.Errorf("encode extraction schema: %w", err))
	}

	text := doc.NormalizedText
	if text == "" {
		text = doc.PageText()
	}
	plan := PlanExtraction(text, schemaJSON, e.cfg)
	mode := ModeSinglePass
	chunks := []Chunk{{Index: 0, Start: 0, End: len(text), Text: text}}
	if plan.Chunked {
		mode = ModeChunking
		chunks = SplitText(text, plan.MaxChunkChars, e.cfg.ChunkOverlap)
	}
	log.Info("extract.plan",
		"mode", mode,
		"estimated_tokens", plan.Total,
		"budget", plan.Budget,
		"chunks", len(chunks))

	var images []llm.Image
	if doc.Modality == document.ModalityVision {
		images = pageImages(doc.PageImages, e.cfg.MaxImages)
	}

	start := time.Now()
	outcomes := make([]chunkOutcome, len(chunks))
	var g errgroup.Group
	limit := e.cfg.ChunkConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, ch := range chunks {
		g.Go(func() error {
			req := llm.Request{
				System:    systemPrompt,
				Prompt:    BuildPrompt(doc.DocumentType, schemaJSON, ch.Text, ch.Index, len(chunks)),
				Images:    images,
				MaxTokens: e.cfg.MaxTokens,
				JSON:      true,
			}
			res, err := e.invoker.Invoke(ctx, req, parseObject)
			if err != nil {
				outcomes[i] = chunkOutcome{err: err}
				return nil
			}
			tree, issues := BuildTree(schema, res.Value)
			outcomes[i] = chunkOutcome{tree: tree, issues: issues, result: res}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		trees      []*document.Node
		issues     []document.Issue
		failures   []error
		retries    int
		provider   string
		lastFailed string
	)
	for i, out := range outcomes {
		if out.err != nil {
			failures = append(failures, fmt.Errorf("chunk %d: %w", i, out.err))
			var exhausted *llm.ExhaustedError
			if stderrors.As(out.err, &exhausted) {
				retries += exhausted.RetryCount()
				lastFailed = exhausted.LastProvider
			}
			issues = append(issues, document.Issue{
				FieldPath: "",
				Severity:  document.SeverityMedium,
				Code:      document.IssueChunkExtractionFailed,
				Message:   fmt.Sprintf("chunk %d of %d (characters %d-%d) could not be extracted: %v", i+1, len(chunks), chunks[i].Start, chunks[i].End, out.err),
			})
			continue
		}
		trees = append(trees, out.tree)
		issues = append(issues, out.issues...)
		retries += out.result.RetryCount
		provider = out.result.Provider
	}
	doc.RetryCount += retries

	if len(trees) == 0 {
		log.Error("extract.exhausted", "chunks", len(chunks), "retries", retries, "provider", lastFailed)
		return nil, errors.NewExtractionExhaustedError(doc.DocumentID, len(chunks), retries, lastFailed, stderrors.Join(failures...))
	}
	doc.ProviderUsed = provider

	tree, conflicts := MergeAll(trees)
	issues = append(issues, conflicts...)
	doc.ValueTree = tree
	doc.AddIssues(issues...)

	score, band, parts := Assess(tree, schema, doc.ValidationErrors)
	doc.QualityScore = score
	doc.QualityBand = band

	doc.SetMeta("extraction_mode", mode)
	doc.SetMeta("chunk_count", len(chunks))
	doc.SetMeta("failed_chunks", len(failures))
	doc.SetMeta("estimated_tokens", plan.Total)
	doc.SetMeta("extraction_quality", parts)
	doc.Log("INFO", e.Name(), "value tree extracted", map[string]interface{}{
		"mode":            mode,
		"chunks":          len(chunks),
		"failed_chunks":   len(failures),
		"merge_conflicts": len(conflicts),
		"quality_score":   score,
	})
	log.Info("extract.completed",
		"mode", mode,
		"chunks", len(chunks),
		"failed_chunks", len(failures),
		"merge_conflicts", len(conflicts),
		"quality_score", score,
		"quality_band", band,
		"elapsed_ms", time.Since(start).Milliseconds())
	return doc, nil
}

// parseObject accepts a JSON object, optionally inside a code fence or
// surrounded by prose.
func parseObject(text string) (interface{}, error) {
	body := llm.StripCodeFences(text)
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(body), &obj); err == nil && obj != nil {
		return obj, nil
	}
	first, last := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
	if first < 0 || last <= first {
		return nil, stderrors.New("response contains no JSON object")
	}
	if err := json.Unmarshal([]byte(body[first:last+1]), &obj); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return obj, nil
}

func pageImages(images [][]byte, limit int) []llm.Image {
	if limit > 0 && len(images) > limit {
		images = images[:limit]
	}
	out := make([]llm.Image, 0, len(images))
	for _, img := range images {
		out = append(out, llm.Image{MimeType: http.DetectContentType(img), Data: img})
	}
	return out
}
