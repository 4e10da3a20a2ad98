/**
 * Provenance Enricher
 *
 * Locates every extracted value among the OCR tokens, validates the value
 * tree against its extraction schema and computes the final quality score.
 */

package enrich

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/docintel-worker/internal/document"
	"github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/extract"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

// Config holds enrichment settings.
type Config struct {
	FuzzyThreshold  float64
	MaxSequenceGap  int
	AbortOnCritical bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold: 0.85,
		MaxSequenceGap: 1,
	}
}

// Enricher is the enrichment and validation stage.
type Enricher struct {
	cfg    Config
	logger *logging.Logger
}

// Option customizes an Enricher.
type Option func(*Enricher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Enricher) { e.logger = l }
}

// NewEnricher creates the stage.
func NewEnricher(cfg Config, opts ...Option) *Enricher {
	e := &Enricher{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

// Name implements the pipeline box contract.
func (e *Enricher) Name() string { return "enrich" }

// Process locates fields, records schema issues and sets EnrichmentRate and
// the final quality score.
func (e *Enricher) Process(ctx context.Context, doc *document.Context) (*document.Context, error) {
	if doc.ValueTree == nil {
		return nil, errors.NewStageFailedError(doc.DocumentID, e.Name(), stderrors.New("document has no value tree"))
	}
	log := e.logger.With("document_id", doc.DocumentID, "document_type", doc.DocumentType)
	start := time.Now()

	located, valued, strategies := e.locate(doc)
	doc.EnrichmentRate = rate(located, valued)

	var schemaIssues []document.Issue
	if doc.ExtractionSchema != nil {
		validator, err := NewSchemaValidator(doc.ExtractionSchema)
		if err != nil {
			return nil, errors.NewStageFailedError(doc.DocumentID, e.Name(), err)
		}
		schemaIssues, err = validator.Validate(doc.ValueTree)
		if err != nil {
			return nil, errors.NewStageFailedError(doc.DocumentID, e.Name(), err)
		}
		doc.AddIssues(schemaIssues...)
		doc.AddIssues(extract.CheckFormats(doc.ValueTree, doc.ExtractionSchema).Issues...)
	}

	counts := document.CountBySeverity(doc.ValidationErrors)
	if e.cfg.AbortOnCritical && counts[document.SeverityCritical] > 0 {
		log.Warn("enrich.critical_abort", "critical", counts[document.SeverityCritical])
		return nil, errors.NewSchemaValidationError(doc.DocumentID, counts[document.SeverityCritical])
	}

	score, band, parts := extract.Assess(doc.ValueTree, doc.ExtractionSchema, doc.ValidationErrors)
	doc.QualityScore = score
	doc.QualityBand = band

	doc.SetMeta("enrichment_strategies", strategies)
	doc.SetMeta("validation_quality", parts)
	doc.Log("INFO", e.Name(), "value tree enriched and validated", map[string]interface{}{
		"located":       located,
		"valued":        valued,
		"schema_issues": len(schemaIssues),
		"quality_score": score,
	})
	log.Info("enrich.completed",
		"located", located,
		"valued", valued,
		"enrichment_rate", doc.EnrichmentRate,
		"critical", counts[document.SeverityCritical],
		"high", counts[document.SeverityHigh],
		"quality_score", score,
		"quality_band", band,
		"elapsed_ms", time.Since(start).Milliseconds())
	return doc, nil
}

func (e *Enricher) locate(doc *document.Context) (located, valued int, strategies map[string]int) {
	locator := NewLocator(CollectTokens(doc.Pages), e.cfg.FuzzyThreshold, e.cfg.MaxSequenceGap)
	strategies = make(map[string]int)
	for _, leaf := range doc.ValueTree.Leaves() {
		if !leaf.Field.HasValue() {
			continue
		}
		valued++
		m, ok := locator.Locate(leaf.Field)
		if !ok {
			leaf.Field.BoundingBoxes = nil
			leaf.Field.PageNumber = nil
			doc.AddIssues(document.Issue{
				FieldPath: leaf.Path,
				Severity:  document.SeverityInfo,
				Code:      document.IssueBoundingBoxNotFound,
				Message:   fmt.Sprintf("value %q was not found in the page tokens", describe(leaf.Field)),
			})
			continue
		}
		leaf.Field.SetLocation(m.Boxes(), m.Page(), m.Strategy)
		strategies[m.Strategy]++
		located++
	}
	return located, valued, strategies
}

func rate(located, valued int) float64 {
	if valued == 0 {
		return 0
	}
	return float64(located) / float64(valued)
}

func describe(f *document.FieldResult) string {
	if v := f.Verbatim(); v != "" {
		return v
	}
	return valueString(f.Value)
}
