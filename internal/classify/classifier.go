/**
 * Type Classifier
 *
 * Assigns a catalog document type. A caller-supplied type is accepted as
 * is; otherwise the text or the first page images are sent to the
 * language model chain and the answer must name a catalog entry.
 */

package classify

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adverant/nexus/docintel-worker/internal/catalog"
	"github.com/adverant/nexus/docintel-worker/internal/document"
	"github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/llm"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

const (
	baseConfidence   = 0.9
	retryPenalty     = 0.05
	minConfidence    = 0.5
	headChars        = 2000
	tailChars        = 1000
	answerPreviewLen = 80
)

// Config holds classification thresholds.
type Config struct {
	MinTextLength  int
	MinTextQuality float64
	VisionPages    int
	MaxTokens      int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		MinTextLength:  100,
		MinTextQuality: 0.5,
		VisionPages:    3,
		MaxTokens:      64,
	}
}

// Classifier is the classification stage.
type Classifier struct {
	cfg     Config
	catalog catalog.Provider
	invoker *llm.Invoker
	cache   ResultCache
	logger  *logging.Logger
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithCache enables the classification cache.
func WithCache(c ResultCache) Option {
	return func(cl *Classifier) { cl.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(cl *Classifier) { cl.logger = l }
}

// NewClassifier creates the stage.
func NewClassifier(cfg Config, cat catalog.Provider, invoker *llm.Invoker, opts ...Option) *Classifier {
	c := &Classifier{cfg: cfg, catalog: cat, invoker: invoker}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)
	return c
}

// Name implements the pipeline box contract.
func (c *Classifier) Name() string { return "classify" }

// Confidence maps the number of retries before success to a confidence.
func Confidence(retries int) float64 {
	conf := baseConfidence - retryPenalty*float64(retries)
	if conf < minConfidence {
		return minConfidence
	}
	return conf
}

// Process sets DocumentType, ClassificationConfidence and Modality.
func (c *Classifier) Process(ctx context.Context, doc *document.Context) (*document.Context, error) {
	log := c.logger.With("document_id", doc.DocumentID)
	text := doc.NormalizedText
	if text == "" {
		text = doc.PageText()
	}
	doc.Modality = SelectModality(text, len(doc.PageImages), c.cfg)

	if doc.PredefinedType != "" {
		doc.DocumentType = doc.PredefinedType
		doc.ClassificationConfidence = 1.0
		doc.ClassificationState = document.StatePreclassified
		doc.Log("INFO", c.Name(), "predefined document type accepted", map[string]interface{}{
			"document_type": doc.DocumentType,
		})
		log.Info("classify.preclassified", "document_type", doc.DocumentType)
		return doc, nil
	}
	doc.ClassificationState = document.StateInferred

	types, err := c.catalog.DocumentTypes(ctx)
	if err != nil {
		return nil, errors.NewStageFailedError(doc.DocumentID, c.Name(), fmt.Errorf("load document catalog: %w", err))
	}
	if len(types) == 0 {
		return nil, errors.NewStageFailedError(doc.DocumentID, c.Name(), stderrors.New("document catalog is empty"))
	}

	var images [][]byte
	if doc.Modality == document.ModalityVision {
		images = doc.PageImages
		if n := c.cfg.VisionPages; n > 0 && len(images) > n {
			images = images[:n]
		}
	}

	var key string
	if c.cache != nil {
		key = CacheKey(string(doc.Modality), text, images, catalog.Names(types))
		if entry, err := c.cache.Get(ctx, key); err != nil {
			log.Warn("classify.cache.get_failed", "error", err)
		} else if entry != nil {
			if name, ok := catalog.Match(types, entry.DocumentType); ok {
				doc.DocumentType = name
				doc.ClassificationConfidence = entry.Confidence
				doc.ProviderUsed = entry.Provider
				doc.SetMeta("classification_cache_hit", true)
				log.Info("classify.cache.hit", "document_type", name)
				return doc, nil
			}
		}
	}

	req := llm.Request{
		System:    systemPrompt,
		Prompt:    BuildPrompt(types, doc.Filename, text, doc.Modality),
		Images:    toImages(images),
		MaxTokens: c.cfg.MaxTokens,
	}

	start := time.Now()
	res, err := c.invoker.Invoke(ctx, req, func(answer string) (interface{}, error) {
		name, ok := catalog.Match(types, answer)
		if !ok {
			return nil, fmt.Errorf("unrecognized document type %q", preview(answer))
		}
		return name, nil
	})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		var exhausted *llm.ExhaustedError
		if stderrors.As(err, &exhausted) {
			doc.RetryCount += exhausted.RetryCount()
			log.Error("classify.exhausted",
				"attempts", exhausted.Attempts,
				"provider", exhausted.LastProvider,
				"error", err)
			return nil, errors.NewClassificationExhaustedError(doc.DocumentID, exhausted.RetryCount(), exhausted.LastProvider, err)
		}
		return nil, err
	}

	doc.DocumentType = res.Value.(string)
	doc.ClassificationConfidence = Confidence(res.RetryCount)
	doc.RetryCount += res.RetryCount
	doc.ProviderUsed = res.Provider
	doc.SetMeta("classification_retries", res.RetryCount)
	doc.Log("INFO", c.Name(), "document classified", map[string]interface{}{
		"document_type": doc.DocumentType,
		"modality":      string(doc.Modality),
		"provider":      res.Provider,
		"retry_count":   res.RetryCount,
	})
	log.Info("classify.completed",
		"document_type", doc.DocumentType,
		"confidence", doc.ClassificationConfidence,
		"modality", doc.Modality,
		"provider", res.Provider,
		"elapsed_ms", time.Since(start).Milliseconds())

	if c.cache != nil {
		entry := Entry{DocumentType: doc.DocumentType, Confidence: doc.ClassificationConfidence, Provider: res.Provider}
		if err := c.cache.Set(ctx, key, entry); err != nil {
			log.Warn("classify.cache.set_failed", "error", err)
		}
	}
	return doc, nil
}

const systemPrompt = "You are an expert document classifier for financial documents. " +
	"Answer with exactly one document type name from the list you are given and nothing else."

// BuildPrompt embeds the catalog and the content. Long text keeps its first
// 2000 and last 1000 characters.
func BuildPrompt(types []catalog.DocumentType, filename, text string, modality document.Modality) string {
	var sb strings.Builder
	sb.WriteString("Classify the document into exactly one of these types:\n\n")
	for _, t := range types {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
	}
	sb.WriteString("\nGuidelines:\n")
	sb.WriteString("- Look at the terminology, structure and purpose of the document.\n")
	sb.WriteString("- If no type fits, answer with the closest catalog type; never invent a name.\n\n")
	if filename != "" {
		fmt.Fprintf(&sb, "Document filename: %s\n", filename)
	}
	if modality == document.ModalityVision {
		sb.WriteString("The document is attached as page images.\n")
		if t := strings.TrimSpace(text); t != "" {
			fmt.Fprintf(&sb, "Partial OCR text:\n---\n%s\n---\n", truncateMiddle(t))
		}
	} else {
		fmt.Fprintf(&sb, "Document content:\n---\n%s\n---\n", truncateMiddle(text))
	}
	fmt.Fprintf(&sb, "\nRespond with ONLY the document type name (one of: %s).", strings.Join(catalog.Names(types), ", "))
	return sb.String()
}

func truncateMiddle(text string) string {
	r := []rune(text)
	if len(r) <= headChars+tailChars {
		return text
	}
	return string(r[:headChars]) + "\n...\n" + string(r[len(r)-tailChars:])
}

func toImages(images [][]byte) []llm.Image {
	out := make([]llm.Image, 0, len(images))
	for _, img := range images {
		out = append(out, llm.Image{MimeType: http.DetectContentType(img), Data: img})
	}
	return out
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > answerPreviewLen {
		return s[:answerPreviewLen] + "..."
	}
	return s
}
