/**
 * Document Pipeline
 *
 * Runs one document through OCR, normalization, classification, extraction
 * and enrichment. Each stage owns the context while it runs and hands it to
 * the next. Cancellation is checked between stages only; a stage that is
 * already running is allowed to finish and its result is discarded.
 */

package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/docintel-worker/internal/document"
	"github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Box is one pipeline stage. Process receives the context and returns it,
// usually the same pointer, for the next stage. A non-nil error ends the run.
type Box interface {
	Name() string
	Process(ctx context.Context, doc *document.Context) (*document.Context, error)
}

// Source resolves the raw bytes behind a storage path.
type Source interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// Sink receives finished documents, failed ones included.
type Sink interface {
	Deliver(ctx context.Context, out *Output) error
}

// Request describes one document to process.
type Request struct {
	DocumentID   string                 `json:"documentId"`
	TaskID       string                 `json:"taskId"`
	Filename     string                 `json:"filename,omitempty"`
	MimeType     string                 `json:"mimeType,omitempty"`
	StoragePath  string                 `json:"storagePath,omitempty"`
	Content      []byte                 `json:"content,omitempty"`
	DocumentType string                 `json:"documentType,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Output is what the pipeline hands to its sink.
type Output struct {
	DocumentID  string                 `json:"documentId"`
	TaskID      string                 `json:"taskId"`
	Status      string                 `json:"status"`
	Document    *document.Context      `json:"document,omitempty"`
	Error       map[string]interface{} `json:"error,omitempty"`
	StageMillis map[string]int64       `json:"stageMillis"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
}

// Succeeded reports whether every stage completed.
func (o *Output) Succeeded() bool {
	return o != nil && o.Status == StatusCompleted
}

// Counters are process-wide run totals.
type Counters struct {
	Started   atomic.Int64
	Succeeded atomic.Int64
	Failed    atomic.Int64
	Cancelled atomic.Int64
}

// CounterSnapshot is a point-in-time copy of Counters.
type CounterSnapshot struct {
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Snapshot reads all counters.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Started:   c.Started.Load(),
		Succeeded: c.Succeeded.Load(),
		Failed:    c.Failed.Load(),
		Cancelled: c.Cancelled.Load(),
	}
}

// Orchestrator runs the stages in order.
type Orchestrator struct {
	boxes    []Box
	source   Source
	sink     Sink
	counters *Counters
	logger   *logging.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSource sets the collaborator used when a request carries only a path.
func WithSource(s Source) Option {
	return func(o *Orchestrator) { o.source = s }
}

// WithSink sets the output collaborator.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithCounters shares counters between orchestrators.
func WithCounters(c *Counters) Option {
	return func(o *Orchestrator) { o.counters = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator over boxes, run in the given order.
func New(boxes []Box, opts ...Option) *Orchestrator {
	o := &Orchestrator{boxes: boxes}
	for _, opt := range opts {
		opt(o)
	}
	if o.counters == nil {
		o.counters = &Counters{}
	}
	o.logger = logging.OrNop(o.logger)
	return o
}

// Stages lists the stage names in run order.
func (o *Orchestrator) Stages() []string {
	names := make([]string, len(o.boxes))
	for i, b := range o.boxes {
		names[i] = b.Name()
	}
	return names
}

// Counters returns the run counters.
func (o *Orchestrator) Counters() *Counters {
	return o.counters
}

// Run processes one document. The returned Output is non-nil whenever the
// request was accepted; err is the fatal ProcessingError, if any.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Output, error) {
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}
	if req.TaskID == "" {
		req.TaskID = req.DocumentID
	}
	if len(req.Content) == 0 && req.StoragePath == "" {
		return nil, errors.NewInvalidRequestError(req.DocumentID, "request has neither content nor a storage path")
	}

	o.counters.Started.Add(1)
	log := o.logger.With("document_id", req.DocumentID, "task_id", req.TaskID)
	out := &Output{
		DocumentID:  req.DocumentID,
		TaskID:      req.TaskID,
		StageMillis: make(map[string]int64),
		StartedAt:   time.Now().UTC(),
	}

	doc := document.NewContext(req.DocumentID, req.TaskID)
	doc.Filename = req.Filename
	doc.MimeType = req.MimeType
	doc.RawStoragePath = req.StoragePath
	doc.Content = req.Content
	doc.PredefinedType = req.DocumentType
	for k, v := range req.Metadata {
		doc.SetMeta(k, v)
	}
	log.Info("pipeline.started", "filename", req.Filename, "storage_path", req.StoragePath, "stages", len(o.boxes))

	if len(doc.Content) == 0 {
		if err := ctx.Err(); err != nil {
			return o.cancel(ctx, out, log, "fetch", err)
		}
		start := time.Now()
		content, err := o.fetch(ctx, req)
		out.StageMillis["fetch"] = time.Since(start).Milliseconds()
		if err != nil {
			return o.fail(ctx, out, doc, log, "fetch", err)
		}
		doc.Content = content
	}

	for _, box := range o.boxes {
		stage := box.Name()
		if err := ctx.Err(); err != nil {
			return o.cancel(ctx, out, log, stage, err)
		}

		doc.LastStage = stage
		start := time.Now()
		next, err := box.Process(ctx, doc)
		elapsed := time.Since(start)
		out.StageMillis[stage] = elapsed.Milliseconds()

		if err != nil {
			if ctx.Err() != nil && !isProcessingError(err) {
				return o.cancel(ctx, out, log, stage, ctx.Err())
			}
			return o.fail(ctx, out, doc, log, stage, err)
		}
		if next != nil {
			doc = next
		}
		log.Debug("pipeline.stage_completed", "stage", stage, "elapsed_ms", elapsed.Milliseconds())
	}

	if err := ctx.Err(); err != nil {
		return o.cancel(ctx, out, log, "deliver", err)
	}

	out.Status = StatusCompleted
	out.Document = doc
	out.CompletedAt = time.Now().UTC()
	doc.Log("INFO", "pipeline", "document processed", map[string]interface{}{
		"document_type": doc.DocumentType,
		"quality_band":  doc.QualityBand,
	})
	o.counters.Succeeded.Add(1)
	log.Info("pipeline.completed",
		"document_type", doc.DocumentType,
		"quality_score", doc.QualityScore,
		"quality_band", doc.QualityBand,
		"enrichment_rate", doc.EnrichmentRate,
		"retry_count", doc.RetryCount,
		"provider", doc.ProviderUsed,
		"elapsed_ms", out.CompletedAt.Sub(out.StartedAt).Milliseconds())

	if err := o.deliver(ctx, out); err != nil {
		return out, err
	}
	return out, nil
}

func (o *Orchestrator) fetch(ctx context.Context, req Request) ([]byte, error) {
	if o.source == nil {
		return nil, errors.NewInvalidRequestError(req.DocumentID, fmt.Sprintf("no source configured for %s", req.StoragePath))
	}
	content, err := o.source.Fetch(ctx, req.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.StoragePath, err)
	}
	if len(content) == 0 {
		return nil, errors.NewInvalidRequestError(req.DocumentID, fmt.Sprintf("%s is empty", req.StoragePath))
	}
	return content, nil
}

// fail records a fatal error with the stage, retry count and provider that
// were active, then delivers the partial document.
func (o *Orchestrator) fail(ctx context.Context, out *Output, doc *document.Context, log *logging.Logger, stage string, err error) (*Output, error) {
	pe, ok := errors.AsProcessingError(err)
	if !ok {
		pe = errors.NewStageFailedError(doc.DocumentID, stage, err)
	}
	if pe.Stage == "" {
		pe.Stage = stage
	}
	if pe.RetryCount == 0 {
		pe.RetryCount = doc.RetryCount
	}
	if pe.Provider == "" {
		pe.Provider = doc.ProviderUsed
	}
	doc.Content = nil
	doc.Log("ERROR", stage, pe.Message, pe.ToMap())

	out.Status = StatusFailed
	out.Document = doc
	out.Error = pe.ToMap()
	out.CompletedAt = time.Now().UTC()
	o.counters.Failed.Add(1)
	log.Error("pipeline.failed",
		"stage", pe.Stage,
		"error_code", pe.Code,
		"retry_count", pe.RetryCount,
		"provider", pe.Provider,
		"error", err)

	if derr := o.deliver(ctx, out); derr != nil {
		return out, stderrors.Join(pe, derr)
	}
	return out, pe
}

// cancel discards the document. Nothing is delivered.
func (o *Orchestrator) cancel(ctx context.Context, out *Output, log *logging.Logger, stage string, cause error) (*Output, error) {
	pe := errors.NewCancelledError(out.DocumentID, stage, cause)
	out.Status = StatusCancelled
	out.Error = pe.ToMap()
	out.CompletedAt = time.Now().UTC()
	o.counters.Cancelled.Add(1)
	log.Warn("pipeline.cancelled", "stage", stage, "error", cause)
	return out, pe
}

func (o *Orchestrator) deliver(ctx context.Context, out *Output) error {
	if o.sink == nil {
		return nil
	}
	if err := o.sink.Deliver(context.WithoutCancel(ctx), out); err != nil {
		o.logger.Error("pipeline.deliver_failed", "document_id", out.DocumentID, "error", err)
		return errors.NewStorageFailedError(out.DocumentID, err)
	}
	return nil
}

func isProcessingError(err error) bool {
	_, ok := errors.AsProcessingError(err)
	return ok
}
