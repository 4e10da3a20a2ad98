/**
 * Storage Manager for the document understanding worker
 *
 * Fans every finished document out to the configured sinks. PostgreSQL is
 * the system of record. Auxiliary sinks never fail a document on their own.
 */

package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"time"

	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

// ResultRecord is the flat summary of one pipeline output shared by all sinks.
type ResultRecord struct {
	DocumentID               string    `json:"documentId"`
	TaskID                   string    `json:"taskId"`
	Status                   string    `json:"status"`
	Filename                 string    `json:"filename,omitempty"`
	StoragePath              string    `json:"storagePath,omitempty"`
	DocumentType             string    `json:"documentType,omitempty"`
	ClassificationConfidence float64   `json:"classificationConfidence"`
	Modality                 string    `json:"modality,omitempty"`
	QualityScore             float64   `json:"qualityScore"`
	QualityBand              string    `json:"qualityBand,omitempty"`
	EnrichmentRate           float64   `json:"enrichmentRate"`
	RetryCount               int       `json:"retryCount"`
	ProviderUsed             string    `json:"providerUsed,omitempty"`
	LastStage                string    `json:"lastStage,omitempty"`
	ErrorCode                string    `json:"errorCode,omitempty"`
	ErrorMessage             string    `json:"errorMessage,omitempty"`
	ProcessingTimeMs         int64     `json:"processingTimeMs"`
	Stages                   []string  `json:"stages"`
	CompletedAt              time.Time `json:"completedAt"`
}

// NewResultRecord summarizes out.
func NewResultRecord(out *pipeline.Output) ResultRecord {
	rec := ResultRecord{
		DocumentID:       out.DocumentID,
		TaskID:           out.TaskID,
		Status:           out.Status,
		ProcessingTimeMs: out.CompletedAt.Sub(out.StartedAt).Milliseconds(),
		CompletedAt:      out.CompletedAt,
	}
	for stage := range out.StageMillis {
		rec.Stages = append(rec.Stages, stage)
	}
	sortStages(rec.Stages)

	if doc := out.Document; doc != nil {
		rec.Filename = doc.Filename
		rec.StoragePath = doc.RawStoragePath
		rec.DocumentType = doc.DocumentType
		rec.ClassificationConfidence = sanitizeScore(doc.ClassificationConfidence)
		rec.Modality = string(doc.Modality)
		rec.QualityScore = sanitizeScore(doc.QualityScore)
		rec.QualityBand = string(doc.QualityBand)
		rec.EnrichmentRate = sanitizeScore(doc.EnrichmentRate)
		rec.RetryCount = doc.RetryCount
		rec.ProviderUsed = doc.ProviderUsed
		rec.LastStage = doc.LastStage
	}
	if out.Error != nil {
		rec.ErrorCode, _ = out.Error["error_code"].(string)
		rec.ErrorMessage, _ = out.Error["message"].(string)
		if stage, ok := out.Error["stage"].(string); ok {
			rec.LastStage = stage
		}
	}
	return rec
}

var stageOrder = map[string]int{"fetch": 0, "ocr": 1, "normalize": 2, "classify": 3, "extract": 4, "enrich": 5}

func sortStages(stages []string) {
	rank := func(s string) int {
		if r, ok := stageOrder[s]; ok {
			return r
		}
		return len(stageOrder)
	}
	sort.SliceStable(stages, func(i, j int) bool {
		if rank(stages[i]) != rank(stages[j]) {
			return rank(stages[i]) < rank(stages[j])
		}
		return stages[i] < stages[j]
	})
}

// sanitizeScore clamps to [0,1] and rounds to 4 decimals so NUMERIC(5,4)
// columns accept the value.
func sanitizeScore(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return float64(int(v*10000+0.5)) / 10000
}

type managedSink struct {
	name     string
	sink     pipeline.Sink
	required bool
}

// Manager delivers outputs to every registered sink.
type Manager struct {
	sinks  []managedSink
	logger *logging.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *logging.Logger) *Manager {
	return &Manager{logger: logging.OrNop(logger)}
}

// Add registers a sink. Errors from required sinks fail the delivery;
// errors from the others are only logged.
func (m *Manager) Add(name string, sink pipeline.Sink, required bool) {
	m.sinks = append(m.sinks, managedSink{name: name, sink: sink, required: required})
}

// Sinks lists the registered sink names.
func (m *Manager) Sinks() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.name
	}
	return names
}

// Deliver implements pipeline.Sink.
func (m *Manager) Deliver(ctx context.Context, out *pipeline.Output) error {
	var errs []error
	for _, s := range m.sinks {
		start := time.Now()
		err := s.sink.Deliver(ctx, out)
		if err == nil {
			m.logger.Debug("storage.delivered", "sink", s.name, "document_id", out.DocumentID, "elapsed_ms", time.Since(start).Milliseconds())
			continue
		}
		m.logger.Error("storage.deliver_failed", "sink", s.name, "document_id", out.DocumentID, "required", s.required, "error", err)
		if s.required {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return stderrors.Join(errs...)
}

// Close closes every sink that holds a connection.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close %s: %w", s.name, err))
			}
		}
	}
	return stderrors.Join(errs...)
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres drops \u0000 escapes, which JSONB rejects, and
// replaces other control character escapes with a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
