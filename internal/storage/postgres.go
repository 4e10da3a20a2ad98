/**
 * PostgreSQL result store for the document understanding worker
 *
 * Persists one row per document in docintel.document_results. Delivery is
 * an UPSERT so a redelivered document replaces its previous row.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

// PostgresSink writes pipeline outputs to PostgreSQL.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens and pings the database.
func NewPostgresSink(databaseURL string) (*PostgresSink, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresSink{db: db}, nil
}

// NewPostgresSinkFromDB wraps an existing handle.
func NewPostgresSinkFromDB(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// resultRow holds the encoded column values for one output.
type resultRow struct {
	record           ResultRecord
	valueTree        []byte
	validationErrors []byte
	metadata         []byte
	errorJSON        []byte
}

func newResultRow(out *pipeline.Output) (*resultRow, error) {
	row := &resultRow{record: NewResultRecord(out)}
	var err error
	if doc := out.Document; doc != nil {
		if row.valueTree, err = marshalJSONB(doc.ValueTree); err != nil {
			return nil, fmt.Errorf("failed to marshal value tree: %w", err)
		}
		if row.validationErrors, err = marshalJSONB(doc.ValidationErrors); err != nil {
			return nil, fmt.Errorf("failed to marshal validation errors: %w", err)
		}
		if row.metadata, err = marshalJSONB(doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	if out.Error != nil {
		if row.errorJSON, err = marshalJSONB(out.Error); err != nil {
			return nil, fmt.Errorf("failed to marshal error: %w", err)
		}
	}
	return row, nil
}

func marshalJSONB(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return sanitizeJSONForPostgres(b), nil
}

const upsertResultQuery = `
	INSERT INTO docintel.document_results (
		document_id, task_id, status, filename, storage_path,
		document_type, classification_confidence, modality,
		quality_score, quality_band, enrichment_rate,
		retry_count, provider_used, last_stage, stages,
		value_tree, validation_errors, metadata, error,
		error_code, processing_time_ms, completed_at,
		created_at, updated_at
	) VALUES (
		$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''),
		NULLIF($6, ''), $7::NUMERIC(5,4), NULLIF($8, ''),
		$9::NUMERIC(5,4), NULLIF($10, ''), $11::NUMERIC(5,4),
		$12, NULLIF($13, ''), NULLIF($14, ''), $15,
		$16::jsonb, COALESCE($17::jsonb, '[]'::jsonb), COALESCE($18::jsonb, '{}'::jsonb), $19::jsonb,
		NULLIF($20, ''), $21, $22,
		NOW(), NOW()
	)
	ON CONFLICT (document_id) DO UPDATE SET
		task_id = EXCLUDED.task_id,
		status = EXCLUDED.status,
		filename = COALESCE(EXCLUDED.filename, docintel.document_results.filename),
		storage_path = COALESCE(EXCLUDED.storage_path, docintel.document_results.storage_path),
		document_type = EXCLUDED.document_type,
		classification_confidence = EXCLUDED.classification_confidence,
		modality = EXCLUDED.modality,
		quality_score = EXCLUDED.quality_score,
		quality_band = EXCLUDED.quality_band,
		enrichment_rate = EXCLUDED.enrichment_rate,
		retry_count = EXCLUDED.retry_count,
		provider_used = EXCLUDED.provider_used,
		last_stage = EXCLUDED.last_stage,
		stages = EXCLUDED.stages,
		value_tree = EXCLUDED.value_tree,
		validation_errors = EXCLUDED.validation_errors,
		metadata = EXCLUDED.metadata,
		error = EXCLUDED.error,
		error_code = EXCLUDED.error_code,
		processing_time_ms = EXCLUDED.processing_time_ms,
		completed_at = EXCLUDED.completed_at,
		updated_at = NOW()
	RETURNING document_id
`

// Deliver implements pipeline.Sink.
func (p *PostgresSink) Deliver(ctx context.Context, out *pipeline.Output) error {
	row, err := newResultRow(out)
	if err != nil {
		return err
	}
	rec := row.record

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		upsertResultQuery,
		rec.DocumentID,                     // $1
		rec.TaskID,                         // $2
		rec.Status,                         // $3
		rec.Filename,                       // $4
		rec.StoragePath,                    // $5
		rec.DocumentType,                   // $6
		rec.ClassificationConfidence,       // $7
		rec.Modality,                       // $8
		rec.QualityScore,                   // $9
		rec.QualityBand,                    // $10
		rec.EnrichmentRate,                 // $11
		rec.RetryCount,                     // $12
		rec.ProviderUsed,                   // $13
		rec.LastStage,                      // $14
		pq.Array(rec.Stages),               // $15
		nullableJSON(row.valueTree),        // $16
		nullableJSON(row.validationErrors), // $17
		nullableJSON(row.metadata),         // $18
		nullableJSON(row.errorJSON),        // $19
		rec.ErrorCode,                      // $20
		rec.ProcessingTimeMs,               // $21
		rec.CompletedAt,                    // $22
	).Scan(&returnedID)
	if err != nil {
		return fmt.Errorf("failed to store result (document=%s, status=%s, quality=%.4f): %w",
			rec.DocumentID, rec.Status, rec.QualityScore, err)
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}

// StoredResult is a row read back from the result table.
type StoredResult struct {
	ResultRecord
	ValueTree        json.RawMessage `json:"valueTree,omitempty"`
	ValidationErrors json.RawMessage `json:"validationErrors,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// GetResult reads one document's stored result.
func (p *PostgresSink) GetResult(ctx context.Context, documentID string) (*StoredResult, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document ID is required")
	}

	query := `
		SELECT
			document_id, task_id, status,
			COALESCE(filename, ''), COALESCE(document_type, ''),
			COALESCE(classification_confidence, 0), COALESCE(modality, ''),
			COALESCE(quality_score, 0), COALESCE(quality_band, ''),
			COALESCE(enrichment_rate, 0), retry_count,
			COALESCE(provider_used, ''), COALESCE(last_stage, ''),
			stages, value_tree, validation_errors,
			COALESCE(error_code, ''), processing_time_ms,
			completed_at, updated_at
		FROM docintel.document_results
		WHERE document_id = $1
	`

	var (
		r                 StoredResult
		stages            pq.StringArray
		valueTree, issues []byte
		completedAt       sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, query, documentID).Scan(
		&r.DocumentID, &r.TaskID, &r.Status,
		&r.Filename, &r.DocumentType,
		&r.ClassificationConfidence, &r.Modality,
		&r.QualityScore, &r.QualityBand,
		&r.EnrichmentRate, &r.RetryCount,
		&r.ProviderUsed, &r.LastStage,
		&stages, &valueTree, &issues,
		&r.ErrorCode, &r.ProcessingTimeMs,
		&completedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("result not found: %s", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	r.Stages = []string(stages)
	r.ValueTree = valueTree
	r.ValidationErrors = issues
	if completedAt.Valid {
		r.CompletedAt = completedAt.Time
	}
	return &r, nil
}

// Ping checks database connectivity
func (p *PostgresSink) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresSink) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Stats returns connection pool statistics
func (p *PostgresSink) Stats() sql.DBStats {
	return p.db.Stats()
}
