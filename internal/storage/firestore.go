package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

// FirestoreMirror keeps one status document per processed document so
// dashboards can follow progress without querying PostgreSQL.
type FirestoreMirror struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreMirror creates the client for projectID.
func NewFirestoreMirror(ctx context.Context, projectID, collection string) (*FirestoreMirror, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	if collection == "" {
		collection = "documents"
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &FirestoreMirror{client: client, collection: collection}, nil
}

// statusFields are the mirrored fields. Fields from earlier runs that are
// not listed here survive the merge.
func statusFields(rec ResultRecord) map[string]interface{} {
	fields := map[string]interface{}{
		"taskId":           rec.TaskID,
		"status":           rec.Status,
		"documentType":     rec.DocumentType,
		"qualityBand":      rec.QualityBand,
		"qualityScore":     rec.QualityScore,
		"enrichmentRate":   rec.EnrichmentRate,
		"retryCount":       rec.RetryCount,
		"providerUsed":     rec.ProviderUsed,
		"lastStage":        rec.LastStage,
		"processingTimeMs": rec.ProcessingTimeMs,
		"completedAt":      rec.CompletedAt,
		"updatedAt":        firestore.ServerTimestamp,
	}
	if rec.Filename != "" {
		fields["filename"] = rec.Filename
	}
	if rec.ErrorCode != "" {
		fields["errorCode"] = rec.ErrorCode
		fields["errorDetails"] = rec.ErrorMessage
	} else {
		fields["errorCode"] = firestore.Delete
		fields["errorDetails"] = firestore.Delete
	}
	return fields
}

// Deliver implements pipeline.Sink.
func (f *FirestoreMirror) Deliver(ctx context.Context, out *pipeline.Output) error {
	rec := NewResultRecord(out)
	docRef := f.client.Collection(f.collection).Doc(rec.DocumentID)
	if _, err := docRef.Set(ctx, statusFields(rec), firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to update status document %s: %w", rec.DocumentID, err)
	}
	return nil
}

// Close closes the Firestore client.
func (f *FirestoreMirror) Close() error {
	return f.client.Close()
}
