/**
 * Qdrant vector index for processed documents
 *
 * Stores one point per successfully processed document so similar
 * documents can be found by their normalized text. Uses Qdrant's native
 * gRPC API.
 */

package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

// pointNamespace derives stable point ids from document ids.
var pointNamespace = uuid.MustParse("6f1c7c1e-4d8a-4b7e-9a53-2f0f5e4c8b11")

// QdrantIndex indexes documents by embedding.
type QdrantIndex struct {
	points         qdrant.PointsClient
	collections    qdrant.CollectionsClient
	conn           *grpc.ClientConn
	collectionName string
	embedder       Embedder
}

// SimilarDocument is one search hit.
type SimilarDocument struct {
	DocumentID   string                 `json:"documentId"`
	DocumentType string                 `json:"documentType"`
	Score        float32                `json:"score"`
	Payload      map[string]interface{} `json:"payload"`
}

// NewQdrantIndex connects and ensures the collection exists.
func NewQdrantIndex(address, collectionName string, embedder Embedder) (*QdrantIndex, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	address = strings.TrimPrefix(strings.TrimPrefix(address, "http://"), "grpc://")
	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	idx := &QdrantIndex{
		points:         qdrant.NewPointsClient(conn),
		collections:    qdrant.NewCollectionsClient(conn),
		conn:           conn,
		collectionName: collectionName,
		embedder:       embedder,
	}
	if err := idx.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	listResp, err := q.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(q.embedder.Dimensions()),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// PointID is the point id used for a document.
func PointID(documentID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(documentID)).String()
}

// Deliver implements pipeline.Sink. Only completed documents with text are indexed.
func (q *QdrantIndex) Deliver(ctx context.Context, out *pipeline.Output) error {
	if !out.Succeeded() || out.Document == nil {
		return nil
	}
	text := out.Document.NormalizedText
	if strings.TrimSpace(text) == "" {
		return nil
	}

	vector, err := q.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}

	point := &qdrant.PointStruct{
		Id: &qdrant.PointId{
			PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(out.DocumentID)},
		},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{
				Vector: &qdrant.Vector{Data: vector},
			},
		},
		Payload: toPayload(indexPayload(NewResultRecord(out))),
	}
	_, err = q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

func indexPayload(rec ResultRecord) map[string]interface{} {
	return map[string]interface{}{
		"document_id":     rec.DocumentID,
		"document_type":   rec.DocumentType,
		"filename":        rec.Filename,
		"quality_band":    rec.QualityBand,
		"quality_score":   rec.QualityScore,
		"enrichment_rate": rec.EnrichmentRate,
		"completed_at":    rec.CompletedAt.Unix(),
	}
}

// Search finds documents similar to text.
func (q *QdrantIndex) Search(ctx context.Context, text string, limit int) ([]SimilarDocument, error) {
	if limit <= 0 {
		limit = 10
	}
	vector, err := q.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := q.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	hits := make([]SimilarDocument, 0, len(results.Result))
	for _, r := range results.Result {
		payload := fromPayload(r.Payload)
		id, _ := payload["document_id"].(string)
		docType, _ := payload["document_type"].(string)
		hits = append(hits, SimilarDocument{DocumentID: id, DocumentType: docType, Score: r.Score, Payload: payload})
	}
	return hits, nil
}

// Delete removes a document's point.
func (q *QdrantIndex) Delete(ctx context.Context, documentID string) error {
	_, err := q.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{
						{PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(documentID)}},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

// Close closes the Qdrant client connection
func (q *QdrantIndex) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func toPayload(values map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		}
	}
	return out
}
