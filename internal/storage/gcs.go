package storage

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

// parseGCSPath splits gs://bucket/object.
func parseGCSPath(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// path: %q", uri)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// path needs a bucket and an object: %q", uri)
	}
	return bucket, object, nil
}

// GCSSource reads gs://bucket/object paths.
type GCSSource struct {
	client   *storage.Client
	maxBytes int64
}

// NewGCSSource wraps a storage client. maxBytes <= 0 means unlimited.
func NewGCSSource(client *storage.Client, maxBytes int64) *GCSSource {
	return &GCSSource{client: client, maxBytes: maxBytes}
}

// Fetch implements pipeline.Source.
func (s *GCSSource) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := parseGCSPath(uri)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if stderrors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s does not exist: %w", uri, err)
		}
		return nil, fmt.Errorf("failed to open %s: %w", uri, err)
	}
	defer r.Close()

	if s.maxBytes > 0 && r.Attrs.Size > s.maxBytes {
		return nil, fmt.Errorf("file size exceeds maximum: %d > %d bytes", r.Attrs.Size, s.maxBytes)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}

// GCSArchive stores one JSON object per document. Objects are write-once:
// a redelivered document keeps its first archive.
type GCSArchive struct {
	bucket *storage.BucketHandle
	prefix string
	logger *logging.Logger
}

// NewGCSArchive archives into bucket under prefix.
func NewGCSArchive(client *storage.Client, bucket, prefix string, logger *logging.Logger) (*GCSArchive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("results bucket is required")
	}
	return &GCSArchive{
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
		logger: logging.OrNop(logger),
	}, nil
}

// ArchivedOutput is the archived object body.
type ArchivedOutput struct {
	ResultRecord
	Output *pipeline.Output `json:"output"`
}

func (a *GCSArchive) objectName(out *pipeline.Output) string {
	return path.Join(a.prefix, out.Status, out.DocumentID+".json")
}

// Deliver implements pipeline.Sink.
func (a *GCSArchive) Deliver(ctx context.Context, out *pipeline.Output) error {
	body, err := json.Marshal(ArchivedOutput{ResultRecord: NewResultRecord(out), Output: out})
	if err != nil {
		return fmt.Errorf("failed to marshal archive: %w", err)
	}
	name := a.objectName(out)

	writer := a.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(body)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			a.logger.Info("archive.exists", "object", name)
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			a.logger.Info("archive.exists", "object", name)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return stderrors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
