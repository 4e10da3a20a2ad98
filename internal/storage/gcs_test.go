package storage

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

func TestParseGCSPath(t *testing.T) {
	bucket, object, err := parseGCSPath("gs://raw-docs/2025/05/call.pdf")
	require.NoError(t, err)
	assert.Equal(t, "raw-docs", bucket)
	assert.Equal(t, "2025/05/call.pdf", object)

	for _, bad := range []string{"s3://a/b", "gs://bucket", "gs:///object", "gs://bucket/"} {
		_, _, err := parseGCSPath(bad)
		assert.Error(t, err, bad)
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	assert.True(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusPreconditionFailed}))
	assert.True(t, isPreconditionFailed(fmt.Errorf("write: %w", &googleapi.Error{Code: 412})))
	assert.False(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, isPreconditionFailed(fmt.Errorf("boom")))
}

func TestArchiveObjectName(t *testing.T) {
	a := &GCSArchive{prefix: "results"}
	out := &pipeline.Output{DocumentID: "doc-1", Status: pipeline.StatusFailed}
	assert.Equal(t, "results/failed/doc-1.json", a.objectName(out))

	a.prefix = ""
	out.Status = pipeline.StatusCompleted
	assert.Equal(t, "completed/doc-1.json", a.objectName(out))
}
