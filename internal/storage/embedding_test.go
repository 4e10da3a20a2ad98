package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func voyageServer(t *testing.T, dims int, seen *voyageEmbeddingRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		resp := map[string]interface{}{
			"data":  []map[string]interface{}{{"embedding": make([]float32, dims), "index": 0}},
			"model": voyageModel,
			"usage": map[string]int{"total_tokens": 7},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestVoyageEmbedder(t *testing.T) {
	var seen voyageEmbeddingRequest
	srv := voyageServer(t, voyageDimensions, &seen)
	defer srv.Close()

	e, err := NewVoyageEmbedderAt(srv.URL, "test-key", nil)
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "Capital Call Notice")
	require.NoError(t, err)
	assert.Len(t, vec, voyageDimensions)
	assert.Equal(t, voyageModel, seen.Model)
	assert.Equal(t, []string{"Capital Call Notice"}, seen.Input)
}

func TestVoyageEmbedderTruncatesOnRuneBoundary(t *testing.T) {
	var seen voyageEmbeddingRequest
	srv := voyageServer(t, voyageDimensions, &seen)
	defer srv.Close()

	e, err := NewVoyageEmbedderAt(srv.URL, "test-key", nil)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), strings.Repeat("é", maxEmbedChars))
	require.NoError(t, err)
	require.Len(t, seen.Input, 1)
	assert.LessOrEqual(t, len(seen.Input[0]), maxEmbedChars)
	assert.True(t, utf8.ValidString(seen.Input[0]))
}

func TestVoyageEmbedderRejectsWrongDimensions(t *testing.T) {
	var seen voyageEmbeddingRequest
	srv := voyageServer(t, 3, &seen)
	defer srv.Close()

	e, err := NewVoyageEmbedderAt(srv.URL, "test-key", nil)
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "unexpected embedding dimensions")
}

func TestVoyageEmbedderRequiresKey(t *testing.T) {
	_, err := NewVoyageEmbedder("", nil)
	assert.Error(t, err)
}
