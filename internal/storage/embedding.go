/**
 * Embedding client for the document vector index
 *
 * Generates VoyageAI voyage-3 embeddings (1024 dimensions) of normalized
 * document text.
 */

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

const (
	voyageEndpoint   = "https://api.voyageai.com/v1/embeddings"
	voyageModel      = "voyage-3"
	voyageDimensions = 1024
	maxEmbedChars    = 16000
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// VoyageEmbedder calls the VoyageAI embeddings API.
type VoyageEmbedder struct {
	apiKey     string
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
	logger     *logging.Logger
}

type voyageEmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type voyageEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewVoyageEmbedder creates an embedder for the public API.
func NewVoyageEmbedder(apiKey string, logger *logging.Logger) (*VoyageEmbedder, error) {
	return NewVoyageEmbedderAt(voyageEndpoint, apiKey, logger)
}

// NewVoyageEmbedderAt creates an embedder for a custom endpoint.
func NewVoyageEmbedderAt(baseURL, apiKey string, logger *logging.Logger) (*VoyageEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("VoyageAI API key is required")
	}
	return &VoyageEmbedder{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      voyageModel,
		dimensions: voyageDimensions,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.OrNop(logger),
	}, nil
}

// Dimensions is the vector size.
func (e *VoyageEmbedder) Dimensions() int { return e.dimensions }

// Embed generates one embedding, truncating long text on a rune boundary.
func (e *VoyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	if len(text) > maxEmbedChars {
		cut := maxEmbedChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		e.logger.Warn("embedding.truncated", "chars", len(text), "limit", maxEmbedChars)
		text = text[:cut]
	}

	jsonData, err := json.Marshal(voyageEmbeddingRequest{Input: []string{text}, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("VoyageAI API returned status %d: %s", resp.StatusCode, string(body))
	}

	var voyageResp voyageEmbeddingResponse
	if err := json.Unmarshal(body, &voyageResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(voyageResp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data in response")
	}

	embedding := voyageResp.Data[0].Embedding
	if len(embedding) != e.dimensions {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, expected %d", len(embedding), e.dimensions)
	}
	e.logger.Debug("embedding.generated",
		"dimensions", len(embedding),
		"tokens", voyageResp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds())
	return embedding, nil
}
