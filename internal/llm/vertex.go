package llm

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// VertexProvider talks to Gemini models on Vertex AI.
type VertexProvider struct {
	client    *genai.Client
	modelName string
}

// NewVertexProvider creates the Vertex AI client.
func NewVertexProvider(ctx context.Context, projectID, region, model string) (*VertexProvider, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexProvider: projectID and region cannot be empty")
	}
	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexProvider{client: client, modelName: model}, nil
}

func (p *VertexProvider) Name() string { return "vertex" }

// Complete configures a model for the request and generates one candidate.
func (p *VertexProvider) Complete(ctx context.Context, req Request) (string, error) {
	model := p.client.GenerativeModel(p.modelName)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}
	if req.MaxTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr[int32](int32(req.MaxTokens))
	}
	if req.JSON {
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}

	parts := make([]genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, genai.ImageData(strings.TrimPrefix(img.MimeType, "image/"), img.Data))
	}
	parts = append(parts, genai.Text(req.Prompt))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("vertex: generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("vertex: no candidates in response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

// Close releases the underlying client.
func (p *VertexProvider) Close() error {
	return p.client.Close()
}
