package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainProvider adapts any langchaingo model.
type LangChainProvider struct {
	name     string
	model    llms.Model
	jsonMode bool
}

// NewLangChainProvider wraps an already constructed model.
func NewLangChainProvider(name string, model llms.Model) *LangChainProvider {
	return &LangChainProvider{name: name, model: model}
}

// NewOpenAIProvider builds an OpenAI-compatible provider. baseURL may point at
// any compatible gateway.
func NewOpenAIProvider(apiKey, model, baseURL string, httpClient *http.Client) (*LangChainProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, openai.WithHTTPClient(httpClient))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai.New: %w", err)
	}
	return &LangChainProvider{name: "openai", model: m, jsonMode: true}, nil
}

// NewAnthropicProvider builds an Anthropic provider.
func NewAnthropicProvider(apiKey, model string) (*LangChainProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	m, err := anthropic.New(
		anthropic.WithModel(model),
		anthropic.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("anthropic.New: %w", err)
	}
	return &LangChainProvider{name: "anthropic", model: m}, nil
}

func (p *LangChainProvider) Name() string { return p.name }

// Complete sends one system + human message exchange.
func (p *LangChainProvider) Complete(ctx context.Context, req Request) (string, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.System)},
		})
	}

	parts := make([]llms.ContentPart, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, llms.BinaryPart(img.MimeType, img.Data))
	}
	parts = append(parts, llms.TextPart(req.Prompt))
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: parts,
	})

	callOpts := []llms.CallOption{llms.WithTemperature(0)}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON && p.jsonMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := p.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("%s: generate content: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices in response", p.name)
	}
	return resp.Choices[0].Content, nil
}
