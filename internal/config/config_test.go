package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"openai", "anthropic"}, cfg.LLMProviders)
	assert.Equal(t, 100000, cfg.ExtractTokenBudget)
	assert.Equal(t, 2000, cfg.ExtractChunkOverlap)
	assert.Equal(t, 3, cfg.LLMMaxAttempts)
	assert.InDelta(t, 0.85, cfg.EnrichFuzzyThreshold, 1e-9)
	assert.True(t, cfg.ReflowColumns)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDERS", " Vertex , openai")
	t.Setenv("VERTEX_PROJECT", "proj")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ABORT_ON_CRITICAL", "true")
	t.Setenv("EXTRACT_CHUNK_CONCURRENCY", "4")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"vertex", "openai"}, cfg.LLMProviders)
	assert.True(t, cfg.AbortOnCritical)
	assert.Equal(t, 4, cfg.ExtractChunkConcurrency)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			RedisURL:              "redis://localhost:6379",
			WorkerConcurrency:     2,
			CatalogSource:         "file",
			CatalogPath:           "catalog.yaml",
			LLMProviders:          []string{"openai"},
			OpenAIAPIKey:          "sk",
			LLMMaxAttempts:        3,
			LLMCallTimeout:        1000,
			ExtractTokenBudget:    100000,
			ExtractPromptOverhead: 1000,
			ExtractChunkSize:      50000,
			ExtractChunkOverlap:   2000,
			EnrichFuzzyThreshold:  0.85,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing key", func(c *Config) { c.OpenAIAPIKey = "" }, "OPENAI_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLMProviders = []string{"mystery"} }, "unknown LLM provider"},
		{"postgres catalog without db", func(c *Config) { c.CatalogSource = "postgres" }, "DATABASE_URL"},
		{"overlap too large", func(c *Config) { c.ExtractChunkOverlap = 50000 }, "EXTRACT_CHUNK_OVERLAP"},
		{"qdrant without voyage", func(c *Config) { c.QdrantURL = "localhost:6334" }, "VOYAGE_API_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
