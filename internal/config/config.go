/**
 * Configuration for the document understanding worker
 *
 * Loads configuration from environment variables (optionally seeded from a
 * dotenv file by the entry points).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds worker configuration
type Config struct {
	// Runtime
	AppEnv   string
	LogLevel string

	// Redis configuration (queue broker and classification cache)
	RedisURL  string
	QueueName string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant vector database configuration
	QdrantURL        string
	QdrantCollection string
	VoyageAPIKey     string

	// Google Cloud outputs
	ResultsBucket       string
	FirestoreProject    string
	FirestoreCollection string

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds
	TempDir           string

	// OCR
	OCRLanguage           string
	OCRDPI                int
	OCRMinTextLength      int
	OCRMinTokenConfidence float64
	OCRMaxPages           int
	OCRPageTimeout        int // milliseconds

	// Normalizer
	ReflowColumns bool

	// Type catalog
	CatalogSource string
	CatalogPath   string

	// Language model providers, in fail-over order
	LLMProviders    []string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AnthropicModel  string
	VertexProject   string
	VertexRegion    string
	VertexModel     string

	LLMMaxAttempts int
	LLMBaseDelay   int // milliseconds
	LLMMaxDelay    int // milliseconds
	LLMCallTimeout int // milliseconds
	LLMMaxTokens   int

	// Classification
	ClassifyMinTextLength  int
	ClassifyMinTextQuality float64
	ClassifyVisionPages    int
	ClassifyCacheTTL       int // seconds

	// Extraction
	ExtractTokenBudget      int
	ExtractPromptOverhead   int
	ExtractChunkSize        int
	ExtractChunkOverlap     int
	ExtractChunkConcurrency int

	// Enrichment
	EnrichFuzzyThreshold float64
	EnrichMaxSequenceGap int
	AbortOnCritical      bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:   getEnvOrDefault("APP_ENV", "development"),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),

		RedisURL:  getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueName: getEnvOrDefault("QUEUE_NAME", "docintel"),

		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),

		QdrantURL:        getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection: getEnvOrDefault("QDRANT_COLLECTION", "docintel_documents"),
		VoyageAPIKey:     getEnvOrDefault("VOYAGE_API_KEY", ""),

		ResultsBucket:       getEnvOrDefault("RESULTS_BUCKET", ""),
		FirestoreProject:    getEnvOrDefault("FIRESTORE_PROJECT", ""),
		FirestoreCollection: getEnvOrDefault("FIRESTORE_COLLECTION", "documents"),

		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT_MS", 600000), // 10 minutes
		TempDir:           getEnvOrDefault("TEMP_DIR", os.TempDir()),

		OCRLanguage:           getEnvOrDefault("OCR_LANGUAGE", "eng"),
		OCRDPI:                getEnvAsIntOrDefault("OCR_DPI", 300),
		OCRMinTextLength:      getEnvAsIntOrDefault("OCR_MIN_TEXT_LENGTH", 100),
		OCRMinTokenConfidence: getEnvAsFloatOrDefault("OCR_MIN_TOKEN_CONFIDENCE", 0.30),
		OCRMaxPages:           getEnvAsIntOrDefault("OCR_MAX_PAGES", 50),
		OCRPageTimeout:        getEnvAsIntOrDefault("OCR_PAGE_TIMEOUT_MS", 30000),

		ReflowColumns: getEnvAsBoolOrDefault("NORMALIZE_REFLOW_COLUMNS", true),

		CatalogSource: getEnvOrDefault("CATALOG_SOURCE", "file"),
		CatalogPath:   getEnvOrDefault("CATALOG_PATH", "./catalog/catalog.yaml"),

		LLMProviders:    getEnvAsListOrDefault("LLM_PROVIDERS", []string{"openai", "anthropic"}),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnvOrDefault("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL:   getEnvOrDefault("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnvOrDefault("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		VertexProject:   getEnvOrDefault("VERTEX_PROJECT", ""),
		VertexRegion:    getEnvOrDefault("VERTEX_REGION", "us-central1"),
		VertexModel:     getEnvOrDefault("VERTEX_MODEL", "gemini-1.5-pro"),

		LLMMaxAttempts: getEnvAsIntOrDefault("LLM_MAX_ATTEMPTS", 3),
		LLMBaseDelay:   getEnvAsIntOrDefault("LLM_BASE_DELAY_MS", 1000),
		LLMMaxDelay:    getEnvAsIntOrDefault("LLM_MAX_DELAY_MS", 60000),
		LLMCallTimeout: getEnvAsIntOrDefault("LLM_CALL_TIMEOUT_MS", 120000),
		LLMMaxTokens:   getEnvAsIntOrDefault("LLM_MAX_TOKENS", 4000),

		ClassifyMinTextLength:  getEnvAsIntOrDefault("CLASSIFY_MIN_TEXT_LENGTH", 100),
		ClassifyMinTextQuality: getEnvAsFloatOrDefault("CLASSIFY_MIN_TEXT_QUALITY", 0.5),
		ClassifyVisionPages:    getEnvAsIntOrDefault("CLASSIFY_VISION_PAGES", 3),
		ClassifyCacheTTL:       getEnvAsIntOrDefault("CLASSIFY_CACHE_TTL_S", 3600),

		ExtractTokenBudget:      getEnvAsIntOrDefault("EXTRACT_TOKEN_BUDGET", 100000),
		ExtractPromptOverhead:   getEnvAsIntOrDefault("EXTRACT_PROMPT_OVERHEAD", 1000),
		ExtractChunkSize:        getEnvAsIntOrDefault("EXTRACT_CHUNK_SIZE", 50000),
		ExtractChunkOverlap:     getEnvAsIntOrDefault("EXTRACT_CHUNK_OVERLAP", 2000),
		ExtractChunkConcurrency: getEnvAsIntOrDefault("EXTRACT_CHUNK_CONCURRENCY", 1),

		EnrichFuzzyThreshold: getEnvAsFloatOrDefault("ENRICH_FUZZY_THRESHOLD", 0.85),
		EnrichMaxSequenceGap: getEnvAsIntOrDefault("ENRICH_MAX_SEQUENCE_GAP", 1),
		AbortOnCritical:      getEnvAsBoolOrDefault("ABORT_ON_CRITICAL", false),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	switch c.CatalogSource {
	case "file":
		if c.CatalogPath == "" {
			return fmt.Errorf("CATALOG_PATH is required when CATALOG_SOURCE=file")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CATALOG_SOURCE=postgres")
		}
	default:
		return fmt.Errorf("CATALOG_SOURCE must be file or postgres, got %q", c.CatalogSource)
	}

	if len(c.LLMProviders) == 0 {
		return fmt.Errorf("LLM_PROVIDERS must name at least one provider")
	}
	for _, p := range c.LLMProviders {
		switch p {
		case "openai":
			if c.OpenAIAPIKey == "" {
				return fmt.Errorf("OPENAI_API_KEY is required for provider openai")
			}
		case "anthropic":
			if c.AnthropicAPIKey == "" {
				return fmt.Errorf("ANTHROPIC_API_KEY is required for provider anthropic")
			}
		case "vertex":
			if c.VertexProject == "" {
				return fmt.Errorf("VERTEX_PROJECT is required for provider vertex")
			}
		default:
			return fmt.Errorf("unknown LLM provider %q", p)
		}
	}

	if c.LLMMaxAttempts < 1 {
		return fmt.Errorf("LLM_MAX_ATTEMPTS must be at least 1, got %d", c.LLMMaxAttempts)
	}

	if c.LLMCallTimeout <= 0 {
		return fmt.Errorf("LLM_CALL_TIMEOUT_MS must be positive")
	}

	if c.ExtractChunkOverlap < 0 || c.ExtractChunkOverlap >= c.ExtractChunkSize {
		return fmt.Errorf("EXTRACT_CHUNK_OVERLAP must be in [0, EXTRACT_CHUNK_SIZE), got %d", c.ExtractChunkOverlap)
	}

	if c.ExtractTokenBudget <= c.ExtractPromptOverhead {
		return fmt.Errorf("EXTRACT_TOKEN_BUDGET must exceed EXTRACT_PROMPT_OVERHEAD")
	}

	if c.EnrichFuzzyThreshold <= 0 || c.EnrichFuzzyThreshold > 1 {
		return fmt.Errorf("ENRICH_FUZZY_THRESHOLD must be in (0,1], got %v", c.EnrichFuzzyThreshold)
	}

	if c.QdrantURL != "" && c.VoyageAPIKey == "" {
		return fmt.Errorf("VOYAGE_API_KEY is required when QDRANT_URL is set")
	}

	return nil
}

// IsDevelopment reports whether development logging should be used.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// ProcessingTimeoutDuration returns the per-document deadline.
func (c *Config) ProcessingTimeoutDuration() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault splits a comma separated variable
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
