package app

import (
	"time"

	"github.com/adverant/nexus/docintel-worker/internal/classify"
	"github.com/adverant/nexus/docintel-worker/internal/config"
	"github.com/adverant/nexus/docintel-worker/internal/enrich"
	"github.com/adverant/nexus/docintel-worker/internal/extract"
	"github.com/adverant/nexus/docintel-worker/internal/llm"
	"github.com/adverant/nexus/docintel-worker/internal/normalize"
	"github.com/adverant/nexus/docintel-worker/internal/ocr"
)

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// OCRConfig projects the OCR settings.
func OCRConfig(cfg *config.Config) ocr.Config {
	c := ocr.DefaultConfig()
	c.DPI = cfg.OCRDPI
	c.MinTextLength = cfg.OCRMinTextLength
	c.MinTokenConfidence = cfg.OCRMinTokenConfidence
	c.MaxPages = cfg.OCRMaxPages
	c.PageTimeout = millis(cfg.OCRPageTimeout)
	c.TempDir = cfg.TempDir
	return c
}

// NormalizeConfig projects the normalizer settings.
func NormalizeConfig(cfg *config.Config) normalize.Config {
	c := normalize.DefaultConfig()
	c.ReflowColumns = cfg.ReflowColumns
	return c
}

// InvokerConfig projects the language model call policy.
func InvokerConfig(cfg *config.Config) llm.InvokerConfig {
	return llm.InvokerConfig{
		MaxAttempts: cfg.LLMMaxAttempts,
		BaseDelay:   millis(cfg.LLMBaseDelay),
		MaxDelay:    millis(cfg.LLMMaxDelay),
		CallTimeout: millis(cfg.LLMCallTimeout),
	}
}

// ClassifyConfig projects the classifier settings.
func ClassifyConfig(cfg *config.Config) classify.Config {
	c := classify.DefaultConfig()
	c.MinTextLength = cfg.ClassifyMinTextLength
	c.MinTextQuality = cfg.ClassifyMinTextQuality
	c.VisionPages = cfg.ClassifyVisionPages
	return c
}

// ExtractConfig projects the extractor settings.
func ExtractConfig(cfg *config.Config) extract.Config {
	c := extract.DefaultConfig()
	c.TokenBudget = cfg.ExtractTokenBudget
	c.PromptOverhead = cfg.ExtractPromptOverhead
	c.ChunkSize = cfg.ExtractChunkSize
	c.ChunkOverlap = cfg.ExtractChunkOverlap
	c.ChunkConcurrency = cfg.ExtractChunkConcurrency
	c.MaxTokens = cfg.LLMMaxTokens
	return c
}

// EnrichConfig projects the enricher settings.
func EnrichConfig(cfg *config.Config) enrich.Config {
	return enrich.Config{
		FuzzyThreshold:  cfg.EnrichFuzzyThreshold,
		MaxSequenceGap:  cfg.EnrichMaxSequenceGap,
		AbortOnCritical: cfg.AbortOnCritical,
	}
}
