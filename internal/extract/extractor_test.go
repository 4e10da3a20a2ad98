package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adverant/nexus/docintel-worker/internal/catalog"
	"github.com/adverant/nexus/docintel-worker/internal/document"
	dierrors "github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/llm"
	"github.com/adverant/nexus/docintel-worker/internal/llm/llmtest"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

const simpleSchema = `{"type":"object","required":["investor"],"properties":{"investor":{"type":"string"},"amount":{"type":"number"}}}`

const simpleResponse = "```json\n" +
	`{"investor": {"value": "OM INVESTMENTS, L.P.", "confidence": "HIGH", "verbatimText": "OM INVESTMENTS, L.P."},` +
	` "amount": {"value": 2103.09, "confidence": "HIGH", "verbatimText": "$2103.09"}}` +
	"\n```"

func newTestExtractor(t *testing.T, cfg Config, provider llm.Provider) *Extractor {
	cat := &catalog.Static{Schemas: map[string]map[string]interface{}{
		"CapCall": mustSchema(t, simpleSchema),
	}}
	inv := llm.NewInvoker([]llm.Provider{provider}, llm.InvokerConfig{MaxAttempts: 1, CallTimeout: time.Second},
		llm.WithCounters(&llm.Counters{}))
	return NewExtractor(cfg, cat, inv, WithLogger(logging.New(zaptest.NewLogger(t), "extract")))
}

func classifiedDoc(text string) *document.Context {
	doc := document.NewContext("doc-1", "task-1")
	doc.DocumentType = "CapCall"
	doc.Modality = document.ModalityTextual
	doc.NormalizedText = text
	return doc
}

func TestExtractSinglePass(t *testing.T) {
	provider := llmtest.Always("primary", simpleResponse)
	e := newTestExtractor(t, DefaultConfig(), provider)

	out, err := e.Process(context.Background(), classifiedDoc("Capital call for OM INVESTMENTS, L.P. of $2103.09"))
	require.NoError(t, err)

	assert.Equal(t, 1, provider.Calls())
	assert.True(t, provider.Requests()[0].JSON)
	assert.Equal(t, ModeSinglePass, out.Metadata["extraction_mode"])
	assert.Equal(t, "OM INVESTMENTS, L.P.", out.ValueTree.Object["investor"].Field.Value)
	assert.Equal(t, 2103.09, out.ValueTree.Object["amount"].Field.Value)
	assert.NotNil(t, out.ExtractionSchema)
	assert.Equal(t, document.QualityExcellent, out.QualityBand)
	assert.Equal(t, "primary", out.ProviderUsed)
}

func TestExtractMissingSchemaIsFatal(t *testing.T) {
	e := newTestExtractor(t, DefaultConfig(), llmtest.Always("primary", simpleResponse))
	doc := classifiedDoc("text")
	doc.DocumentType = "Distribution"

	_, err := e.Process(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dierrors.ErrSchemaNotFound))
}

func chunkingConfig() Config {
	return Config{
		TokenBudget:      200,
		PromptOverhead:   10,
		ChunkSize:        400,
		ChunkOverlap:     20,
		ChunkConcurrency: 2,
		MaxTokens:        100,
	}
}

func longText() string {
	paragraph := strings.Repeat("Capital call details continue here. ", 8)
	return strings.Join([]string{paragraph, paragraph, paragraph}, "\n\n")
}

func TestExtractPartialChunkFailureKeepsSuccesses(t *testing.T) {
	provider := &llmtest.Provider{
		ProviderName: "primary",
		Respond: func(req llm.Request) (string, error) {
			if strings.Contains(req.Prompt, "This is part 2 of") {
				return "", errors.New("upstream overloaded")
			}
			return simpleResponse, nil
		},
	}
	e := newTestExtractor(t, chunkingConfig(), provider)

	out, err := e.Process(context.Background(), classifiedDoc(longText()))
	require.NoError(t, err)

	assert.Equal(t, ModeChunking, out.Metadata["extraction_mode"])
	chunks := out.Metadata["chunk_count"].(int)
	assert.Greater(t, chunks, 2)
	assert.Equal(t, chunks, provider.Calls())
	assert.Equal(t, 1, out.Metadata["failed_chunks"])
	assert.Equal(t, "OM INVESTMENTS, L.P.", out.ValueTree.Object["investor"].Field.Value)

	var failed int
	for _, is := range out.ValidationErrors {
		if is.Code == document.IssueChunkExtractionFailed {
			failed++
			assert.Equal(t, document.SeverityMedium, is.Severity)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Less(t, out.QualityScore, 1.0)
}

func TestExtractAllChunksFailingIsExhaustion(t *testing.T) {
	e := newTestExtractor(t, chunkingConfig(), llmtest.Failing("primary"))

	out, err := e.Process(context.Background(), classifiedDoc(longText()))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, dierrors.ErrExtractionExhausted))

	pe, ok := dierrors.AsProcessingError(err)
	require.True(t, ok)
	assert.Equal(t, "primary", pe.Provider)
}

func TestExtractRejectsNonObjectResponses(t *testing.T) {
	provider := &llmtest.Provider{
		ProviderName: "primary",
		Steps:        []llmtest.Step{{Text: "I could not find anything."}},
	}
	e := newTestExtractor(t, DefaultConfig(), provider)

	_, err := e.Process(context.Background(), classifiedDoc("text"))
	assert.True(t, errors.Is(err, dierrors.ErrExtractionExhausted))
}

func TestParseObject(t *testing.T) {
	v, err := parseObject("Here you go:\n{\"a\": 1}\nThanks")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1.0}, v)

	_, err = parseObject("[1, 2]")
	assert.Error(t, err)
}
