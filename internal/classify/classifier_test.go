package classify

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

var testTypes = []catalog.DocumentType{
	{Name: "Statement", Description: "Periodic account statements."},
	{Name: "CapCall", Description: "Capital call notices."},
	{Name: "Distribution", Description: "Distribution notices."},
}

type countingCatalog struct {
	catalog.Static
	calls int
}

func (c *countingCatalog) DocumentTypes(ctx context.Context) ([]catalog.DocumentType, error) {
	c.calls++
	return c.Static.DocumentTypes(ctx)
}

func newCatalog() *countingCatalog {
	return &countingCatalog{Static: catalog.Static{Types: testTypes}}
}

func newClassifier(t *testing.T, cat catalog.Provider, providers ...llm.Provider) *Classifier {
	inv := llm.NewInvoker(providers, llm.InvokerConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		CallTimeout: time.Second,
	}, llm.WithCounters(&llm.Counters{}))
	return NewClassifier(DefaultConfig(), cat, inv, WithLogger(logging.New(zaptest.NewLogger(t), "classify")))
}

func textualDoc() *document.Context {
	doc := document.NewContext("doc-1", "task-1")
	doc.NormalizedText = strings.Repeat("capital call notice amount due ", 30)
	return doc
}

func TestPredefinedTypeSkipsClassification(t *testing.T) {
	cat := newCatalog()
	provider := llmtest.Always("primary", "Statement")
	c := newClassifier(t, cat, provider)

	doc := textualDoc()
	doc.PredefinedType = "CapCall"
	out, err := c.Process(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, "CapCall", out.DocumentType)
	assert.Equal(t, 1.0, out.ClassificationConfidence)
	assert.Equal(t, document.StatePreclassified, out.ClassificationState)
	assert.Equal(t, document.ModalityTextual, out.Modality)
	assert.Zero(t, provider.Calls())
	assert.Zero(t, cat.calls)
}

func TestAllProvidersFailingIsExhaustion(t *testing.T) {
	primary := llmtest.Failing("primary")
	secondary := llmtest.Failing("secondary")
	c := newClassifier(t, newCatalog(), primary, secondary)

	doc := textualDoc()
	out, err := c.Process(context.Background(), doc)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, dierrors.ErrClassificationExhausted))

	pe, ok := dierrors.AsProcessingError(err)
	require.True(t, ok)
	assert.Equal(t, 5, pe.RetryCount)
	assert.Equal(t, "secondary", pe.Provider)
	assert.Equal(t, "classify", pe.Stage)
	assert.Equal(t, 3, primary.Calls())
	assert.Equal(t, 3, secondary.Calls())
	assert.Nil(t, doc.ValueTree)
}

func TestCancelDuringLastAttemptIsNotExhaustion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := &llmtest.Provider{
		ProviderName: "primary",
		Respond: func(req llm.Request) (string, error) {
			cancel()
			return "", errors.New("upstream unavailable")
		},
	}
	c := newClassifier(t, newCatalog(), provider)

	out, err := c.Process(ctx, textualDoc())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, context.Canceled))
	_, isProcessing := dierrors.AsProcessingError(err)
	assert.False(t, isProcessing, "a cancelled run is discarded, not reported as failed")
}

func TestUnrecognizedAnswerIsRetried(t *testing.T) {
	provider := &llmtest.Provider{
		ProviderName: "primary",
		Steps: []llmtest.Step{
			{Text: "Invoice"},
			{Text: "Document type: \"capcall\"."},
		},
	}
	c := newClassifier(t, newCatalog(), provider)

	out, err := c.Process(context.Background(), textualDoc())
	require.NoError(t, err)

	assert.Equal(t, "CapCall", out.DocumentType)
	assert.Equal(t, document.StateInferred, out.ClassificationState)
	assert.InDelta(t, 0.85, out.ClassificationConfidence, 1e-9)
	assert.Equal(t, 1, out.RetryCount)
	assert.Equal(t, "primary", out.ProviderUsed)
}

func TestVisionModalitySendsFirstPages(t *testing.T) {
	provider := llmtest.Always("primary", "Distribution")
	c := newClassifier(t, newCatalog(), provider)

	doc := document.NewContext("doc-2", "task-2")
	doc.NormalizedText = "|||"
	png := []byte("\x89PNG\r\n\x1a\n0000")
	doc.PageImages = [][]byte{png, png, png, png, png}

	out, err := c.Process(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, document.ModalityVision, out.Modality)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Images, DefaultConfig().VisionPages)
	assert.Equal(t, "image/png", reqs[0].Images[0].MimeType)
}

func TestCacheAvoidsSecondCall(t *testing.T) {
	provider := llmtest.Always("primary", "Statement")
	inv := llm.NewInvoker([]llm.Provider{provider}, llm.InvokerConfig{MaxAttempts: 1, CallTimeout: time.Second},
		llm.WithCounters(&llm.Counters{}))
	c := NewClassifier(DefaultConfig(), newCatalog(), inv, WithCache(NewMemoryCache(time.Hour)))

	first, err := c.Process(context.Background(), textualDoc())
	require.NoError(t, err)
	second, err := c.Process(context.Background(), textualDoc())
	require.NoError(t, err)

	assert.Equal(t, 1, provider.Calls())
	assert.Equal(t, first.DocumentType, second.DocumentType)
	assert.Equal(t, true, second.Metadata["classification_cache_hit"])
}

func TestMemoryCacheExpires(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }
	require.NoError(t, cache.Set(context.Background(), "k", Entry{DocumentType: "AGM"}))

	got, err := cache.Get(context.Background(), "k")
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(2 * time.Minute)
	got, err = cache.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.9, Confidence(0))
	assert.InDelta(t, 0.8, Confidence(2), 1e-9)
	assert.Equal(t, 0.5, Confidence(20))
}

func TestSelectModality(t *testing.T) {
	cfg := DefaultConfig()
	long := strings.Repeat("word ", 150)

	assert.Equal(t, document.ModalityTextual, SelectModality(long, 2, cfg))
	assert.Equal(t, document.ModalityVision, SelectModality("short", 2, cfg))
	assert.Equal(t, document.ModalityTextual, SelectModality("short", 0, cfg))
	assert.Equal(t, document.ModalityVision, SelectModality(long+strings.Repeat("|||", 10), 1, cfg))
}

func TestBuildPromptTruncatesLongText(t *testing.T) {
	text := strings.Repeat("a", 2500) + strings.Repeat("z", 1500)
	prompt := BuildPrompt(testTypes, "notice.pdf", text, document.ModalityTextual)

	assert.Contains(t, prompt, "- CapCall: Capital call notices.")
	assert.Contains(t, prompt, "Document filename: notice.pdf")
	assert.Contains(t, prompt, strings.Repeat("a", 2000)+"\n...\n"+strings.Repeat("z", 1000))
	assert.NotContains(t, prompt, strings.Repeat("a", 2001))
}
