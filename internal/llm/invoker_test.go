package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adverant/nexus/docintel-worker/internal/llm"
	"github.com/adverant/nexus/docintel-worker/internal/llm/llmtest"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

func fastConfig() llm.InvokerConfig {
	return llm.InvokerConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		CallTimeout: 20 * time.Millisecond,
	}
}

func newInvoker(t *testing.T, counters *llm.Counters, providers ...llm.Provider) *llm.Invoker {
	return llm.NewInvoker(providers, fastConfig(),
		llm.WithCounters(counters),
		llm.WithLogger(logging.New(zaptest.NewLogger(t), "llm")))
}

func TestInvokeRetriesAfterTimeouts(t *testing.T) {
	counters := &llm.Counters{}
	primary := &llmtest.Provider{
		ProviderName: "primary",
		Steps: []llmtest.Step{
			{Hang: true},
			{Hang: true},
			{Text: "Invoice"},
		},
	}

	res, err := newInvoker(t, counters, primary).Invoke(context.Background(), llm.Request{Prompt: "p"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Invoice", res.Text)
	assert.Equal(t, "primary", res.Provider)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, res.RetryCount)

	snap := counters.Snapshot()
	assert.EqualValues(t, 3, snap.Calls)
	assert.EqualValues(t, 2, snap.Timeouts)
	assert.EqualValues(t, 2, snap.Retries)
	assert.EqualValues(t, 3, snap.ByProvider["primary"])
}

func TestInvokeFailsOverToSecondary(t *testing.T) {
	primary := llmtest.Failing("primary")
	secondary := llmtest.Always("secondary", "ok")

	res, err := newInvoker(t, &llm.Counters{}, primary, secondary).Invoke(context.Background(), llm.Request{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "secondary", res.Provider)
	assert.Equal(t, 3, primary.Calls())
	assert.Equal(t, 1, secondary.Calls())
	assert.Equal(t, 3, res.RetryCount)
}

func TestInvokeExhaustion(t *testing.T) {
	counters := &llm.Counters{}
	primary := llmtest.Failing("primary")
	secondary := llmtest.Failing("secondary")

	_, err := newInvoker(t, counters, primary, secondary).Invoke(context.Background(), llm.Request{}, nil)
	require.Error(t, err)

	var exhausted *llm.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 6, exhausted.Attempts)
	assert.Equal(t, 5, exhausted.RetryCount())
	assert.Equal(t, "secondary", exhausted.LastProvider)
	assert.Len(t, exhausted.Errors, 6)
	assert.EqualValues(t, 1, counters.Snapshot().Exhaustions)
}

func TestInvokeValidatorRejectionRetries(t *testing.T) {
	p := &llmtest.Provider{
		ProviderName: "primary",
		Steps:        []llmtest.Step{{Text: "Banana"}, {Text: "capcall"}},
	}
	validate := func(text string) (interface{}, error) {
		if strings.EqualFold(text, "capcall") {
			return "CapCall", nil
		}
		return nil, errors.New("not in catalog")
	}

	res, err := newInvoker(t, &llm.Counters{}, p).Invoke(context.Background(), llm.Request{}, validate)
	require.NoError(t, err)
	assert.Equal(t, "CapCall", res.Value)
	assert.Equal(t, 1, res.RetryCount)
}

func TestInvokeStopsWhenCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &llmtest.Provider{
		ProviderName: "primary",
		Respond: func(llm.Request) (string, error) {
			cancel()
			return "", errors.New("boom")
		},
	}

	_, err := newInvoker(t, &llm.Counters{}, p).Invoke(ctx, llm.Request{}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.Calls())
}

func TestInFlightCallIgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &llmtest.Provider{
		ProviderName: "primary",
		Respond: func(llm.Request) (string, error) {
			cancel()
			return "finished", nil
		},
	}

	res, err := newInvoker(t, &llm.Counters{}, p).Invoke(ctx, llm.Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "finished", res.Text)
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, llm.StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, "plain", llm.StripCodeFences("  plain "))
}
