package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adverant/nexus/docintel-worker/internal/document"
	dierrors "github.com/adverant/nexus/docintel-worker/internal/errors"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

const noticeSchema = `{
  "type": "object",
  "required": ["investor", "amount", "dueDate"],
  "properties": {
    "investor": {"type": "string"},
    "amount": {"type": "number"},
    "dueDate": {"type": "string", "format": "date"},
    "title": {"type": "string"},
    "memo": {"type": "string"}
  }
}`

func strPtr(s string) *string { return &s }

func leaf(value interface{}, verbatim string) *document.Node {
	f := &document.FieldResult{Value: value, Confidence: document.ConfidenceHigh}
	if verbatim != "" {
		f.VerbatimText = strPtr(verbatim)
	}
	return document.FieldNode(f)
}

func words(texts ...string) []document.WordToken {
	out := make([]document.WordToken, len(texts))
	for i, t := range texts {
		out[i] = document.WordToken{
			Text:       t,
			Box:        document.BoundingBox{Left: 0.05 * float64(i%10), Top: 0.1 * float64(i/10+1), Width: 0.04, Height: 0.02},
			Confidence: 0.95,
		}
	}
	return out
}

func noticePages() []document.PageRecord {
	return []document.PageRecord{
		{PageNumber: 1, Words: words("Capital", "Call", "Notice", "OM", "INVESTMENTS,", "L.P.", "Amount", "due:", "2,103.09")},
		{PageNumber: 2, Words: words("Due", "date", "2025-05-30")},
	}
}

func mustSchema(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func newTestEnricher(t *testing.T, cfg Config) *Enricher {
	return NewEnricher(cfg, WithLogger(logging.New(zaptest.NewLogger(t), "enrich")))
}

func extractedDoc(t *testing.T, tree *document.Node) *document.Context {
	doc := document.NewContext("doc-1", "task-1")
	doc.DocumentType = "CapCall"
	doc.Pages = noticePages()
	doc.ExtractionSchema = mustSchema(t, noticeSchema)
	doc.ValueTree = tree
	return doc
}

func TestEnrichLocatesFieldsWithEachStrategy(t *testing.T) {
	tree := document.ObjectNode(map[string]*document.Node{
		"investor": leaf("OM INVESTMENTS, L.P.", "OM INVESTMENTS, L.P."),
		"amount":   leaf(2103.09, "$2103.09"),
		"title":    leaf("Capitel Call Notice", "Capitel Call Notice"),
		"dueDate":  leaf("2025-05-30", "Due 2025-05-30"),
		"memo":     leaf("wire instructions attached", ""),
	})
	doc := extractedDoc(t, tree)

	out, err := newTestEnricher(t, DefaultConfig()).Process(context.Background(), doc)
	require.NoError(t, err)

	pages := noticePages()
	investor := out.ValueTree.Object["investor"].Field
	assert.Equal(t, StrategySequence, investor.MatchStrategy)
	assert.Equal(t, []string{
		pages[0].Words[3].Box.String(),
		pages[0].Words[4].Box.String(),
		pages[0].Words[5].Box.String(),
	}, investor.BoundingBoxes)
	require.NotNil(t, investor.PageNumber)
	assert.Equal(t, 1, *investor.PageNumber)

	amount := out.ValueTree.Object["amount"].Field
	assert.Equal(t, StrategyCurrency, amount.MatchStrategy)
	assert.Equal(t, []string{pages[0].Words[8].Box.String()}, amount.BoundingBoxes)

	title := out.ValueTree.Object["title"].Field
	assert.Equal(t, StrategyFuzzy, title.MatchStrategy)
	assert.Len(t, title.BoundingBoxes, 3)

	due := out.ValueTree.Object["dueDate"].Field
	assert.Equal(t, StrategySequence, due.MatchStrategy, "one unrelated token may sit inside a sequence")
	assert.Equal(t, []string{pages[1].Words[0].Box.String(), pages[1].Words[2].Box.String()}, due.BoundingBoxes)
	require.NotNil(t, due.PageNumber)
	assert.Equal(t, 2, *due.PageNumber)

	memo := out.ValueTree.Object["memo"].Field
	assert.Equal(t, "wire instructions attached", memo.Value, "unlocated values are kept")
	assert.Nil(t, memo.BoundingBoxes)
	assert.Nil(t, memo.PageNumber)

	assert.InDelta(t, 0.8, out.EnrichmentRate, 1e-9)
	require.Len(t, out.ValidationErrors, 1)
	assert.Equal(t, document.IssueBoundingBoxNotFound, out.ValidationErrors[0].Code)
	assert.Equal(t, document.SeverityInfo, out.ValidationErrors[0].Severity)
	assert.Equal(t, "memo", out.ValidationErrors[0].FieldPath)
	assert.False(t, document.HasBlocking(out.ValidationErrors))
	assert.Equal(t, document.QualityExcellent, out.QualityBand)
}

func TestEnrichmentRateStaysInRange(t *testing.T) {
	tests := []struct {
		name string
		tree *document.Node
		want float64
	}{
		{"nothing valued", document.ObjectNode(map[string]*document.Node{"memo": leaf(nil, "")}), 0},
		{"nothing located", document.ObjectNode(map[string]*document.Node{"memo": leaf("absent", "")}), 0},
		{"all located", document.ObjectNode(map[string]*document.Node{"investor": leaf("OM", "OM")}), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := extractedDoc(t, tt.tree)
			doc.ExtractionSchema = nil
			out, err := newTestEnricher(t, DefaultConfig()).Process(context.Background(), doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.EnrichmentRate)
		})
	}
}

func TestEnrichRecordsSchemaViolations(t *testing.T) {
	tree := document.ObjectNode(map[string]*document.Node{
		"investor": leaf(42.0, ""),
		"amount":   leaf(nil, ""),
		"dueDate":  leaf("2025-05-30", "2025-05-30"),
	})

	out, err := newTestEnricher(t, DefaultConfig()).Process(context.Background(), extractedDoc(t, tree))
	require.NoError(t, err)

	bySeverity := map[document.Severity][]string{}
	for _, is := range out.ValidationErrors {
		if is.Code == document.IssueSchemaValidation {
			bySeverity[is.Severity] = append(bySeverity[is.Severity], is.FieldPath)
		}
	}
	assert.Equal(t, []string{"amount"}, bySeverity[document.SeverityCritical])
	assert.Equal(t, []string{"investor"}, bySeverity[document.SeverityHigh])
	assert.NotEqual(t, document.QualityExcellent, out.QualityBand)
}

func TestEnrichAbortsOnCriticalWhenConfigured(t *testing.T) {
	tree := document.ObjectNode(map[string]*document.Node{
		"investor": leaf("OM", "OM"),
	})
	cfg := DefaultConfig()
	cfg.AbortOnCritical = true

	out, err := newTestEnricher(t, cfg).Process(context.Background(), extractedDoc(t, tree))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, dierrors.ErrSchemaValidation))
}

func TestValidTreeHasNoSchemaIssues(t *testing.T) {
	v, err := NewSchemaValidator(mustSchema(t, noticeSchema))
	require.NoError(t, err)

	issues, err := v.Validate(document.ObjectNode(map[string]*document.Node{
		"investor": leaf("OM", ""),
		"amount":   leaf(1.5, ""),
		"dueDate":  leaf("2025-05-30", ""),
		"memo":     leaf(nil, ""),
	}))
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestInstancePath(t *testing.T) {
	assert.Equal(t, "", instancePath(""))
	assert.Equal(t, "rows[0].value", instancePath("/rows/0/value"))
	assert.Equal(t, "a/b", instancePath("/a~1b"))
}

func TestLocatorExactIgnoresCaseAndPunctuation(t *testing.T) {
	l := NewLocator(CollectTokens(noticePages()), 0.85, 1)
	m, ok := l.LocateText("notice")
	require.True(t, ok)
	assert.Equal(t, StrategyExact, m.Strategy)
	assert.Equal(t, "Notice", m.Tokens[0].Text)

	_, ok = l.LocateText("2103.10")
	assert.False(t, ok, "amounts outside tolerance do not match")
}

func TestLocatorCurrencyJoinsOnlyAmountPieces(t *testing.T) {
	pages := []document.PageRecord{{PageNumber: 1, Words: words("Fund", "1", "Class", "Note", "2", "3", "Total", "$", "2,", "103.09", "USD", "500.00")}}
	l := NewLocator(CollectTokens(pages), 0.85, 1)

	_, ok := l.LocateText("$23")
	assert.False(t, ok, "unrelated digits are not joined into an amount")

	m, ok := l.LocateText("$2103.09")
	require.True(t, ok)
	assert.Equal(t, StrategyCurrency, m.Strategy)
	assert.Equal(t, []string{pages[0].Words[8].Box.String(), pages[0].Words[9].Box.String()}, m.Boxes())

	m, ok = l.LocateText("USD 500")
	require.True(t, ok)
	require.Len(t, m.Tokens, 1)
	assert.Equal(t, "500.00", m.Tokens[0].Text)
}

func TestLocatorCurrencyRequiresSameLine(t *testing.T) {
	tokens := []Token{
		{Text: "2,", Clean: "2", Page: 1, Box: document.BoundingBox{Left: 0.8, Top: 0.10, Width: 0.04, Height: 0.02}},
		{Text: "103.09", Clean: "103.09", Page: 1, Box: document.BoundingBox{Left: 0.05, Top: 0.20, Width: 0.06, Height: 0.02}},
	}
	_, ok := NewLocator(tokens, 0.85, 1).LocateText("$2103.09")
	assert.False(t, ok, "fragments on different lines are not one amount")

	tokens[1].Box = document.BoundingBox{Left: 0.85, Top: 0.10, Width: 0.06, Height: 0.02}
	m, ok := NewLocator(tokens, 0.85, 1).LocateText("$2103.09")
	require.True(t, ok)
	assert.Len(t, m.Tokens, 2)
}
