package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docintel-worker/internal/document"
)

const capCallSchema = `{
  "type": "object",
  "required": ["investor", "amount"],
  "properties": {
    "investor": {"type": "string"},
    "amount": {"type": "number"},
    "dueDate": {"type": "string", "format": "date"},
    "rows": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "value": {"type": "number"}
        }
      }
    }
  }
}`

func mustSchema(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestBuildTreeFollowsSchema(t *testing.T) {
	schema := mustSchema(t, capCallSchema)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"investor": {"value": "OM INVESTMENTS, L.P.", "confidence": "HIGH", "verbatimText": "OM INVESTMENTS, L.P."},
		"amount": "$1,234.50",
		"notes": "not in schema",
		"rows": [
			{"name": "Fund A", "value": {"value": 300, "confidence": 0.95, "verbatimText": "100.50, 200.25"}}
		]
	}`), &raw))

	tree, issues := BuildTree(schema, raw)

	investor := tree.Object["investor"].Field
	assert.Equal(t, "OM INVESTMENTS, L.P.", investor.Value)
	assert.Equal(t, document.ConfidenceHigh, investor.Confidence)
	assert.Equal(t, "OM INVESTMENTS, L.P.", investor.Verbatim())

	assert.Equal(t, 1234.5, tree.Object["amount"].Field.Value)

	due := tree.Object["dueDate"]
	require.Equal(t, document.KindField, due.Kind, "missing fields are null-filled")
	assert.Nil(t, due.Field.Value)

	_, dropped := tree.Object["notes"]
	assert.False(t, dropped)

	rows := tree.Object["rows"].List
	require.Len(t, rows, 1)
	assert.Equal(t, 300.75, rows[0].Object["value"].Field.Value)
	assert.Equal(t, document.ConfidenceHigh, rows[0].Object["value"].Field.Confidence)

	codes := map[string]string{}
	for _, is := range issues {
		codes[is.FieldPath] = is.Code
		assert.Equal(t, document.SeverityInfo, is.Severity)
	}
	assert.Equal(t, document.IssueUnexpectedField, codes["notes"])
	assert.Equal(t, document.IssueSumCorrected, codes["rows[0].value"])
}

func TestBuildTreeMissingContainers(t *testing.T) {
	tree, issues := BuildTree(mustSchema(t, capCallSchema), map[string]interface{}{})
	assert.Empty(t, issues)
	assert.Equal(t, document.KindList, tree.Object["rows"].Kind)
	assert.Empty(t, tree.Object["rows"].List)
	assert.Len(t, tree.Leaves(), 3)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"2,103.09", 2103.09, true},
		{"$2103.09", 2103.09, true},
		{"USD 12,889.47", 12889.47, true},
		{"(200.00)", -200, true},
		{"12.5%", 12.5, true},
		{"n/a", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestSumCorrectionIgnoresThousandsSeparators(t *testing.T) {
	schema := mustSchema(t, `{"type":"object","properties":{"amount":{"type":"number"}}}`)
	raw := map[string]interface{}{
		"amount": map[string]interface{}{"value": 1234.56, "verbatimText": "1,234.56"},
	}
	tree, issues := BuildTree(schema, raw)
	assert.Empty(t, issues)
	assert.Equal(t, 1234.56, tree.Object["amount"].Field.Value)
}

func TestAssessQuality(t *testing.T) {
	schema := mustSchema(t, `{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"number"}}}`)

	full := obj("a", field("x", document.ConfidenceHigh), "b", field(1.0, document.ConfidenceHigh))
	score, band, parts := Assess(full, schema, nil)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, document.QualityExcellent, band)
	assert.Equal(t, QualityParts{Completeness: 1, Accuracy: 1, Consistency: 1}, parts)

	half := obj("a", field("x", document.ConfidenceHigh), "b", field(nil, document.ConfidenceUnknown))
	score, band, _ = Assess(half, schema, nil)
	assert.InDelta(t, 0.8, score, 1e-9)
	assert.Equal(t, document.QualityGood, band)

	critical := []document.Issue{{Severity: document.SeverityCritical}, {Severity: document.SeverityCritical}}
	score, band, parts = Assess(full, schema, critical)
	assert.Equal(t, 0.0, parts.Accuracy)
	assert.InDelta(t, 0.6, score, 1e-9)
	assert.Equal(t, document.QualityFair, band)

	score, band, _ = Assess(nil, schema, nil)
	assert.Equal(t, 0.0, score)
	assert.Equal(t, document.QualityPoor, band)
}

func TestCheckFormats(t *testing.T) {
	schema := mustSchema(t, capCallSchema)
	tree := obj(
		"investor", field("OM", document.ConfidenceHigh),
		"amount", field("about a million", document.ConfidenceLow),
		"dueDate", field("May 30, 2025", document.ConfidenceHigh),
		"rows", document.ListNode(nil),
	)

	report := CheckFormats(tree, schema)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "amount", report.Issues[0].FieldPath)
	assert.Equal(t, document.SeverityLow, report.Issues[0].Severity)
}
