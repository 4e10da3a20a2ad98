package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func sampleTree() *Node {
	return ObjectNode(map[string]*Node{
		"fund": FieldNode(&FieldResult{Value: "OM INVESTMENTS, L.P.", Confidence: ConfidenceHigh, VerbatimText: strPtr("OM INVESTMENTS, L.P.")}),
		"memo": FieldNode(&FieldResult{Confidence: ConfidenceUnknown}),
		"lines": ListNode([]*Node{
			ObjectNode(map[string]*Node{
				"amount": FieldNode(&FieldResult{Value: 2103.09, Confidence: ConfidenceMedium}),
			}),
		}),
	})
}

func TestLeavesPathsAreDeterministic(t *testing.T) {
	leaves := sampleTree().Leaves()
	paths := make([]string, 0, len(leaves))
	for _, l := range leaves {
		paths = append(paths, l.Path)
	}
	assert.Equal(t, []string{"fund", "lines[0].amount", "memo"}, paths)
}

func TestProjectOmitsNullLeaves(t *testing.T) {
	got := sampleTree().Project().(map[string]interface{})
	assert.NotContains(t, got, "memo")
	assert.Equal(t, "OM INVESTMENTS, L.P.", got["fund"])
	lines := got["lines"].([]interface{})
	assert.Equal(t, 2103.09, lines[0].(map[string]interface{})["amount"])
}

func TestCloneIsDeep(t *testing.T) {
	orig := sampleTree()
	cp := orig.Clone()
	cp.Object["fund"].Field.SetLocation([]string{"0.1000,0.1000,0.1000,0.1000"}, 1, "exact")

	assert.False(t, orig.Object["fund"].Field.Located())
	assert.True(t, cp.Object["fund"].Field.Located())
}

func TestMarshalFieldShape(t *testing.T) {
	b, err := json.Marshal(sampleTree())
	require.NoError(t, err)

	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Contains(t, raw["memo"], "value")
	assert.Nil(t, raw["memo"]["value"])
	assert.Nil(t, raw["memo"]["boundingBoxes"])
	assert.Equal(t, "HIGH", raw["fund"]["confidenceLevel"])
}

func TestParseConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, ParseConfidence("high"))
	assert.Equal(t, ConfidenceMedium, ParseConfidence(0.85))
	assert.Equal(t, ConfidenceLow, ParseConfidence("0.3"))
	assert.Equal(t, ConfidenceUnknown, ParseConfidence(nil))
}

func TestBoundingBoxString(t *testing.T) {
	b := NewBoundingBox(61.2, 79.2, 122.4, 99, 612, 792)
	assert.Equal(t, "0.1000,0.1000,0.1000,0.0250", b.String())
}

func TestBandFor(t *testing.T) {
	assert.Equal(t, QualityExcellent, BandFor(0.9))
	assert.Equal(t, QualityGood, BandFor(0.7))
	assert.Equal(t, QualityFair, BandFor(0.5))
	assert.Equal(t, QualityPoor, BandFor(0.49))
}
