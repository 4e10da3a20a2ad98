package normalize

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adverant/nexus/docintel-worker/internal/document"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

func word(text string, left, top, width float64) document.WordToken {
	return document.WordToken{
		Text:       text,
		Box:        document.BoundingBox{Left: left, Top: top, Width: width, Height: 0.015},
		Confidence: 0.95,
	}
}

func pageWithFurniture(n, total int) document.PageRecord {
	words := []document.WordToken{
		word("ACME", 0.1, 0.02, 0.08),
		word("FUND", 0.2, 0.02, 0.08),
		word("II", 0.3, 0.02, 0.03),
		word("Body", 0.1, 0.3, 0.08),
		word(fmt.Sprintf("text%d", n), 0.2, 0.3, 0.1),
		word("Page", 0.4, 0.96, 0.06),
		word(fmt.Sprintf("%d", n), 0.47, 0.96, 0.02),
		word("of", 0.5, 0.96, 0.03),
		word(fmt.Sprintf("%d", total), 0.54, 0.96, 0.02),
	}
	return document.PageRecord{PageNumber: n, Words: words}
}

func TestNormalizeFlagsRepeatingHeadersAndFooters(t *testing.T) {
	pages := []document.PageRecord{pageWithFurniture(1, 3), pageWithFurniture(2, 3), pageWithFurniture(3, 3)}

	results := Normalize(pages, DefaultConfig())
	require.Len(t, results, 3)

	for p, res := range results {
		assert.Equal(t, fmt.Sprintf("Body text%d", p+1), res.Text)
		assert.Len(t, res.Layout.Order, len(pages[p].Words), "every token keeps a reading position")
		assert.Equal(t, []bool{true, true, true, false, false, true, true, true, true}, res.Layout.Boilerplate)
	}
}

func TestNormalizeKeepsUniqueHeaderOnSinglePage(t *testing.T) {
	page := document.PageRecord{PageNumber: 1, Words: []document.WordToken{
		word("CAPITAL", 0.1, 0.02, 0.1),
		word("CALL", 0.25, 0.02, 0.08),
		word("Amount", 0.1, 0.4, 0.1),
	}}

	res := Normalize([]document.PageRecord{page}, DefaultConfig())
	assert.Equal(t, "CAPITAL CALL\n\nAmount", res[0].Text)
}

func TestNormalizeReflowsTwoColumns(t *testing.T) {
	var words []document.WordToken
	for i := 0; i < 10; i++ {
		top := 0.2 + float64(i)*0.03
		words = append(words,
			word(fmt.Sprintf("L%d", i), 0.1, top, 0.3),
			word(fmt.Sprintf("R%d", i), 0.55, top, 0.35))
	}
	page := document.PageRecord{PageNumber: 1, Words: words}

	res := Normalize([]document.PageRecord{page}, DefaultConfig())
	require.Len(t, res, 1)
	assert.Equal(t, 2, res[0].Layout.Columns)

	text := res[0].Text
	assert.Less(t, strings.Index(text, "L9"), strings.Index(text, "R0"))
	assert.Contains(t, text, "L9\n\nR0")

	cfg := DefaultConfig()
	cfg.ReflowColumns = false
	flat := Normalize([]document.PageRecord{page}, cfg)
	assert.Equal(t, 1, flat[0].Layout.Columns)
	assert.True(t, strings.HasPrefix(flat[0].Text, "L0 R0\nL1 R1"))
}

func TestNormalizeReadsFullWidthTitleInPlace(t *testing.T) {
	words := []document.WordToken{
		word("Quarterly", 0.1, 0.1, 0.3),
		word("Capital", 0.42, 0.1, 0.2),
		word("Report", 0.64, 0.1, 0.2),
	}
	for i := 0; i < 10; i++ {
		top := 0.2 + float64(i)*0.03
		words = append(words,
			word(fmt.Sprintf("L%d", i), 0.1, top, 0.3),
			word(fmt.Sprintf("R%d", i), 0.55, top, 0.35))
	}

	res := Normalize([]document.PageRecord{{PageNumber: 1, Words: words}}, DefaultConfig())
	require.Len(t, res, 1)
	assert.Equal(t, 2, res[0].Layout.Columns, "a title across both columns does not hide the gutter")
	assert.True(t, strings.HasPrefix(res[0].Text, "Quarterly Capital Report\n\nL0\nL1"))
	assert.Contains(t, res[0].Text, "L9\n\nR0")
}

func TestNormalizeKeepsHeadersThatDifferAcrossPages(t *testing.T) {
	page := func(n int, title string) document.PageRecord {
		return document.PageRecord{PageNumber: n, Words: []document.WordToken{
			word(title, 0.1, 0.02, 0.2),
			word("Body", 0.1, 0.3, 0.08),
			word(fmt.Sprintf("%d", n), 0.5, 0.96, 0.02),
		}}
	}
	pages := []document.PageRecord{page(1, "Notice"), page(2, "Schedule")}

	results := Normalize(pages, DefaultConfig())
	for p, res := range results {
		assert.Equal(t, []bool{false, false, true}, res.Layout.Boilerplate, "page %d", p+1)
	}
	assert.Equal(t, "Notice\n\nBody", results[0].Text)
}

func TestNormalizeIsPure(t *testing.T) {
	pages := []document.PageRecord{pageWithFurniture(1, 2), pageWithFurniture(2, 2)}
	before := make([]document.PageRecord, len(pages))
	for i := range pages {
		before[i] = pages[i]
		before[i].Words = append([]document.WordToken(nil), pages[i].Words...)
	}

	Normalize(pages, DefaultConfig())
	assert.True(t, reflect.DeepEqual(before, pages))
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ligature", "ﬁnal notice", "final notice"},
		{"hyphenated line break", "docu-\nment", "document"},
		{"digit O confusion", "Total 1O0O5", "Total 10005"},
		{"whitespace", "a \t  b\r\nc", "a b\nc"},
		{"table rule", "head\n-----\nbody", "head\n\nbody"},
		{"blank lines", "a\n\n\n\nb", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestNormalizerProcessSetsNormalizedText(t *testing.T) {
	doc := document.NewContext("doc-1", "task-1")
	doc.Pages = []document.PageRecord{pageWithFurniture(1, 2), pageWithFurniture(2, 2)}
	tokens := doc.TokenCount()

	n := NewNormalizer(DefaultConfig(), logging.New(zaptest.NewLogger(t), "normalize"))
	out, err := n.Process(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, "Body text1\n\nBody text2", out.NormalizedText)
	assert.Equal(t, tokens, out.TokenCount())
	assert.Equal(t, 14, out.Metadata["boilerplate_tokens"])
}
