package extract

import (
	"fmt"
	"math"
	"time"

	"github.com/adverant/nexus/docintel-worker/internal/document"
)

// Quality weights.
const (
	completenessWeight = 0.4
	accuracyWeight     = 0.4
	consistencyWeight  = 0.2
)

// QualityParts are the components of a quality score.
type QualityParts struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
}

// Assess scores a value tree against its schema and findings:
// 0.4 completeness + 0.4 accuracy + 0.2 consistency.
func Assess(tree *document.Node, schema map[string]interface{}, issues []document.Issue) (float64, document.QualityBand, QualityParts) {
	var parts QualityParts
	leaves := tree.Leaves()
	if len(leaves) == 0 {
		return 0, document.BandFor(0), parts
	}

	filled := 0
	for _, l := range leaves {
		if l.Field.HasValue() {
			filled++
		}
	}
	parts.Completeness = float64(filled) / float64(len(leaves))

	penalty := 0.0
	for _, is := range issues {
		penalty += is.Severity.Penalty()
	}
	parts.Accuracy = math.Max(0, 1-penalty/float64(len(leaves)))

	report := CheckFormats(tree, schema)
	parts.Consistency = 1
	if report.Checked > 0 {
		parts.Consistency = float64(report.Checked-len(report.Issues)) / float64(report.Checked)
	}

	score := completenessWeight*parts.Completeness + accuracyWeight*parts.Accuracy + consistencyWeight*parts.Consistency
	score = math.Round(score*1000) / 1000
	return score, document.BandFor(score), parts
}

// FormatReport is the outcome of the format consistency checks.
type FormatReport struct {
	Checked int
	Issues  []document.Issue
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
	"02.01.2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02-Jan-2006",
}

// CheckFormats checks that declared numbers parse as numbers, booleans are
// booleans and date-formatted strings parse as dates. Each failure is a LOW
// FormatInconsistency.
func CheckFormats(tree *document.Node, schema map[string]interface{}) FormatReport {
	var r FormatReport
	walkSchema(tree, schema, "", func(path string, f *document.FieldResult, leaf map[string]interface{}) {
		if !f.HasValue() {
			return
		}
		var problem string
		switch schemaType(leaf) {
		case typeNumber, typeInteger:
			r.Checked++
			if _, ok := f.Value.(float64); !ok {
				problem = fmt.Sprintf("expected a number, got %q", fmt.Sprint(f.Value))
			} else if schemaType(leaf) == typeInteger && f.Value.(float64) != math.Trunc(f.Value.(float64)) {
				problem = fmt.Sprintf("expected an integer, got %v", f.Value)
			}
		case typeBoolean:
			r.Checked++
			if _, ok := f.Value.(bool); !ok {
				problem = fmt.Sprintf("expected a boolean, got %q", fmt.Sprint(f.Value))
			}
		case typeString:
			format, _ := leaf["format"].(string)
			if format != "date" && format != "date-time" {
				return
			}
			r.Checked++
			s, _ := f.Value.(string)
			if !parsesAsDate(s) {
				problem = fmt.Sprintf("expected a date, got %q", fmt.Sprint(f.Value))
			}
		}
		if problem != "" {
			r.Issues = append(r.Issues, document.Issue{
				FieldPath: path,
				Severity:  document.SeverityLow,
				Code:      document.IssueFormatInconsistency,
				Message:   problem,
			})
		}
	})
	return r
}

func parsesAsDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// walkSchema visits every field leaf together with its leaf schema.
func walkSchema(n *document.Node, schema map[string]interface{}, path string, fn func(string, *document.FieldResult, map[string]interface{})) {
	if n == nil {
		return
	}
	switch n.Kind {
	case document.KindField:
		fn(path, n.Field, schema)
	case document.KindObject:
		props := properties(schema)
		for _, k := range n.Keys() {
			walkSchema(n.Object[k], props[k], document.JoinPath(path, k), fn)
		}
	case document.KindList:
		items := itemsSchema(schema)
		for i, item := range n.List {
			walkSchema(item, items, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	}
}
