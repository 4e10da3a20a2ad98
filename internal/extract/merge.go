package extract

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/adverant/nexus/docintel-worker/internal/document"
)

// Merge combines an earlier chunk result with a later one.
//
//   - A non-null value beats a null one.
//   - Two differing non-null scalars: the later one wins when its confidence
//     is equal or higher, otherwise the earlier one is kept. Either way a
//     MEDIUM ChunkMergeConflict is returned.
//   - Objects merge key by key.
//   - Lists are concatenated and de-duplicated by (value, verbatim text).
//
// Neither input is modified, and Merge(x, x) equals x for any x without
// duplicate list items.
func Merge(earlier, later *document.Node) (*document.Node, []document.Issue) {
	var issues []document.Issue
	out := merge(earlier, later, "", &issues)
	return out, issues
}

// MergeAll folds chunk results in chunk order.
func MergeAll(results []*document.Node) (*document.Node, []document.Issue) {
	var acc *document.Node
	var issues []document.Issue
	for _, r := range results {
		if r == nil {
			continue
		}
		var found []document.Issue
		acc, found = Merge(acc, r)
		issues = append(issues, found...)
	}
	return acc, issues
}

func merge(e, l *document.Node, path string, issues *[]document.Issue) *document.Node {
	switch {
	case isEmpty(l):
		if e == nil {
			return l.Clone()
		}
		return e.Clone()
	case isEmpty(e):
		return l.Clone()
	}

	if e.Kind != l.Kind {
		*issues = append(*issues, conflict(path, fmt.Sprintf("chunks disagree on the shape of the field (%s vs %s); kept the earlier %s", e.Kind, l.Kind, e.Kind)))
		return e.Clone()
	}

	switch e.Kind {
	case document.KindObject:
		children := make(map[string]*document.Node, len(e.Object))
		for k, v := range e.Object {
			children[k] = v
		}
		for _, k := range l.Keys() {
			children[k] = merge(e.Object[k], l.Object[k], document.JoinPath(path, k), issues)
		}
		for k, v := range children {
			if _, inLater := l.Object[k]; !inLater {
				children[k] = v.Clone()
			}
		}
		return document.ObjectNode(children)

	case document.KindList:
		return mergeLists(e.List, l.List)

	case document.KindField:
		return mergeField(e.Field, l.Field, path, issues)
	}
	return document.NullNode()
}

// isEmpty is true for null nodes and valueless leaves.
func isEmpty(n *document.Node) bool {
	if n.IsNull() {
		return true
	}
	return n.Kind == document.KindField && !n.Field.HasValue() && n.Field.VerbatimText == nil
}

func mergeField(e, l *document.FieldResult, path string, issues *[]document.Issue) *document.Node {
	if !l.HasValue() {
		return document.FieldNode(e).Clone()
	}
	if !e.HasValue() {
		return document.FieldNode(l).Clone()
	}

	if ValuesEqual(e.Value, l.Value) {
		if l.Confidence.Rank() > e.Confidence.Rank() {
			return document.FieldNode(l).Clone()
		}
		return document.FieldNode(e).Clone()
	}

	kept := e
	if l.Confidence.Rank() >= e.Confidence.Rank() {
		kept = l
	}
	*issues = append(*issues, conflict(path, fmt.Sprintf("chunks proposed %v (%s) and %v (%s); kept %v",
		e.Value, e.Confidence, l.Value, l.Confidence, kept.Value)))
	return document.FieldNode(kept).Clone()
}

func mergeLists(e, l []*document.Node) *document.Node {
	seen := make(map[string]struct{}, len(e)+len(l))
	items := make([]*document.Node, 0, len(e)+len(l))
	for _, group := range [][]*document.Node{e, l} {
		for _, item := range group {
			key := identity(item)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			items = append(items, item.Clone())
		}
	}
	return document.ListNode(items)
}

// identity keys a list item by its values and verbatim texts, ignoring
// confidence and provenance.
func identity(n *document.Node) string {
	var sb strings.Builder
	writeIdentity(&sb, n)
	return sb.String()
}

func writeIdentity(sb *strings.Builder, n *document.Node) {
	if n.IsNull() {
		sb.WriteString("null")
		return
	}
	switch n.Kind {
	case document.KindField:
		v, _ := json.Marshal(normalizeValue(n.Field.Value))
		sb.Write(v)
		sb.WriteByte('|')
		sb.WriteString(strings.ToLower(n.Field.Verbatim()))
	case document.KindObject:
		sb.WriteByte('{')
		for _, k := range n.Keys() {
			sb.WriteString(k)
			sb.WriteByte(':')
			writeIdentity(sb, n.Object[k])
			sb.WriteByte(',')
		}
		sb.WriteByte('}')
	case document.KindList:
		sb.WriteByte('[')
		for _, item := range n.List {
			writeIdentity(sb, item)
			sb.WriteByte(',')
		}
		sb.WriteByte(']')
	}
}

func conflict(path, msg string) document.Issue {
	return document.Issue{
		FieldPath: path,
		Severity:  document.SeverityMedium,
		Code:      document.IssueChunkMergeConflict,
		Message:   msg,
	}
}

// ValuesEqual compares two leaf values, treating numbers numerically and
// strings case- and space-insensitively.
func ValuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if f, ok := ParseNumber(t); ok {
			return f
		}
		return strings.ToLower(strings.Join(strings.Fields(t), " "))
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}
