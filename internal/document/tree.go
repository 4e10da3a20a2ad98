package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ConfidenceLevel is the model's self-reported confidence for a field.
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "HIGH"
	ConfidenceMedium  ConfidenceLevel = "MEDIUM"
	ConfidenceLow     ConfidenceLevel = "LOW"
	ConfidenceUnknown ConfidenceLevel = "UNKNOWN"
)

// Rank orders confidence levels, higher is more confident.
func (c ConfidenceLevel) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// ParseConfidence accepts level names or numeric scores.
func ParseConfidence(v interface{}) ConfidenceLevel {
	switch t := v.(type) {
	case string:
		switch ConfidenceLevel(normalizeLevel(t)) {
		case ConfidenceHigh:
			return ConfidenceHigh
		case ConfidenceMedium:
			return ConfidenceMedium
		case ConfidenceLow:
			return ConfidenceLow
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return ConfidenceFromScore(f)
		}
	case float64:
		return ConfidenceFromScore(t)
	case int:
		return ConfidenceFromScore(float64(t))
	}
	return ConfidenceUnknown
}

// ConfidenceFromScore maps a numeric score in [0,1] to a level.
func ConfidenceFromScore(f float64) ConfidenceLevel {
	switch {
	case f >= 0.9:
		return ConfidenceHigh
	case f >= 0.8:
		return ConfidenceMedium
	case f > 0:
		return ConfidenceLow
	}
	return ConfidenceUnknown
}

func normalizeLevel(s string) string {
	b := []byte(s)
	out := b[:0]
	for _, c := range b {
		if c == ' ' || c == '\t' || c == '"' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// FieldResult is one extracted leaf value with its provenance.
type FieldResult struct {
	Value         interface{}     `json:"value"`
	Confidence    ConfidenceLevel `json:"confidenceLevel"`
	VerbatimText  *string         `json:"verbatimText"`
	BoundingBoxes []string        `json:"boundingBoxes"`
	PageNumber    *int            `json:"pageNumber"`
	MatchStrategy string          `json:"matchStrategy,omitempty"`
}

// HasValue reports whether the leaf carries a non-null value.
func (f *FieldResult) HasValue() bool {
	return f != nil && f.Value != nil
}

// Verbatim returns the verbatim text or "".
func (f *FieldResult) Verbatim() string {
	if f == nil || f.VerbatimText == nil {
		return ""
	}
	return *f.VerbatimText
}

// Located reports whether provenance was found for the leaf.
func (f *FieldResult) Located() bool {
	return f != nil && len(f.BoundingBoxes) > 0 && f.PageNumber != nil
}

// SetLocation records boxes and page together.
func (f *FieldResult) SetLocation(boxes []string, page int, strategy string) {
	f.BoundingBoxes = boxes
	p := page
	f.PageNumber = &p
	f.MatchStrategy = strategy
}

// Kind tags the variant held by a Node.
type Kind int

const (
	KindNull Kind = iota
	KindField
	KindObject
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	}
	return "null"
}

// Node is a value tree node: null, a field leaf, an object or a list.
type Node struct {
	Kind   Kind
	Field  *FieldResult
	Object map[string]*Node
	List   []*Node
}

// NullNode returns a null node.
func NullNode() *Node { return &Node{Kind: KindNull} }

// FieldNode wraps a field result.
func FieldNode(f *FieldResult) *Node { return &Node{Kind: KindField, Field: f} }

// ObjectNode wraps children.
func ObjectNode(children map[string]*Node) *Node {
	if children == nil {
		children = make(map[string]*Node)
	}
	return &Node{Kind: KindObject, Object: children}
}

// ListNode wraps items.
func ListNode(items []*Node) *Node {
	if items == nil {
		items = []*Node{}
	}
	return &Node{Kind: KindList, List: items}
}

// IsNull treats a missing node as null.
func (n *Node) IsNull() bool { return n == nil || n.Kind == KindNull }

// Keys returns object keys in sorted order.
func (n *Node) Keys() []string {
	if n == nil || n.Kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(n.Object))
	for k := range n.Object {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindField:
		f := *n.Field
		if n.Field.VerbatimText != nil {
			v := *n.Field.VerbatimText
			f.VerbatimText = &v
		}
		if n.Field.PageNumber != nil {
			p := *n.Field.PageNumber
			f.PageNumber = &p
		}
		if n.Field.BoundingBoxes != nil {
			f.BoundingBoxes = append([]string(nil), n.Field.BoundingBoxes...)
		}
		return FieldNode(&f)
	case KindObject:
		children := make(map[string]*Node, len(n.Object))
		for k, v := range n.Object {
			children[k] = v.Clone()
		}
		return ObjectNode(children)
	case KindList:
		items := make([]*Node, len(n.List))
		for i, v := range n.List {
			items[i] = v.Clone()
		}
		return ListNode(items)
	}
	return NullNode()
}

// Leaf is a field reached while walking the tree.
type Leaf struct {
	Path  string
	Field *FieldResult
}

// Leaves returns every field leaf with its path, in deterministic order.
func (n *Node) Leaves() []Leaf {
	var out []Leaf
	n.walk("", func(path string, f *FieldResult) {
		out = append(out, Leaf{Path: path, Field: f})
	})
	return out
}

func (n *Node) walk(path string, fn func(string, *FieldResult)) {
	if n == nil {
		return
	}
	switch n.Kind {
	case KindField:
		fn(path, n.Field)
	case KindObject:
		for _, k := range n.Keys() {
			n.Object[k].walk(JoinPath(path, k), fn)
		}
	case KindList:
		for i, item := range n.List {
			item.walk(fmt.Sprintf("%s[%d]", path, i), fn)
		}
	}
}

// JoinPath appends a key to a dotted field path.
func JoinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// Project returns the plain value form of the tree: objects become maps,
// lists slices and leaves their values. Null leaves are omitted from objects.
func (n *Node) Project() interface{} {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindField:
		return n.Field.Value
	case KindObject:
		out := make(map[string]interface{}, len(n.Object))
		for k, v := range n.Object {
			if v.IsNull() || (v.Kind == KindField && !v.Field.HasValue()) {
				continue
			}
			out[k] = v.Project()
		}
		return out
	case KindList:
		out := make([]interface{}, 0, len(n.List))
		for _, v := range n.List {
			out = append(out, v.Project())
		}
		return out
	}
	return nil
}

// MarshalJSON renders objects and lists structurally and leaves as field objects.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	switch n.Kind {
	case KindField:
		return json.Marshal(n.Field)
	case KindObject:
		return json.Marshal(n.Object)
	case KindList:
		return json.Marshal(n.List)
	}
	return []byte("null"), nil
}
