package extract

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/adverant/nexus/docintel-worker/internal/document"
)

// Schema type names used when walking an extraction schema.
const (
	typeObject  = "object"
	typeArray   = "array"
	typeString  = "string"
	typeNumber  = "number"
	typeInteger = "integer"
	typeBoolean = "boolean"
	typeAny     = ""
)

// schemaType returns the first non-null type of a schema node, inferring
// object and array from properties and items.
func schemaType(schema map[string]interface{}) string {
	switch t := schema["type"].(type) {
	case string:
		return t
	case []interface{}:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return s
			}
		}
	}
	if _, ok := schema["properties"]; ok {
		return typeObject
	}
	if _, ok := schema["items"]; ok {
		return typeArray
	}
	return typeAny
}

func properties(schema map[string]interface{}) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	props, _ := schema["properties"].(map[string]interface{})
	for name, sub := range props {
		if m, ok := sub.(map[string]interface{}); ok {
			out[name] = m
		} else {
			out[name] = map[string]interface{}{}
		}
	}
	return out
}

func itemsSchema(schema map[string]interface{}) map[string]interface{} {
	if m, ok := schema["items"].(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// BuildTree converts a decoded model response into a value tree shaped by
// the schema. Keys outside the schema are dropped and reported, missing
// fields become null leaves.
func BuildTree(schema map[string]interface{}, raw interface{}) (*document.Node, []document.Issue) {
	b := &treeBuilder{}
	node := b.build(schema, raw, "")
	return node, b.issues
}

type treeBuilder struct {
	issues []document.Issue
}

func (b *treeBuilder) build(schema map[string]interface{}, raw interface{}, path string) *document.Node {
	switch schemaType(schema) {
	case typeObject:
		return b.object(schema, raw, path)
	case typeArray:
		return b.list(schema, raw, path)
	default:
		return b.field(schema, raw, path)
	}
}

func (b *treeBuilder) object(schema map[string]interface{}, raw interface{}, path string) *document.Node {
	obj, _ := unwrapValue(raw).(map[string]interface{})
	props := properties(schema)
	children := make(map[string]*document.Node, len(props))
	for name, sub := range props {
		children[name] = b.build(sub, lookupKey(obj, name), document.JoinPath(path, name))
	}

	var unknown []string
	for key := range obj {
		if _, ok := props[key]; !ok && matchKey(props, key) == "" {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		b.issues = append(b.issues, document.Issue{
			FieldPath: document.JoinPath(path, key),
			Severity:  document.SeverityInfo,
			Code:      document.IssueUnexpectedField,
			Message:   "field is not part of the extraction schema and was dropped",
		})
	}
	return document.ObjectNode(children)
}

func (b *treeBuilder) list(schema map[string]interface{}, raw interface{}, path string) *document.Node {
	items, _ := unwrapValue(raw).([]interface{})
	sub := itemsSchema(schema)
	nodes := make([]*document.Node, 0, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		nodes = append(nodes, b.build(sub, item, fmt.Sprintf("%s[%d]", path, i)))
	}
	return document.ListNode(nodes)
}

func (b *treeBuilder) field(schema map[string]interface{}, raw interface{}, path string) *document.Node {
	f := &document.FieldResult{Confidence: document.ConfidenceUnknown}
	value := raw
	if m, ok := raw.(map[string]interface{}); ok && isFieldObject(m) {
		value = firstKey(m, "value", "Value")
		if c := firstKey(m, "confidence", "confidenceLevel", "ConfidenceLevel", "confidenceScore", "ConfidenceScore", "Confidence"); c != nil {
			f.Confidence = document.ParseConfidence(c)
		}
		if v, ok := firstKey(m, "verbatimText", "VerbatimText", "verbatim_text", "verbatim").(string); ok && strings.TrimSpace(v) != "" {
			vt := strings.TrimSpace(v)
			f.VerbatimText = &vt
		}
	}

	typ := schemaType(schema)
	f.Value = coerce(typ, value)
	if typ == typeNumber || typ == typeInteger {
		b.correctSum(f, typ, path)
	}
	return document.FieldNode(f)
}

func isFieldObject(m map[string]interface{}) bool {
	_, lower := m["value"]
	_, upper := m["Value"]
	return lower || upper
}

// unwrapValue accepts a container wrapped as {"value": ...}.
func unwrapValue(raw interface{}) interface{} {
	if m, ok := raw.(map[string]interface{}); ok && isFieldObject(m) && len(m) <= 3 {
		inner := firstKey(m, "value", "Value")
		switch inner.(type) {
		case map[string]interface{}, []interface{}:
			return inner
		}
	}
	return raw
}

func firstKey(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

// lookupKey finds name in obj, falling back to a case-insensitive match.
func lookupKey(obj map[string]interface{}, name string) interface{} {
	if obj == nil {
		return nil
	}
	if v, ok := obj[name]; ok {
		return v
	}
	for k, v := range obj {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

func matchKey(props map[string]map[string]interface{}, key string) string {
	for name := range props {
		if strings.EqualFold(name, key) {
			return name
		}
	}
	return ""
}

var numericNoise = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", ",", "", " ", "", "\u00a0", "")

// ParseNumber leniently parses amounts such as "$1,234.50", "(200.00)" or
// "USD 12,889.47".
func ParseNumber(s string) (float64, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, false
	}
	negative := false
	if strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") {
		negative = true
		t = t[1 : len(t)-1]
	}
	t = strings.TrimSpace(t)
	for _, code := range []string{"USD", "EUR", "GBP", "CHF", "JPY", "CAD", "AUD"} {
		if len(t) >= len(code) && strings.EqualFold(t[:len(code)], code) {
			t = t[len(code):]
		}
		if len(t) >= len(code) && strings.EqualFold(t[len(t)-len(code):], code) {
			t = t[:len(t)-len(code)]
		}
	}
	t = strings.TrimSuffix(numericNoise.Replace(t), "%")
	f, err := strconv.ParseFloat(t, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

// coerce converts a raw value toward the schema type. Values that cannot be
// converted are kept so schema validation can report them.
func coerce(typ string, v interface{}) interface{} {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
			return nil
		}
		v = s
	}
	switch typ {
	case typeNumber, typeInteger:
		if s, ok := v.(string); ok {
			if f, ok := ParseNumber(s); ok {
				return f
			}
		}
	case typeBoolean:
		if s, ok := v.(string); ok {
			switch strings.ToLower(s) {
			case "true", "yes", "y":
				return true
			case "false", "no", "n":
				return false
			}
		}
	case typeString:
		switch t := v.(type) {
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		}
	}
	return v
}

var (
	listSeparator = regexp.MustCompile(`\s*[;,]\s+`)
	decimalPart   = regexp.MustCompile(`\.(\d+)$`)
)

// correctSum replaces a numeric value by the sum of the numbers listed in
// its verbatim text ("100.50, 200.25") when the two disagree.
func (b *treeBuilder) correctSum(f *document.FieldResult, typ, path string) {
	value, ok := f.Value.(float64)
	if !ok || f.VerbatimText == nil {
		return
	}
	parts := listSeparator.Split(*f.VerbatimText, -1)
	if len(parts) < 2 {
		return
	}
	sum, decimals := 0.0, 0
	for _, p := range parts {
		n, ok := ParseNumber(p)
		if !ok {
			return
		}
		sum += n
		if m := decimalPart.FindStringSubmatch(strings.TrimRight(strings.TrimSpace(p), ")")); m != nil && len(m[1]) > decimals {
			decimals = len(m[1])
		}
	}
	if math.Abs(value-sum) <= 0.01 {
		return
	}
	if typ == typeInteger || decimals == 0 {
		sum = math.Round(sum)
	} else {
		scale := math.Pow(10, float64(decimals))
		sum = math.Round(sum*scale) / scale
	}
	f.Value = sum
	b.issues = append(b.issues, document.Issue{
		FieldPath: path,
		Severity:  document.SeverityInfo,
		Code:      document.IssueSumCorrected,
		Message:   fmt.Sprintf("value %v replaced by the sum %v of the listed amounts", value, sum),
	})
}
