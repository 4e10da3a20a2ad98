package enrich

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/adverant/nexus/docintel-worker/internal/document"
)

var quotedName = regexp.MustCompile(`['"]([^'"]+)['"]`)

// SchemaValidator checks value trees against one extraction schema.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles schema.
func NewSchemaValidator(schema map[string]interface{}) (*SchemaValidator, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &SchemaValidator{schema: compiled}, nil
}

// Validate returns one issue per violation. Missing required properties are
// CRITICAL; every other violation is HIGH.
func (v *SchemaValidator) Validate(tree *document.Node) ([]document.Issue, error) {
	data, err := json.Marshal(tree.Project())
	if err != nil {
		return nil, fmt.Errorf("marshal value tree: %w", err)
	}
	var instance interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("unmarshal value tree: %w", err)
	}

	err = v.schema.Validate(instance)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !stderrors.As(err, &ve) {
		return nil, fmt.Errorf("validate value tree: %w", err)
	}

	var issues []document.Issue
	for _, leaf := range leafErrors(ve) {
		path := instancePath(leaf.InstanceLocation)
		if strings.HasSuffix(leaf.KeywordLocation, "/required") {
			names := quotedName.FindAllStringSubmatch(leaf.Message, -1)
			for _, m := range names {
				issues = append(issues, document.Issue{
					FieldPath: document.JoinPath(path, m[1]),
					Severity:  document.SeverityCritical,
					Code:      document.IssueSchemaValidation,
					Message:   "required field is missing",
				})
			}
			if len(names) > 0 {
				continue
			}
			issues = append(issues, document.Issue{
				FieldPath: path,
				Severity:  document.SeverityCritical,
				Code:      document.IssueSchemaValidation,
				Message:   leaf.Message,
			})
			continue
		}
		issues = append(issues, document.Issue{
			FieldPath: path,
			Severity:  document.SeverityHigh,
			Code:      document.IssueSchemaValidation,
			Message:   leaf.Message,
		})
	}
	return issues, nil
}

func leafErrors(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leafErrors(c)...)
	}
	return out
}

// instancePath turns a JSON pointer such as /rows/0/value into rows[0].value.
func instancePath(pointer string) string {
	var path string
	for _, part := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		if part == "" {
			continue
		}
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		if isIndex(part) {
			path += "[" + part + "]"
			continue
		}
		path = document.JoinPath(path, part)
	}
	return path
}

func isIndex(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
