/**
 * Document type catalog
 *
 * The catalog is the configuration collaborator of the pipeline: it names
 * the document types a classifier may answer with and holds one extraction
 * schema per type. Stages query it on every document instead of caching it.
 */

package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrSchemaNotFound is returned when a type has no extraction schema.
var ErrSchemaNotFound = errors.New("catalog: extraction schema not found")

// DocumentType is one catalog entry.
type DocumentType struct {
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`
}

// Provider exposes the catalog to pipeline stages.
type Provider interface {
	DocumentTypes(ctx context.Context) ([]DocumentType, error)
	Schema(ctx context.Context, documentType string) (map[string]interface{}, error)
}

// Match resolves a free-form answer to a catalog name. It ignores case,
// surrounding quotes and punctuation, and a leading "type:" style label.
func Match(types []DocumentType, answer string) (string, bool) {
	candidate := cleanAnswer(answer)
	if candidate == "" {
		return "", false
	}
	for _, t := range types {
		if strings.EqualFold(t.Name, candidate) {
			return t.Name, true
		}
	}
	// Answers such as "Capital Call" for "CapitalCall".
	squashed := strings.ReplaceAll(candidate, " ", "")
	for _, t := range types {
		if strings.EqualFold(strings.ReplaceAll(t.Name, " ", ""), squashed) {
			return t.Name, true
		}
	}
	return "", false
}

func cleanAnswer(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return strings.Trim(strings.TrimSpace(s), "\"'`*.")
}

// Names lists type names sorted.
func Names(types []DocumentType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.Name
	}
	sort.Strings(out)
	return out
}

// Static is an in-memory catalog.
type Static struct {
	Types   []DocumentType
	Schemas map[string]map[string]interface{}
}

// DocumentTypes implements Provider.
func (s *Static) DocumentTypes(ctx context.Context) ([]DocumentType, error) {
	return append([]DocumentType(nil), s.Types...), nil
}

// Schema implements Provider.
func (s *Static) Schema(ctx context.Context, documentType string) (map[string]interface{}, error) {
	schema, ok := s.Schemas[documentType]
	if !ok {
		return nil, ErrSchemaNotFound
	}
	return schema, nil
}
