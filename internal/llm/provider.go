/**
 * Language model access for classification and extraction
 *
 * Every model vendor sits behind Provider. The Invoker applies the same
 * retry, backoff, timeout and fail-over policy to all of them, so the
 * stages that call it never know which vendor answered.
 */

package llm

import (
	"context"
	"regexp"
	"strings"
)

// Image is one page image attached to a request.
type Image struct {
	MimeType string
	Data     []byte
}

// Request is a single prompt sent to a provider.
type Request struct {
	System    string
	Prompt    string
	Images    []Image
	MaxTokens int
	// JSON asks the provider for a JSON-only response where supported.
	JSON bool
}

// Provider is one language model vendor.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// StripCodeFences removes a surrounding markdown code fence.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
