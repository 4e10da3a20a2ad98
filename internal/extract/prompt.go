package extract

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are an expert data extraction specialist for financial documents. " +
	"Return only a valid JSON object that follows the schema you are given."

// BuildPrompt builds the extraction prompt for one chunk.
func BuildPrompt(documentType string, schemaJSON []byte, text string, chunk, chunks int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract structured data from the following %s document according to the JSON schema.\n\n", documentType)
	sb.WriteString("Requirements:\n")
	sb.WriteString("1. Include every property defined in the schema. Use null for values that are not in the document.\n")
	sb.WriteString("2. Write every leaf as {\"value\": ..., \"confidence\": \"HIGH|MEDIUM|LOW\", \"verbatimText\": \"...\"}.\n")
	sb.WriteString("3. verbatimText is the exact snippet of the document the value comes from, never a whole paragraph.\n")
	sb.WriteString("4. Keep dates, numbers and identifiers as they appear in verbatimText; put the plain value in value.\n")
	sb.WriteString("5. For tables, extract every row as a separate array item.\n")
	sb.WriteString("6. Do not invent information.\n")
	if chunks > 1 {
		fmt.Fprintf(&sb, "\nThis is part %d of %d of a longer document. Extract everything present in this part.\n", chunk+1, chunks)
	}
	fmt.Fprintf(&sb, "\nJSON schema:\n%s\n", schemaJSON)
	fmt.Fprintf(&sb, "\nDocument content:\n---\n%s\n---\n", text)
	sb.WriteString("\nRespond with ONLY the JSON object.")
	return sb.String()
}
