package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
)

// TypeProcessDocument is the asynq task type for one document.
const TypeProcessDocument = "document:process"

// Job is the task payload.
type Job struct {
	DocumentID   string                 `json:"documentId"`
	TaskID       string                 `json:"taskId,omitempty"`
	Filename     string                 `json:"filename,omitempty"`
	MimeType     string                 `json:"mimeType,omitempty"`
	StoragePath  string                 `json:"storagePath,omitempty"`
	Content      []byte                 `json:"-"`
	DocumentType string                 `json:"documentType,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// MarshalJSON writes Content as base64.
func (j Job) MarshalJSON() ([]byte, error) {
	type alias Job
	aux := struct {
		alias
		Content string `json:"content,omitempty"`
	}{alias: alias(j)}
	if len(j.Content) > 0 {
		aux.Content = base64.StdEncoding.EncodeToString(j.Content)
	}
	return json.Marshal(aux)
}

// UnmarshalJSON accepts content either as a base64 string or as a Node.js
// Buffer object ({"type":"Buffer","data":[...]}) from TypeScript producers.
func (j *Job) UnmarshalJSON(data []byte) error {
	type alias Job
	aux := &struct {
		*alias
		Content interface{} `json:"content,omitempty"`
	}{alias: (*alias)(j)}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	switch v := aux.Content.(type) {
	case nil:
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 content: %w", err)
		}
		j.Content = decoded
	case map[string]interface{}:
		if t, _ := v["type"].(string); t != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		arr, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		j.Content = make([]byte, len(arr))
		for i, val := range arr {
			b, ok := val.(float64)
			if !ok || b < 0 || b > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			j.Content[i] = byte(b)
		}
	default:
		return fmt.Errorf("content must be either base64 string or Buffer object, got %T", v)
	}
	return nil
}

// Request converts the job into a pipeline request.
func (j Job) Request() pipeline.Request {
	return pipeline.Request{
		DocumentID:   j.DocumentID,
		TaskID:       j.TaskID,
		Filename:     j.Filename,
		MimeType:     j.MimeType,
		StoragePath:  j.StoragePath,
		Content:      j.Content,
		DocumentType: j.DocumentType,
		Metadata:     j.Metadata,
	}
}
