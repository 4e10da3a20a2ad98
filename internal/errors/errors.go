package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the document understanding worker
 *
 * Fatal conditions are ProcessingError values carrying the stage, retry
 * count and provider that were active when processing stopped. Recoverable
 * findings are recorded as document issues instead.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Pipeline stage failures
	ErrorOCRExhausted            ErrorCode = "OCR_EXHAUSTED"
	ErrorClassificationExhausted ErrorCode = "CLASSIFICATION_EXHAUSTED"
	ErrorSchemaNotFound          ErrorCode = "SCHEMA_NOT_FOUND"
	ErrorExtractionExhausted     ErrorCode = "EXTRACTION_EXHAUSTED"
	ErrorSchemaValidation        ErrorCode = "SCHEMA_VALIDATION_FAILED"

	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorCancelled         ErrorCode = "CANCELLED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrorStageFailed       ErrorCode = "STAGE_FAILED"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// Sentinels usable with errors.Is against any ProcessingError of the same code.
var (
	ErrOCRExhausted            = &ProcessingError{Code: ErrorOCRExhausted}
	ErrClassificationExhausted = &ProcessingError{Code: ErrorClassificationExhausted}
	ErrSchemaNotFound          = &ProcessingError{Code: ErrorSchemaNotFound}
	ErrExtractionExhausted     = &ProcessingError{Code: ErrorExtractionExhausted}
	ErrSchemaValidation        = &ProcessingError{Code: ErrorSchemaValidation}
	ErrProcessingTimeout       = &ProcessingError{Code: ErrorProcessingTimeout}
	ErrCancelled               = &ProcessingError{Code: ErrorCancelled}
	ErrUnsupportedFormat       = &ProcessingError{Code: ErrorUnsupportedFormat}
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code       ErrorCode
	Message    string
	JobID      string
	Stage      string
	Provider   string
	RetryCount int
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches any ProcessingError carrying the same code.
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Factory functions for common errors

func NewOCRExhaustedError(jobID string, pages int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRExhausted,
		Message:   fmt.Sprintf("No readable tokens produced from %d page(s)", pages),
		JobID:     jobID,
		Stage:     "ocr",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"page_count": pages,
		},
		Cause: cause,
	}
}

func NewClassificationExhaustedError(jobID string, retries int, provider string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorClassificationExhausted,
		Message:    "All classification providers exhausted",
		JobID:      jobID,
		Stage:      "classify",
		Provider:   provider,
		RetryCount: retries,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewSchemaNotFoundError(jobID string, documentType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorSchemaNotFound,
		Message:   fmt.Sprintf("No extraction schema registered for document type %q", documentType),
		JobID:     jobID,
		Stage:     "extract",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"document_type": documentType,
		},
	}
}

func NewExtractionExhaustedError(jobID string, chunks int, retries int, provider string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorExtractionExhausted,
		Message:    fmt.Sprintf("Extraction failed for all %d chunk(s)", chunks),
		JobID:      jobID,
		Stage:      "extract",
		Provider:   provider,
		RetryCount: retries,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"chunk_count": chunks,
		},
		Cause: cause,
	}
}

func NewSchemaValidationError(jobID string, critical int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorSchemaValidation,
		Message:   fmt.Sprintf("Value tree has %d critical validation error(s)", critical),
		JobID:     jobID,
		Stage:     "enrich",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"critical_count": critical,
		},
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewCancelledError(jobID string, stage string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorCancelled,
		Message:   fmt.Sprintf("Processing cancelled before stage %s", stage),
		JobID:     jobID,
		Stage:     stage,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Stage:     "ocr",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewInvalidRequestError(jobID string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidRequest,
		Message:   reason,
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}

// NewStageFailedError wraps an unexpected failure inside a stage.
func NewStageFailedError(jobID string, stage string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStageFailed,
		Message:   fmt.Sprintf("Stage %s failed", stage),
		JobID:     jobID,
		Stage:     stage,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// AsProcessingError unwraps err to the first ProcessingError in its chain.
func AsProcessingError(err error) (*ProcessingError, bool) {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsPermanent reports whether retrying the same document cannot succeed.
func IsPermanent(err error) bool {
	pe, ok := AsProcessingError(err)
	if !ok {
		return false
	}
	switch pe.Code {
	case ErrorOCRExhausted, ErrorSchemaNotFound, ErrorUnsupportedFormat,
		ErrorInvalidRequest, ErrorSchemaValidation:
		return true
	}
	return false
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code":  string(e.Code),
		"message":     e.Message,
		"timestamp":   e.Timestamp,
		"retry_count": e.RetryCount,
	}
	if e.Stage != "" {
		result["stage"] = e.Stage
	}
	if e.Provider != "" {
		result["provider"] = e.Provider
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
