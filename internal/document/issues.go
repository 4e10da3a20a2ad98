package document

// Severity ranks validation findings.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Penalty is the accuracy weight of one finding of this severity.
func (s Severity) Penalty() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.7
	case SeverityMedium:
		return 0.4
	case SeverityLow:
		return 0.2
	}
	return 0
}

// Issue codes recorded in validationErrors.
const (
	IssueChunkMergeConflict    = "ChunkMergeConflict"
	IssueChunkExtractionFailed = "ChunkExtractionFailed"
	IssueBoundingBoxNotFound   = "BoundingBoxNotFound"
	IssueSchemaValidation      = "SchemaValidationError"
	IssueFormatInconsistency   = "FormatInconsistency"
	IssueUnexpectedField       = "UnexpectedField"
	IssueSumCorrected          = "NumericSumCorrected"
)

// Issue is a non-fatal finding attached to a field path.
type Issue struct {
	FieldPath string   `json:"fieldPath"`
	Severity  Severity `json:"severity"`
	Code      string   `json:"code"`
	Message   string   `json:"message"`
}

// CountBySeverity tallies issues.
func CountBySeverity(issues []Issue) map[Severity]int {
	out := make(map[Severity]int)
	for _, is := range issues {
		out[is.Severity]++
	}
	return out
}

// HasBlocking reports whether any CRITICAL or HIGH issue is present.
func HasBlocking(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityCritical || is.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// QualityBand buckets a quality score.
type QualityBand string

const (
	QualityExcellent QualityBand = "EXCELLENT"
	QualityGood      QualityBand = "GOOD"
	QualityFair      QualityBand = "FAIR"
	QualityPoor      QualityBand = "POOR"
)

// BandFor maps a score in [0,1] to its band.
func BandFor(score float64) QualityBand {
	switch {
	case score >= 0.9:
		return QualityExcellent
	case score >= 0.7:
		return QualityGood
	case score >= 0.5:
		return QualityFair
	}
	return QualityPoor
}
