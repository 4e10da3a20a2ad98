/**
 * Document model shared by every pipeline stage
 *
 * A Context is owned by exactly one stage at a time. Pages are written by
 * OCR and never modified afterwards; later stages only add derived data.
 */

package document

import (
	"fmt"
	"strings"
	"time"
)

// ClassificationState tells whether the type was supplied or inferred.
type ClassificationState string

const (
	StatePreclassified ClassificationState = "PRECLASSIFIED"
	StateInferred      ClassificationState = "INFERRED"
)

// Modality selects which content is sent to a language model.
type Modality string

const (
	ModalityTextual Modality = "TEXTUAL"
	ModalityVision  Modality = "VISION"
)

// BoundingBox is a rectangle with every coordinate normalized to [0,1].
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// String renders the box-string form "left,top,width,height".
func (b BoundingBox) String() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b.Left, b.Top, b.Width, b.Height)
}

// Right edge.
func (b BoundingBox) Right() float64 { return b.Left + b.Width }

// Bottom edge.
func (b BoundingBox) Bottom() float64 { return b.Top + b.Height }

// CenterY is the vertical center.
func (b BoundingBox) CenterY() float64 { return b.Top + b.Height/2 }

// CenterX is the horizontal center.
func (b BoundingBox) CenterX() float64 { return b.Left + b.Width/2 }

// NewBoundingBox builds a normalized box from pixel/point coordinates,
// clamping into the unit square.
func NewBoundingBox(x0, y0, x1, y1, pageWidth, pageHeight float64) BoundingBox {
	if pageWidth <= 0 || pageHeight <= 0 {
		return BoundingBox{}
	}
	left := clamp01(x0 / pageWidth)
	top := clamp01(y0 / pageHeight)
	right := clamp01(x1 / pageWidth)
	bottom := clamp01(y1 / pageHeight)
	if right < left {
		right = left
	}
	if bottom < top {
		bottom = top
	}
	return BoundingBox{Left: left, Top: top, Width: right - left, Height: bottom - top}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// WordToken is the smallest located unit of text.
type WordToken struct {
	Text          string      `json:"text"`
	Box           BoundingBox `json:"box"`
	Confidence    float64     `json:"confidence"`
	LowConfidence bool        `json:"lowConfidence,omitempty"`
}

// PageLayout holds what the normalizer derives for one page.
type PageLayout struct {
	// Order is a permutation of indexes into PageRecord.Words in reading order.
	Order []int `json:"order"`
	// Boilerplate[i] is true when Words[i] belongs to a repeating header or footer.
	Boilerplate []bool `json:"boilerplate"`
	Columns     int    `json:"columns"`
}

// PageRecord is one page as produced by OCR.
type PageRecord struct {
	PageNumber int         `json:"pageNumber"`
	RawText    string      `json:"rawText"`
	Words      []WordToken `json:"words"`
	Text       string      `json:"text,omitempty"`
	Layout     *PageLayout `json:"layout,omitempty"`
}

// OrderedWords returns the page tokens in reading order, falling back to OCR order.
func (p *PageRecord) OrderedWords() []WordToken {
	if p.Layout == nil || len(p.Layout.Order) != len(p.Words) {
		return p.Words
	}
	out := make([]WordToken, len(p.Words))
	for i, idx := range p.Layout.Order {
		out[i] = p.Words[idx]
	}
	return out
}

// Event is one entry of the processing log kept with the document.
type Event struct {
	Time    time.Time              `json:"timestamp"`
	Level   string                 `json:"level"`
	Stage   string                 `json:"stage"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Context is the single mutable record carried through the pipeline.
type Context struct {
	DocumentID     string `json:"documentId"`
	TaskID         string `json:"taskId"`
	RawStoragePath string `json:"rawStoragePath,omitempty"`
	Filename       string `json:"filename,omitempty"`
	MimeType       string `json:"mimeType,omitempty"`

	// Content is the raw file. It is released after OCR.
	Content []byte `json:"-"`

	Pages      []PageRecord `json:"pages"`
	PageImages [][]byte     `json:"-"`
	IsScanned  bool         `json:"isScanned"`

	NormalizedText string `json:"normalizedText"`

	PredefinedType           string              `json:"predefinedType,omitempty"`
	DocumentType             string              `json:"documentType,omitempty"`
	ClassificationConfidence float64             `json:"classificationConfidence"`
	ClassificationState      ClassificationState `json:"classificationState,omitempty"`
	Modality                 Modality            `json:"modality,omitempty"`

	ExtractionSchema map[string]interface{} `json:"extractionSchema,omitempty"`
	ValueTree        *Node                  `json:"valueTree,omitempty"`
	ValidationErrors []Issue                `json:"validationErrors"`
	QualityScore     float64                `json:"qualityScore"`
	QualityBand      QualityBand            `json:"qualityBand,omitempty"`
	EnrichmentRate   float64                `json:"enrichmentRate"`

	RetryCount   int    `json:"retryCount"`
	ProviderUsed string `json:"providerUsed,omitempty"`
	LastStage    string `json:"lastStage,omitempty"`

	Metadata map[string]interface{} `json:"metadata"`
	Events   []Event                `json:"events"`
}

// NewContext creates an empty context for one document.
func NewContext(documentID, taskID string) *Context {
	return &Context{
		DocumentID: documentID,
		TaskID:     taskID,
		Metadata:   make(map[string]interface{}),
	}
}

// Log appends an event to the document's processing log.
func (c *Context) Log(level, stage, message string, details map[string]interface{}) {
	c.Events = append(c.Events, Event{
		Time:    time.Now().UTC(),
		Level:   level,
		Stage:   stage,
		Message: message,
		Details: details,
	})
}

// AddIssues records validation findings.
func (c *Context) AddIssues(issues ...Issue) {
	c.ValidationErrors = append(c.ValidationErrors, issues...)
}

// SetMeta stores a metadata value.
func (c *Context) SetMeta(key string, value interface{}) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]interface{})
	}
	c.Metadata[key] = value
}

// TokenCount counts tokens over all pages.
func (c *Context) TokenCount() int {
	n := 0
	for i := range c.Pages {
		n += len(c.Pages[i].Words)
	}
	return n
}

// PageText joins the normalized text of all pages, or the raw text of
// pages that were never normalized.
func (c *Context) PageText() string {
	parts := make([]string, 0, len(c.Pages))
	for i := range c.Pages {
		t := c.Pages[i].Text
		if c.Pages[i].Layout == nil {
			t = c.Pages[i].RawText
		}
		if strings.TrimSpace(t) != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}
