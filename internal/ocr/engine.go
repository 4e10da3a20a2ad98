package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/otiai10/gosseract/v2"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/adverant/nexus/docintel-worker/internal/document"
)

// Engine recognizes the words of one page image.
type Engine interface {
	Recognize(ctx context.Context, pageImage []byte) ([]document.WordToken, error)
}

// TesseractEngine runs Tesseract through gosseract and reports word boxes.
type TesseractEngine struct {
	Language string
}

// NewTesseractEngine creates an engine for the given tesseract language.
func NewTesseractEngine(language string) *TesseractEngine {
	if language == "" {
		language = "eng"
	}
	return &TesseractEngine{Language: language}
}

// Recognize implements Engine. Tesseract confidences (0..100) are scaled to [0,1].
func (t *TesseractEngine) Recognize(ctx context.Context, pageImage []byte) ([]document.WordToken, error) {
	width, height, err := ImageSize(pageImage)
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.Language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImageFromBytes(pageImage); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := make([]document.WordToken, 0, len(boxes))
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		words = append(words, document.WordToken{
			Text: b.Word,
			Box: document.NewBoundingBox(
				float64(b.Box.Min.X), float64(b.Box.Min.Y),
				float64(b.Box.Max.X), float64(b.Box.Max.Y),
				float64(width), float64(height),
			),
			Confidence: b.Confidence / 100,
		})
	}
	return words, nil
}

// ImageSize decodes only the image header.
func ImageSize(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
