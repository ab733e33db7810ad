package scanning

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements the TextExtractor interface using a local Tesseract install
type Tesseract struct {
	languages []string
}

// NewTesseract creates a new Tesseract extractor for the given languages
func NewTesseract(languages ...string) *Tesseract {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Tesseract{languages: languages}
}

// ExtractText converts the document to PNG and runs Tesseract over it.
// A gosseract client is not safe for concurrent use, so one is created per call.
func (t *Tesseract) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	pngData, _, _, err := prepareImageData(data, contentType)
	if err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("setting tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(pngData); err != nil {
		return "", fmt.Errorf("loading image into tesseract: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("running tesseract: %w", err)
	}
	return finishText(text)
}

// Close is a no-op; clients are released per call
func (t *Tesseract) Close() error {
	return nil
}
