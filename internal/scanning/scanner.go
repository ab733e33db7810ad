package scanning

import (
	"context"
	"errors"
)

// ErrNoText is returned when OCR finishes but recognises nothing
var ErrNoText = errors.New("no text recognised in document")

// TextExtractor turns a scanned document into plain text
type TextExtractor interface {
	// ExtractText runs OCR over an image or PDF and returns the recognised text
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
	// Close releases any resources held by the extractor
	Close() error
}

// transcribePrompt is shared by the vision model extractors
const transcribePrompt = `You are reading a scanned utility bill or invoice. Transcribe every piece of text in the image exactly as printed, line by line, top to bottom.

Important:
- Keep numbers, units and dates exactly as written (e.g. "1,250 kWh", "March 5, 2024")
- Keep labels next to their values on the same line (e.g. "Electricity usage: 120 kWh")
- Do not summarise, translate, correct or explain anything
- Do not use markdown code blocks
- Output only the transcribed text`
