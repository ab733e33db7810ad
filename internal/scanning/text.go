package scanning

import (
	"regexp"
	"strings"
)

var (
	reTrailingSpace = regexp.MustCompile(`[ \t]+\n`)
	reBlankRuns     = regexp.MustCompile(`\n{3,}`)
)

// cleanText normalises OCR or model output: line endings, code fences,
// trailing whitespace and runs of blank lines
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	text = reTrailingSpace.ReplaceAllString(text, "\n")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// finishText cleans text and reports ErrNoText when nothing is left
func finishText(text string) (string, error) {
	text = cleanText(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}
