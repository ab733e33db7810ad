package scanning

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// chatter is the part of the Ollama API client used here
type chatter interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// Ollama implements the TextExtractor interface using an Ollama vision model
type Ollama struct {
	client chatter
	model  string
}

// NewOllama creates a new Ollama TextExtractor instance
// Recommended vision models for transcription:
//   - llava:1.6 (best balance of accuracy and speed)
//   - qwen2-vl:7b (good OCR capabilities)
//   - llava-phi3 (smaller, faster, but less accurate)
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}

	// Vision models can be slow on large scans
	hc := &http.Client{Timeout: 120 * time.Second}

	return &Ollama{
		client: api.NewClient(parsedURL, hc),
		model:  modelName,
	}, nil
}

// ExtractText asks the vision model to transcribe the document
func (o *Ollama) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	pngData, _, _, err := prepareImageData(data, contentType)
	if err != nil {
		return "", err
	}

	stream := false
	req := &api.ChatRequest{
		Model:  o.model,
		Stream: &stream,
		Messages: []api.Message{
			{
				Role:    "system",
				Content: "You are an expert at reading scanned bills and invoices. You transcribe text exactly as printed.",
			},
			{
				Role:    "user",
				Content: transcribePrompt,
				Images:  []api.ImageData{pngData},
			},
		},
	}

	var out strings.Builder
	err = o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}

	return finishText(out.String())
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
