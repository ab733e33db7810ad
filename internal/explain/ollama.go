package explain

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/zombor/agentcarbon/internal/billing"
	"github.com/zombor/agentcarbon/internal/emission"
	"github.com/zombor/agentcarbon/internal/history"
)

type chatter interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// Ollama explains results with a local Ollama chat model
type Ollama struct {
	client chatter
	model  string
}

// NewOllama creates an Ollama explainer. Empty arguments fall back to a local llama3.
func NewOllama(baseURL, model string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	hc := &http.Client{Timeout: 120 * time.Second}
	return &Ollama{client: api.NewClient(parsedURL, hc), model: model}, nil
}

// Explain sends the results to the chat model and returns its answer
func (o *Ollama) Explain(ctx context.Context, fields billing.Fields, emissions emission.Record, past []history.Entry) (string, error) {
	prompt, err := userPrompt(fields, emissions, past)
	if err != nil {
		return "", err
	}

	stream := false
	req := &api.ChatRequest{
		Model:  o.model,
		Stream: &stream,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}

	var out strings.Builder
	if err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	}); err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
