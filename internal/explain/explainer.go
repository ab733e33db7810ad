// Package explain turns an emission result into a short plain-English summary
// with reduction tips, using a chat model.
package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/agentcarbon/internal/billing"
	"github.com/zombor/agentcarbon/internal/emission"
	"github.com/zombor/agentcarbon/internal/history"
)

// Explainer produces a natural-language explanation of one processed bill
type Explainer interface {
	Explain(ctx context.Context, fields billing.Fields, emissions emission.Record, past []history.Entry) (string, error)
	Close() error
}

const systemPrompt = "You are AgentCarbon, an expert sustainability assistant. " +
	"You receive extracted invoice fields and carbon emissions. " +
	"Explain the results in simple English and give 2-3 specific, practical " +
	"suggestions to reduce emissions. Do not change any numeric values."

// userPrompt renders the request the model answers
func userPrompt(fields billing.Fields, emissions emission.Record, past []history.Entry) (string, error) {
	if past == nil {
		past = []history.Entry{}
	}
	f, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshaling fields: %w", err)
	}
	e, err := json.Marshal(emissions)
	if err != nil {
		return "", fmt.Errorf("marshaling emissions: %w", err)
	}
	h, err := json.Marshal(past)
	if err != nil {
		return "", fmt.Errorf("marshaling history: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current fields: %s\n", f)
	fmt.Fprintf(&b, "Current emissions: %s\n", e)
	fmt.Fprintf(&b, "Past records (may be empty): %s\n\n", h)
	b.WriteString("1) Briefly summarize this bill's emissions.\n")
	b.WriteString("2) Mention if emissions seem higher or lower than usual based on history.\n")
	b.WriteString("3) Give 2-3 concrete tips to reduce future emissions.")
	return b.String(), nil
}
