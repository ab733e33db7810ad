// Package invoice sequences OCR, extraction, emission estimation,
// persistence, forecasting and explanation for one uploaded bill, and
// serves the result over HTTP.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zombor/agentcarbon/internal/billing"
	"github.com/zombor/agentcarbon/internal/emission"
	"github.com/zombor/agentcarbon/internal/explain"
	"github.com/zombor/agentcarbon/internal/history"
	"github.com/zombor/agentcarbon/internal/scanning"
)

var (
	// ErrEmptyDocument is returned when an upload carries no bytes
	ErrEmptyDocument = errors.New("empty document")

	// ErrTextExtraction marks an OCR failure
	ErrTextExtraction = errors.New("text extraction failed")

	// ErrStore marks a history store failure
	ErrStore = errors.New("history store failed")

	// ErrExplain marks an explanation failure
	ErrExplain = errors.New("explanation failed")
)

const (
	DefaultHistoryLimit = 12
	MaxHistoryLimit     = 100
)

// Result is the response to one processed document
type Result struct {
	ID          string                 `json:"id"`
	Document    string                 `json:"document,omitempty"`
	RawText     string                 `json:"raw_text"`
	Fields      billing.Fields         `json:"fields"`
	Emissions   emission.Record        `json:"emissions"`
	History     []history.Entry        `json:"history"`
	Forecast    history.ForecastResult `json:"forecast"`
	Explanation *string                `json:"explanation"`
}

// Config tunes the Service
type Config struct {
	// HistoryLimit is how many past entries feed the forecast and explanation
	HistoryLimit int

	// ExplainOptional turns explanation failures into a null explanation
	ExplainOptional bool
}

// Service handles document processing
type Service struct {
	ocr         scanning.TextExtractor
	store       history.Store
	explainer   explain.Explainer
	storage     Storage
	idGenerator history.IDGenerator
	config      Config
	logger      *slog.Logger
}

// NewService creates a new Service. explainer and storage may be nil.
func NewService(ocr scanning.TextExtractor, store history.Store, explainer explain.Explainer, storage Storage, config Config) *Service {
	return NewServiceWithDeps(ocr, store, explainer, storage, config, history.UUIDGenerator{}, slog.Default())
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(ocr scanning.TextExtractor, store history.Store, explainer explain.Explainer, storage Storage, config Config, idGen history.IDGenerator, logger *slog.Logger) *Service {
	config.HistoryLimit = clampLimit(config.HistoryLimit)
	return &Service{
		ocr:         ocr,
		store:       store,
		explainer:   explainer,
		storage:     storage,
		idGenerator: idGen,
		config:      config,
		logger:      logger,
	}
}

// clampLimit maps non-positive limits to the default and caps the rest
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// Process runs the full pipeline over one uploaded document
func (s *Service) Process(ctx context.Context, filename string, data []byte, contentType string) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	uploadID := s.idGenerator.Generate()
	var document string
	if s.storage != nil {
		saved, err := s.storage.Save(fmt.Sprintf("%s_%s", uploadID, sanitizeFilename(filename)), data)
		if err != nil {
			return nil, fmt.Errorf("archiving document: %w", err)
		}
		document = saved
	}

	rawText, err := s.ocr.ExtractText(ctx, data, contentType)
	switch {
	case errors.Is(err, scanning.ErrNoText):
		s.logger.Warn("No text recognised", "filename", filename, "content_type", contentType)
		rawText = ""
	case err != nil:
		s.logger.Error("Failed to extract text",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.discard(document)
		return nil, fmt.Errorf("%w: %w", ErrTextExtraction, err)
	}

	fields := billing.Extract(rawText)
	emissions := emission.Compute(fields)

	id, err := s.store.Put(ctx, fields, emissions)
	if err != nil {
		s.discard(document)
		return nil, fmt.Errorf("%w: saving entry: %w", ErrStore, err)
	}

	past, err := s.store.List(ctx, s.config.HistoryLimit)
	if err != nil {
		s.discard(document)
		return nil, fmt.Errorf("%w: listing entries: %w", ErrStore, err)
	}
	if past == nil {
		past = []history.Entry{}
	}

	result := &Result{
		ID:        id,
		Document:  document,
		RawText:   rawText,
		Fields:    fields,
		Emissions: emissions,
		History:   past,
		Forecast:  history.Forecast(history.Normalize(past)),
	}

	if s.explainer != nil {
		text, err := s.explainer.Explain(ctx, fields, emissions, past)
		if err != nil {
			if !s.config.ExplainOptional {
				s.discard(document)
				return nil, fmt.Errorf("%w: %w", ErrExplain, err)
			}
			s.logger.Warn("Explanation unavailable", "id", id, "error", err)
		} else {
			result.Explanation = &text
		}
	}

	s.logger.Info("Processed document",
		"id", id,
		"document", document,
		"total_kgco2", emissions.TotalKgCO2,
		"history", len(past),
	)
	return result, nil
}

// discard removes an archived document after a failed run
func (s *Service) discard(document string) {
	if s.storage == nil || document == "" {
		return
	}
	if err := s.storage.Delete(document); err != nil {
		s.logger.Warn("Failed to remove archived document", "document", document, "error", err)
	}
}

// History lists recent entries, most recent first
func (s *Service) History(ctx context.Context, limit int) ([]history.Entry, error) {
	entries, err := s.store.List(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: listing entries: %w", ErrStore, err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}

// Entry returns one stored entry
func (s *Service) Entry(ctx context.Context, id string) (*history.Entry, error) {
	entry, err := s.store.Get(ctx, id)
	if errors.Is(err, history.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: getting entry: %w", ErrStore, err)
	}
	return entry, nil
}

// Forecast predicts the next period over the configured history window
func (s *Service) Forecast(ctx context.Context) (history.ForecastResult, error) {
	entries, err := s.store.List(ctx, s.config.HistoryLimit)
	if err != nil {
		return history.ForecastResult{}, fmt.Errorf("%w: listing entries: %w", ErrStore, err)
	}
	return history.Forecast(history.Normalize(entries)), nil
}

// Document returns an archived upload
func (s *Service) Document(name string) ([]byte, error) {
	if s.storage == nil {
		return nil, ErrDocumentNotFound
	}
	return s.storage.Get(name)
}
