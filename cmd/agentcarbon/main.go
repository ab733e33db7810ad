package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/agentcarbon/internal/explain"
	"github.com/zombor/agentcarbon/internal/history"
	"github.com/zombor/agentcarbon/internal/invoice"
	"github.com/zombor/agentcarbon/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	cfg, fs, err := parseConfig(os.Args[1:])
	if errors.Is(err, ff.ErrHelp) {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if cfg.showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.SetDefault(newLogger(os.Stderr, cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config) error {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ocr, err := newTextExtractor(ctx, cfg)
	if err != nil {
		return err
	}
	defer ocr.Close()

	explainer, err := newExplainer(ctx, cfg)
	if err != nil {
		return err
	}
	if explainer != nil {
		defer explainer.Close()
	}

	var archive invoice.Storage
	if cfg.storagePath != "" {
		slog.Info("Initializing storage...", "path", cfg.storagePath)
		local, err := invoice.NewLocalStorage(cfg.storagePath)
		if err != nil {
			return fmt.Errorf("initializing storage: %w", err)
		}
		archive = local
	}

	service := invoice.NewService(ocr, store, explainer, archive, invoice.Config{
		HistoryLimit:    cfg.historyLimit,
		ExplainOptional: cfg.explainOptional,
	})

	server := invoice.NewServer(service, invoice.ServerOptions{
		BasicAuth: invoice.BasicAuth{
			Username: cfg.authUser,
			Password: cfg.authPass,
		},
		Version:        version,
		RequestTimeout: cfg.requestTimeout,
	})

	addr := fmt.Sprintf(":%d", cfg.port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if cfg.authUser != "" || cfg.authPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.authUser)
	}
	return server.Start(ctx, addr)
}

func newStore(ctx context.Context, cfg *config) (history.Store, error) {
	switch cfg.store {
	case "milvus":
		slog.Info("Connecting to Milvus...", "address", cfg.milvusAddr, "collection", cfg.milvusCollection)
		store, err := history.NewMilvusStore(ctx, cfg.milvusAddr, cfg.milvusCollection)
		if err != nil {
			return nil, fmt.Errorf("initializing milvus store: %w", err)
		}
		return store, nil
	default:
		slog.Info("Initializing database...", "path", cfg.dbPath)
		store, err := history.NewBoltStore(cfg.dbPath)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		return store, nil
	}
}

func newTextExtractor(ctx context.Context, cfg *config) (scanning.TextExtractor, error) {
	switch cfg.ocr {
	case "gemini":
		slog.Info("Initializing Gemini OCR...", "model", cfg.geminiModel)
		g, err := scanning.NewGemini(ctx, cfg.geminiKey, cfg.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini ocr: %w", err)
		}
		return g, nil
	case "ollama":
		slog.Info("Initializing Ollama OCR...", "url", cfg.ollamaURL, "model", cfg.ocrModel)
		o, err := scanning.NewOllama(cfg.ollamaURL, cfg.ocrModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama ocr: %w", err)
		}
		return o, nil
	default:
		langs := cfg.tesseractLanguages()
		slog.Info("Initializing Tesseract OCR...", "languages", langs)
		return scanning.NewTesseract(langs...), nil
	}
}

// newExplainer returns a nil Explainer when explanations are disabled
func newExplainer(ctx context.Context, cfg *config) (explain.Explainer, error) {
	switch cfg.explainer {
	case "none":
		slog.Info("Explanations disabled")
		return nil, nil
	case "gemini":
		slog.Info("Initializing Gemini explainer...", "model", cfg.geminiModel)
		g, err := explain.NewGemini(ctx, cfg.geminiKey, cfg.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini explainer: %w", err)
		}
		return g, nil
	default:
		slog.Info("Initializing Ollama explainer...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		o, err := explain.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama explainer: %w", err)
		}
		return o, nil
	}
}
