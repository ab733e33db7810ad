package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"
)

// config holds every setting the server reads at startup
type config struct {
	port             int
	dbPath           string
	storagePath      string
	store            string
	milvusAddr       string
	milvusCollection string
	ocr              string
	ocrModel         string
	tesseractLang    string
	explainer        string
	ollamaURL        string
	ollamaModel      string
	geminiKey        string
	geminiModel      string
	historyLimit     int
	requestTimeout   time.Duration
	explainOptional  bool
	authUser         string
	authPass         string
	logLevel         string
	logFormat        string
	showVersion      bool
}

// parseConfig reads flags, AGENTCARBON_* env vars and an optional config file
func parseConfig(args []string) (*config, *ff.FlagSet, error) {
	fs := ff.NewFlagSet("agentcarbon")
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		dbPath           = fs.StringLong("db", "agentcarbon.db", "Database file path (bolt store)")
		storagePath      = fs.StringLong("storage", "./invoices", "Directory for archived uploads (empty disables archiving)")
		store            = fs.StringLong("store", "bolt", "History store: 'bolt' or 'milvus'")
		milvusAddr       = fs.StringLong("milvus-addr", "localhost:19530", "Milvus address")
		milvusCollection = fs.StringLong("milvus-collection", "agentcarbon_history", "Milvus collection name")
		ocr              = fs.StringLong("ocr", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		ocrModel         = fs.StringLong("ocr-model", "llava", "Ollama vision model used when --ocr=ollama")
		tesseractLang    = fs.StringLong("tesseract-lang", "eng", "Tesseract languages, joined with '+'")
		explainer        = fs.StringLong("explainer", "ollama", "Explainer: 'ollama', 'gemini' or 'none'")
		ollamaURL        = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel      = fs.StringLong("ollama-model", "llama3", "Ollama chat model name")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel      = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		historyLimit     = fs.IntLong("history-limit", 12, "Past entries used for the forecast and explanation")
		requestTimeout   = fs.DurationLong("request-timeout", 3*time.Minute, "Per-request timeout (0 disables)")
		explainOptional  = fs.BoolLong("explain-optional", "Return a null explanation instead of failing when the explainer errors")
		authUser         = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass         = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel         = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat        = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		showVersion      = fs.BoolLong("version", "Show version information")
		_                = fs.StringLong("config", "", "Config file (one 'flag value' per line)")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("AGENTCARBON"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		return nil, fs, err
	}

	cfg := &config{
		port:             *port,
		dbPath:           *dbPath,
		storagePath:      *storagePath,
		store:            strings.ToLower(*store),
		milvusAddr:       *milvusAddr,
		milvusCollection: *milvusCollection,
		ocr:              strings.ToLower(*ocr),
		ocrModel:         *ocrModel,
		tesseractLang:    *tesseractLang,
		explainer:        strings.ToLower(*explainer),
		ollamaURL:        *ollamaURL,
		ollamaModel:      *ollamaModel,
		geminiKey:        *geminiKey,
		geminiModel:      *geminiModel,
		historyLimit:     *historyLimit,
		requestTimeout:   *requestTimeout,
		explainOptional:  *explainOptional,
		authUser:         *authUser,
		authPass:         *authPass,
		logLevel:         *logLevel,
		logFormat:        strings.ToLower(*logFormat),
		showVersion:      *showVersion,
	}
	if cfg.geminiKey == "" {
		cfg.geminiKey = os.Getenv("GEMINI_API_KEY")
	}
	if err := cfg.validate(); err != nil {
		return nil, fs, err
	}
	return cfg, fs, nil
}

func (c *config) validate() error {
	switch c.store {
	case "bolt", "milvus":
	default:
		return fmt.Errorf("invalid store %q: want bolt or milvus", c.store)
	}
	switch c.ocr {
	case "tesseract", "gemini", "ollama":
	default:
		return fmt.Errorf("invalid ocr engine %q: want tesseract, gemini or ollama", c.ocr)
	}
	switch c.explainer {
	case "ollama", "gemini", "none":
	default:
		return fmt.Errorf("invalid explainer %q: want ollama, gemini or none", c.explainer)
	}
	if (c.ocr == "gemini" || c.explainer == "gemini") && c.geminiKey == "" {
		return fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
	}
	if c.logFormat != "text" && c.logFormat != "json" {
		return fmt.Errorf("invalid log format %q: want text or json", c.logFormat)
	}
	if _, err := parseLevel(c.logLevel); err != nil {
		return err
	}
	return nil
}

// tesseractLanguages splits "eng+deu" into its parts
func (c *config) tesseractLanguages() []string {
	var langs []string
	for _, l := range strings.Split(c.tesseractLang, "+") {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return langs
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// newLogger builds the process logger from the log flags
func newLogger(w io.Writer, c *config) *slog.Logger {
	level, _ := parseLevel(c.logLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
