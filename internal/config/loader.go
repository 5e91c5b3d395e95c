package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// `${VAR}` and `$VAR` references anywhere in the document are replaced with
// the value of the environment variable before decoding, so secrets like API
// keys can stay out of the config file itself. Unset variables expand to the
// empty string. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderEntry("llm", cfg.Providers.LLM)
	validateProviderEntry("embeddings", cfg.Providers.Embeddings)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; chapter generation and plot options will not be available")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("no embeddings provider configured; semantic retrieval will not be available")
	}

	// Storage
	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == BackendPostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.Backend == BackendPostgres && cfg.Storage.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but storage.embedding_dimensions is not set; defaulting to 1536")
	}

	// Composer
	if cfg.Composer.RecentChapterCount < 0 {
		errs = append(errs, fmt.Errorf("composer.recent_chapter_count %d must not be negative", cfg.Composer.RecentChapterCount))
	}
	if cfg.Composer.RetrievalCount < 0 {
		errs = append(errs, fmt.Errorf("composer.retrieval_count %d must not be negative", cfg.Composer.RetrievalCount))
	}
	if cfg.Composer.RetrievalThreshold < 0 || cfg.Composer.RetrievalThreshold > 1 {
		errs = append(errs, fmt.Errorf("composer.retrieval_threshold %.2f is out of range [0, 1]", cfg.Composer.RetrievalThreshold))
	}
	if cfg.Composer.ParseRetries < 0 {
		errs = append(errs, fmt.Errorf("composer.parse_retries %d must not be negative", cfg.Composer.ParseRetries))
	}

	// Indexer
	if cfg.Indexer.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("indexer.chunk_size %d must not be negative", cfg.Indexer.ChunkSize))
	}
	if cfg.Indexer.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("indexer.chunk_overlap %d must not be negative", cfg.Indexer.ChunkOverlap))
	}
	if cfg.Indexer.ChunkSize > 0 && cfg.Indexer.ChunkOverlap >= cfg.Indexer.ChunkSize {
		errs = append(errs, fmt.Errorf("indexer.chunk_overlap %d must be smaller than indexer.chunk_size %d", cfg.Indexer.ChunkOverlap, cfg.Indexer.ChunkSize))
	}
	if cfg.Indexer.MinChunkLength < 0 {
		errs = append(errs, fmt.Errorf("indexer.min_chunk_length %d must not be negative", cfg.Indexer.MinChunkLength))
	}
	if cfg.Indexer.EmbedDelayMS < 0 {
		errs = append(errs, fmt.Errorf("indexer.embed_delay_ms %d must not be negative", cfg.Indexer.EmbedDelayMS))
	}

	return errors.Join(errs...)
}

// validateProviderEntry warns about unknown provider names for entry and its
// fallback chain.
func validateProviderEntry(kind string, entry ProviderEntry) {
	validateProviderName(kind, entry.Name)
	if entry.Fallback != nil {
		validateProviderEntry(kind, *entry.Fallback)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
