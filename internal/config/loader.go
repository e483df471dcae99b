package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Environment variables controlling where configuration is looked up.
const (
	// EnvHome points at the Buddy state directory (named pipes, downloaded
	// models, default config location). Defaults to ~/.buddy.
	EnvHome = "BUDDY_HOME"

	// EnvConfig points directly at the config file, overriding the default
	// <home>/config.yaml.
	EnvConfig = "BUDDY_CONFIG"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp"},
	"stt":        {"whisper"},
	"tts":        {"coqui"},
	"embeddings": {"openai"},
}

// ValidAdapterClasses lists the adapter classes shipped with Buddy. An
// adapter entry naming anything else fails validation: a typo here would
// otherwise surface only as a silently missing device.
var ValidAdapterClasses = map[string][]string{
	"input":  {"wakeword", "speechin", "radar", "envsensor", "scheduler", "pipein"},
	"output": {"speech", "led", "persist", "archivist", "bulb", "pipeout"},
}

// Home returns the Buddy state directory: $BUDDY_HOME when set, otherwise
// ~/.buddy.
func Home() string {
	if home := os.Getenv(EnvHome); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		// Last resort for stripped-down containers without a home.
		return ".buddy"
	}
	return filepath.Join(userHome, ".buddy")
}

// DefaultPath returns the config file path: $BUDDY_CONFIG when set, otherwise
// <home>/config.yaml.
func DefaultPath() string {
	if path := os.Getenv(EnvConfig); path != "" {
		return path
	}
	return filepath.Join(Home(), "config.yaml")
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
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
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
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

	// Queues
	if cfg.Queues.InputMaxSize < 0 {
		errs = append(errs, fmt.Errorf("queues.input_max_size %d is negative", cfg.Queues.InputMaxSize))
	}
	if cfg.Queues.InterruptMaxSize < 0 {
		errs = append(errs, fmt.Errorf("queues.interrupt_max_size %d is negative", cfg.Queues.InterruptMaxSize))
	}

	// Brain
	if cfg.Brain.Temperature < 0 || cfg.Brain.Temperature > 2 {
		errs = append(errs, fmt.Errorf("brain.temperature %.2f is out of range [0, 2]", cfg.Brain.Temperature))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; conversational replies will fail")
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}

	// Memory availability
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; conversation history and long-term memory will not be persisted")
	}

	// Adapters: unknown classes are hard errors, duplicates too.
	validateAdapters("input", cfg.Adapters.Inputs, &errs)
	validateAdapters("output", cfg.Adapters.Outputs, &errs)

	return errors.Join(errs...)
}

func validateAdapters(kind string, entries []AdapterEntry, errs *[]error) {
	known := ValidAdapterClasses[kind]
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("adapters.%ss[%d]", kind, i)
		if e.Class == "" {
			*errs = append(*errs, fmt.Errorf("%s.class is required", prefix))
			continue
		}
		if !slices.Contains(known, e.Class) {
			*errs = append(*errs, fmt.Errorf("%s.class %q is unknown; valid %s classes: %v", prefix, e.Class, kind, known))
		}
		if prev, ok := seen[e.Class]; ok {
			*errs = append(*errs, fmt.Errorf("%s.class %q is a duplicate of adapters.%ss[%d]", prefix, e.Class, kind, prev))
		}
		seen[e.Class] = i
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
