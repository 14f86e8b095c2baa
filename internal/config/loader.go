package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/toolchat/internal/mcp"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "openai-compatible"},
	"persistence": {BackendFile, BackendPostgres},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, validates it and applies
// defaults. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
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

	// LLM
	validateProviderName("llm", cfg.LLM.Name)
	if cfg.LLM.Name != "" && cfg.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required when llm.name is set"))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must not be negative"))
	}
	if cfg.LLM.ToolRounds < 0 {
		errs = append(errs, fmt.Errorf("llm.tool_rounds must not be negative"))
	}
	for i, fb := range cfg.LLM.Fallbacks {
		if fb.Name == "" || fb.Model == "" {
			errs = append(errs, fmt.Errorf("llm.fallbacks[%d]: name and model are required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.LLM.Name == "" && len(cfg.LLM.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("llm.fallbacks require llm.name"))
	}
	if cfg.LLM.Name == "" {
		slog.Warn("no LLM provider configured; replies cannot be generated")
	}

	// Tools
	t := cfg.Tools
	if t.Transport != "" {
		if !t.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("tools.transport %q is invalid; valid values: stdio, streamable-http, sse, builtin", t.Transport))
		} else if err := t.ClientConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tools: %w", err))
		}
	}
	if t.Grammar != "" && !t.Grammar.IsValid() {
		errs = append(errs, fmt.Errorf("tools.grammar %q is invalid; valid values: json, bracket, auto", t.Grammar))
	}
	if t.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("tools.max_concurrency must not be negative"))
	}
	if t.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("tools.timeout_seconds must not be negative"))
	}
	if t.WorkspaceDir != "" && t.Transport != mcp.TransportBuiltin {
		slog.Warn("tools.workspace_dir only applies to the builtin transport", "transport", t.Transport)
	}

	// Persistence
	p := cfg.Persistence
	validateProviderName("persistence", p.Backend)
	if p.Backend == BackendPostgres && p.DSN == "" {
		errs = append(errs, fmt.Errorf("persistence.dsn is required when backend is postgres"))
	}
	if p.Backend == BackendPostgres && p.KVDir == "" {
		slog.Warn("persistence.kv_dir is empty; key-value cache files will be kept in the working directory")
	}
	if p.MaxConcurrentWrites < 0 {
		errs = append(errs, fmt.Errorf("persistence.max_concurrent_writes must not be negative"))
	}

	return errors.Join(errs...)
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
