// Command toolchat is an interactive chat client that lets a language model
// call tools on an MCP server and keeps every conversation on disk or in
// PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/toolchat/internal/app"
	"github.com/MrWong99/toolchat/internal/config"
	"github.com/MrWong99/toolchat/internal/observe"
	"github.com/MrWong99/toolchat/pkg/memory"
	"github.com/MrWong99/toolchat/pkg/memory/file"
	"github.com/MrWong99/toolchat/pkg/memory/postgres"
	"github.com/MrWong99/toolchat/pkg/provider/llm"
	"github.com/MrWong99/toolchat/pkg/provider/llm/anyllm"
	"github.com/MrWong99/toolchat/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "toolchat: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "toolchat: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("toolchat starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.SetupTelemetry(ctx, observe.TelemetryConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	out := newPrinter(os.Stdout)
	application, err := app.New(ctx, cfg, providers,
		app.WithRegistry(reg),
		app.WithLevel(level),
		app.WithReplyUpdates(out.update),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go func() {
				_ = watcher.Run(ctx, func(_, next *config.Config) error {
					return application.Reload(ctx, next)
				})
			}()
		}
	}

	go func() {
		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("ops server error", "err", err)
		}
	}()

	repl := &repl{app: application, out: out}
	repl.run(ctx, os.Stdin)
	stop()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// Every any-llm backend takes an optional key and an optional address.
	// Local ones (ollama, llamacpp, llamafile) only need the address.
	for _, backend := range anyllm.Backends {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// Any server speaking the OpenAI chat completions API.
	reg.RegisterLLM("openai-compatible", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if secs := optInt(entry.Options, "timeout_seconds"); secs > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(secs)*time.Second))
		}
		if n, ok := entry.Options["max_retries"]; ok {
			opts = append(opts, openai.WithMaxRetries(toInt(n)))
		}
		ctxWindow, maxOut := optInt(entry.Options, "context_window"), optInt(entry.Options, "max_output_tokens")
		if ctxWindow > 0 || maxOut > 0 {
			opts = append(opts, openai.WithCapabilities(llm.ModelCapabilities{
				ContextWindow:   ctxWindow,
				MaxOutputTokens: maxOut,
			}))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Persistence ───────────────────────────────────────────────────────────

	reg.RegisterPersistence(config.BackendFile, func(_ context.Context, pc config.PersistenceConfig) (memory.Persistence, error) {
		return file.New(file.Options{
			Dir:        pc.Dir,
			Passphrase: pc.Passphrase,
			Logger:     slog.Default(),
		})
	})

	reg.RegisterPersistence(config.BackendPostgres, func(ctx context.Context, pc config.PersistenceConfig) (memory.Persistence, error) {
		return postgres.NewStore(ctx, pc.DSN, pc.KVDir)
	})

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildProviders instantiates the providers named in cfg using the registry.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.LLM.Name; name != "" {
		p, err := app.NewLLM(reg, cfg.LLM, slog.Default())
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown LLM provider, replies are disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.LLM.Model, "fallbacks", len(cfg.LLM.Fallbacks))
		}
	}

	p, err := reg.CreatePersistence(ctx, cfg.Persistence)
	if err != nil {
		return nil, fmt.Errorf("create persistence backend %q: %w", cfg.Persistence.Backend, err)
	}
	ps.Persistence = p
	slog.Info("provider created", "kind", "persistence", "name", cfg.Persistence.Backend)
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         toolchat · startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.LLM.Name, cfg.LLM.Model)
	printProvider("Persistence", cfg.Persistence.Backend, "")
	if cfg.Tools.Enabled() {
		fmt.Printf("║  Tools           : %-19s ║\n", cfg.Tools.Transport)
		fmt.Printf("║  Tool grammar    : %-19s ║\n", cfg.Tools.Grammar)
	} else {
		fmt.Printf("║  Tools           : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.OpsAddr != "" {
		fmt.Printf("║  Ops addr        : %-19s ║\n", cfg.Server.OpsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(label, name, model string) {
	value := "(not configured)"
	if name != "" {
		value = name
		if model != "" {
			value += " / " + model
		}
	}
	if len(value) > 19 {
		value = value[:18] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// newLogger returns a text logger on stderr whose level follows level.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// optString extracts a string value from a provider options map.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// optInt extracts an integer value from a provider options map.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	return toInt(opts[key])
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
