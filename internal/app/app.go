// Package app wires all toolchat subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the ops endpoints until the context ends, Reload
// applies a changed configuration, and Shutdown tears everything down in
// order.
//
// For testing, inject mock implementations through [Providers] and the
// functional options (WithToolDialer, WithRegistry, etc.). When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/toolchat/internal/chat"
	"github.com/MrWong99/toolchat/internal/config"
	"github.com/MrWong99/toolchat/internal/health"
	"github.com/MrWong99/toolchat/internal/inference"
	"github.com/MrWong99/toolchat/internal/mcp"
	"github.com/MrWong99/toolchat/internal/mcp/mcpclient"
	"github.com/MrWong99/toolchat/internal/mcp/tools"
	"github.com/MrWong99/toolchat/internal/mcp/tools/chatsearch"
	"github.com/MrWong99/toolchat/internal/mcp/tools/workspace"
	"github.com/MrWong99/toolchat/internal/observe"
	"github.com/MrWong99/toolchat/internal/toolcall"
	"github.com/MrWong99/toolchat/pkg/memory"
	"github.com/MrWong99/toolchat/pkg/provider/llm"
)

// Providers holds the externally constructed dependencies. Populated by
// main.go via the config registry.
type Providers struct {
	// LLM generates replies. Nil leaves the app usable for browsing chats;
	// sending fails with [inference.ErrNoProvider].
	LLM llm.Provider

	// Persistence stores the chats. Required.
	Persistence memory.Persistence
}

// App owns all subsystem lifetimes.
type App struct {
	logger  *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics
	reg     *config.Registry
	dialer  mcp.Dialer
	updates func(Update)

	// Subsystems, initialised in New and torn down in Shutdown.
	store  *chat.Store
	engine *toolcall.Engine
	runner *inference.Runner
	conv   *Conversation
	health *health.Handler

	// mu guards cfg and backend, which Reload replaces.
	mu      sync.Mutex
	cfg     *config.Config
	backend memory.Persistence

	// closers are called in order during Shutdown.
	closers []func(ctx context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithToolDialer replaces the dialer that connects to the tool server.
func WithToolDialer(d mcp.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithRegistry supplies the factories Reload uses when the LLM or the
// persistence backend changes. Without one those changes are logged and
// ignored.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLevel lets Reload adjust the level of the process logger.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithReplyUpdates registers an observer for reply progress.
func WithReplyUpdates(fn func(Update)) Option {
	return func(a *App) { a.updates = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It loads the chats
// and, when a tool server is configured, performs the tool handshake. A tool
// server that cannot be reached is logged and retried on the next Reload;
// it does not fail New.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Persistence == nil {
		return nil, errors.New("app: a persistence backend is required")
	}
	a := &App{
		cfg:     cfg,
		backend: providers.Persistence,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Chat store ────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init chat store: %w", err)
	}

	// ── 2. Tool engine ───────────────────────────────────────────────────
	a.initTools(ctx)

	// ── 3. Inference ─────────────────────────────────────────────────────
	a.runner = inference.New(providers.LLM,
		inference.WithLogger(a.logger),
		inference.WithMetrics(a.metrics),
	)

	// ── 4. Conversation ──────────────────────────────────────────────────
	convOpts := []ConversationOption{WithConversationLogger(a.logger)}
	if a.updates != nil {
		convOpts = append(convOpts, WithUpdates(a.updates))
	}
	a.conv = NewConversation(a.store, a.engine, a.runner, settingsFrom(cfg, providers.LLM), convOpts...)

	// ── 5. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.readinessChecks()...)

	a.closers = append(a.closers,
		func(context.Context) error {
			a.runner.Close()
			return nil
		},
		a.conv.Wait,
		a.store.Flush,
		func(context.Context) error { return a.engine.Close() },
		func(context.Context) error { return a.closeBackend() },
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore creates the chat store and loads every chat from the backend.
func (a *App) initStore(ctx context.Context) error {
	a.store = chat.New(a.backend,
		chat.WithLogger(a.logger),
		chat.WithMetrics(a.metrics),
		chat.WithMaxConcurrentWrites(a.cfg.Persistence.MaxConcurrentWrites),
	)
	return a.store.Load(ctx)
}

// initTools creates the tool engine and connects it when tools are enabled.
func (a *App) initTools(ctx context.Context) {
	if a.dialer == nil {
		a.dialer = mcp.DialerFunc(a.dialTools)
	}
	a.engine = toolcall.New(a.dialer, a.cfg.Tools.EngineConfig(),
		toolcall.WithLogger(a.logger),
		toolcall.WithMetrics(a.metrics),
	)
	a.connectTools(ctx)
}

// connectTools performs the tool handshake when a transport is configured.
func (a *App) connectTools(ctx context.Context) {
	if !a.Config().Tools.Enabled() {
		return
	}
	if err := a.engine.Initialize(ctx); err != nil {
		a.logger.Warn("tool server unavailable, continuing without tools", "err", err)
		return
	}
	a.logger.Info("tool server connected",
		"transport", a.Config().Tools.Transport,
		"tools", len(a.engine.Catalog()),
	)
}

// dialTools connects through the SDK client. The builtin tool set is built
// per dial so that a changed workspace directory takes effect on reconnect.
func (a *App) dialTools(ctx context.Context, cc mcp.ClientConfig, self mcp.Implementation) (mcp.Client, error) {
	d := &mcpclient.Dialer{Builtin: a.builtinTools()}
	return d.Dial(ctx, cc, self)
}

// builtinTools returns the tools served in-process for the builtin transport.
func (a *App) builtinTools() []tools.Tool {
	set := chatsearch.NewTools(a.store)
	if dir := a.Config().Tools.WorkspaceDir; dir != "" {
		set = append(set, workspace.NewTools(dir)...)
	}
	return set
}

// readinessChecks returns the /readyz checkers for the current setup.
func (a *App) readinessChecks() []health.Checker {
	checks := []health.Checker{{
		Name: "tools",
		Check: func(context.Context) error {
			if !a.Config().Tools.Enabled() {
				return nil
			}
			if s := a.engine.State(); s != toolcall.StateReady {
				return fmt.Errorf("tool engine %s", s)
			}
			return nil
		},
	}}
	a.mu.Lock()
	p, ok := a.backend.(health.Pinger)
	a.mu.Unlock()
	if ok {
		checks = append(checks, health.Ping("persistence", p))
	} else {
		checks = append(checks, health.Checker{Name: "persistence", Check: func(context.Context) error { return nil }})
	}
	return checks
}

// settingsFrom derives reply settings from the config.
func settingsFrom(cfg *config.Config, p llm.Provider) Settings {
	model := cfg.LLM.Model
	if model == "" && p != nil {
		model = p.Name()
	}
	return Settings{
		ModelName:    model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		AutoExecute:  cfg.Tools.ShouldAutoExecute(),
		ToolRounds:   cfg.LLM.ToolRounds,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Store returns the chat store.
func (a *App) Store() *chat.Store { return a.store }

// Conversation returns the conversation driver.
func (a *App) Conversation() *Conversation { return a.conv }

// Tools returns the tool engine.
func (a *App) Tools() *toolcall.Engine { return a.engine }

// Health returns the health handler served on the ops address.
func (a *App) Health() *health.Handler { return a.health }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves /metrics, /healthz and /readyz on the configured ops address
// and blocks until ctx is cancelled. Without an ops address it only waits.
// When ctx is done, Run returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	addr := a.Config().Server.OpsAddr
	if addr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           a.opsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	a.logger.Info("ops server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return fmt.Errorf("app: ops server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("ops server shutdown", "err", err)
	}
	return ctx.Err()
}

// opsHandler builds the instrumented ops mux.
func (a *App) opsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	return observe.HTTPMiddleware(a.metrics, a.logger)(mux)
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies next on top of the running configuration. Only the parts
// that changed are touched: a new tool transport reconnects, a new model
// swaps the provider for replies started afterwards, a new backend reloads
// the chat store from it. Changes to the ops address need a restart.
func (a *App) Reload(ctx context.Context, next *config.Config) error {
	prev := a.Config()
	d := config.Diff(prev, next)
	if !d.Any() {
		return nil
	}

	var errs []error

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}

	var (
		provider llm.Provider
		swapLLM  bool
	)
	if d.LLMProviderChanged {
		p, err := a.createLLM(next.LLM)
		if err != nil {
			errs = append(errs, err)
		} else {
			provider, swapLLM = p, true
		}
	}

	if d.PersistenceChanged {
		if err := a.swapBackend(ctx, next.Persistence); err != nil {
			errs = append(errs, err)
		}
	}

	a.mu.Lock()
	a.cfg = next
	a.mu.Unlock()

	if d.ToolsConnectionChanged || d.ToolsBehaviourChanged {
		reconnect := a.engine.Configure(next.Tools.EngineConfig())
		if !reconnect && prev.Tools.WorkspaceDir != next.Tools.WorkspaceDir {
			// The builtin tool set is only rebuilt when dialing.
			a.engine.Configure(toolcall.Config{})
			reconnect = a.engine.Configure(next.Tools.EngineConfig())
		}
		if reconnect || (next.Tools.Enabled() && a.engine.State() == toolcall.StateUninitialized) {
			a.connectTools(ctx)
		}
	}
	if swapLLM {
		a.runner.SetProvider(provider)
		a.logger.Info("LLM provider changed", "name", next.LLM.Name, "model", next.LLM.Model)
	}
	if d.LLMProviderChanged || d.LLMParamsChanged || d.ToolsBehaviourChanged {
		a.conv.SetSettings(settingsFrom(next, provider))
	}
	return errors.Join(errs...)
}

func (a *App) createLLM(lc config.LLMConfig) (llm.Provider, error) {
	if lc.Name == "" {
		return nil, nil
	}
	if a.reg == nil {
		return nil, errors.New("app: reload llm: no provider registry")
	}
	p, err := NewLLM(a.reg, lc, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: reload llm: %w", err)
	}
	return p, nil
}

// swapBackend opens the new backend, reloads the store from it and closes
// the old one.
func (a *App) swapBackend(ctx context.Context, pc config.PersistenceConfig) error {
	if a.reg == nil {
		return errors.New("app: reload persistence: no provider registry")
	}
	next, err := a.reg.CreatePersistence(ctx, pc)
	if err != nil {
		return fmt.Errorf("app: reload persistence: %w", err)
	}
	if err := a.store.Reinitialize(ctx, next); err != nil {
		closeBackend(next)
		return fmt.Errorf("app: reload persistence: %w", err)
	}
	a.mu.Lock()
	old := a.backend
	a.backend = next
	a.mu.Unlock()
	closeBackend(old)
	a.health.Add(a.readinessChecks()...)
	a.logger.Info("persistence backend changed", "backend", pc.Backend)
	return nil
}

func (a *App) closeBackend() error {
	a.mu.Lock()
	p := a.backend
	a.mu.Unlock()
	closeBackend(p)
	return nil
}

// closeBackend releases backends that hold connections.
func closeBackend(p memory.Persistence) {
	if c, ok := p.(interface{ Close() }); ok {
		c.Close()
	}
}

// SlogLevel converts a config log level to its slog counterpart.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops inference and waits for the stopped replies to be saved.
// Then it flushes pending chat writes and closes the tool connection and the
// backend. If ctx expires before all closers finish, the remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
