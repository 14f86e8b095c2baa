// Package toolcall turns model output into tool invocations and their results
// back into text.
//
// The [Engine] owns the connection to one tool server. It detects and
// extracts tool calls written by the model in one of two grammars (see
// [Grammar]), executes them through an [mcp.Client], and splices the outputs
// back into the text the calls were parsed from.
//
// Typical usage:
//
//	e := toolcall.New(dialer, toolcall.Config{
//	    Client:  mcp.ClientConfig{Subprocess: &mcp.Subprocess{Command: "my-tool-server"}},
//	    Grammar: toolcall.GrammarJSON,
//	})
//	if err := e.Initialize(ctx); err != nil { ... }
//	defer e.Close()
//
//	prompt := e.AugmentPrompt(systemPrompt)
//	// … run the model …
//	if e.ContainsToolCall(reply) {
//	    calls := e.ExtractToolCalls(reply)
//	    results := e.ExecuteAll(ctx, calls)
//	    calls = toolcall.ApplyResults(calls, results)
//	    reply = toolcall.ReplaceCallsWithResults(reply, calls)
//	}
//
// All methods are safe for concurrent use.
package toolcall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/toolchat/internal/mcp"
	"github.com/MrWong99/toolchat/internal/observe"
	"github.com/MrWong99/toolchat/pkg/types"
)

// Defaults applied by [New] and [Engine.Configure] to zero [Config] fields.
const (
	DefaultClientName     = "toolchat"
	DefaultClientVersion  = "1.0.0"
	DefaultMaxConcurrency = 4
)

// notInitialized is the ErrorMessage of results for calls made before the
// handshake completed.
const notInitialized = "MCP client not initialized"

var (
	// ErrNotInitialized is reported when a tool client is needed but no
	// handshake has completed.
	ErrNotInitialized = errors.New("toolcall: " + notInitialized)

	// ErrUnknownGrammar is returned by [Engine.SetGrammar] for a grammar
	// outside GrammarJSON, GrammarBracket and GrammarAuto.
	ErrUnknownGrammar = errors.New("toolcall: unknown grammar")

	// ErrInitializing is returned by [Engine.Initialize] while another
	// initialization is in flight.
	ErrInitializing = errors.New("toolcall: initialization already in progress")

	// ErrSuperseded is returned by [Engine.Initialize] when the configuration
	// changed or the engine was closed before the handshake finished.
	ErrSuperseded = errors.New("toolcall: initialization superseded")

	errInvalidResponse = errors.New("invalid response format from tool call")
	errToolReported    = errors.New("tool reported an error")
)

// State is the lifecycle state of the engine's tool server connection.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config describes the tool server connection and parsing behaviour.
type Config struct {
	// Client selects and configures the transport.
	Client mcp.ClientConfig

	// Grammar is the tool-call markup the model is instructed to write.
	// Empty selects GrammarJSON.
	Grammar Grammar

	// ClientName and ClientVersion are announced during the handshake.
	ClientName    string
	ClientVersion string

	// MaxConcurrency bounds the parallel calls of [Engine.ExecuteAllAsync].
	MaxConcurrency int
}

func (c Config) withDefaults() Config {
	if c.Grammar == "" {
		c.Grammar = GrammarJSON
	}
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.ClientVersion == "" {
		c.ClientVersion = DefaultClientVersion
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	return c
}

// connectionChanged reports whether switching from c to o requires a new
// handshake.
func (c Config) connectionChanged(o Config) bool {
	return !c.Client.Equal(o.Client) ||
		c.ClientName != o.ClientName ||
		c.ClientVersion != o.ClientVersion
}

// Option configures an [Engine].
type Option func(*Engine)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine detects, extracts and executes tool calls.
//
// Lock order: mu before catalogMu. Neither lock is held during network I/O.
type Engine struct {
	dialer  mcp.Dialer
	metrics *observe.Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	cfg    Config
	state  State
	client mcp.Client
	gen    uint64 // bumped whenever the current connection is invalidated

	catalogMu sync.RWMutex
	catalog   []types.ToolDefinition

	stats statsRegistry
}

// New creates an uninitialised engine. Call [Engine.Initialize] to connect.
func New(dialer mcp.Dialer, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		dialer: dialer,
		cfg:    cfg.withDefaults(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// ──── Connection lifecycle ────────────────────────────────────────────────

// Configure replaces the engine configuration. When the transport or the
// announced identity changes, the current connection is closed, the catalog
// is cleared and the engine returns to [StateUninitialized]; the caller
// decides when to initialize again. Configure reports whether that happened.
//
// Grammar and concurrency changes apply immediately without reconnecting.
func (e *Engine) Configure(cfg Config) bool {
	cfg = cfg.withDefaults()

	e.mu.Lock()
	changed := e.cfg.connectionChanged(cfg)
	e.cfg = cfg
	var old mcp.Client
	if changed {
		old = e.invalidateLocked()
	}
	e.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			e.logger.Warn("toolcall: close previous tool client", "err", err)
		}
	}
	if changed {
		e.logger.Info("toolcall: tool transport reconfigured", "transport", string(cfg.Client.Transport()))
	}
	return changed
}

// SetGrammar switches the tool-call grammar without touching the
// connection. Empty selects GrammarJSON. An unknown grammar is rejected and
// the current one stays in effect.
func (e *Engine) SetGrammar(g Grammar) error {
	if g == "" {
		g = GrammarJSON
	}
	if !g.IsValid() {
		return fmt.Errorf("%w %q", ErrUnknownGrammar, g)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Grammar = g
	return nil
}

// invalidateLocked drops the connection and catalog. The caller must hold
// e.mu and close the returned client after unlocking.
func (e *Engine) invalidateLocked() mcp.Client {
	old := e.client
	e.client = nil
	e.state = StateUninitialized
	e.gen++
	e.catalogMu.Lock()
	e.catalog = nil
	e.catalogMu.Unlock()
	return old
}

// Initialize connects to the configured tool server and performs the
// handshake. On success the engine is [StateReady] and the catalog is
// refreshed; a failed refresh is logged and leaves the engine ready with an
// empty catalog. On failure the engine returns to [StateUninitialized] and
// the error is returned. Initialize never retries.
//
// Calling Initialize on a ready engine reconnects.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateInitializing {
		e.mu.Unlock()
		return ErrInitializing
	}
	old := e.invalidateLocked()
	e.state = StateInitializing
	gen := e.gen
	cfg := e.cfg
	e.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			e.logger.Warn("toolcall: close previous tool client", "err", err)
		}
	}

	ctx, span := observe.StartSpan(ctx, "toolcall.initialize",
		trace.WithAttributes(attribute.String("transport", string(cfg.Client.Transport()))),
	)
	defer span.End()

	client, err := e.dialer.Dial(ctx, cfg.Client, mcp.Implementation{
		Name:    cfg.ClientName,
		Version: cfg.ClientVersion,
	})

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		if client != nil {
			_ = client.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		e.state = StateUninitialized
		e.mu.Unlock()
		observe.Fail(span, err)
		return fmt.Errorf("toolcall: initialize: %w", err)
	}
	e.client = client
	e.state = StateReady
	e.mu.Unlock()

	e.logger.Info("toolcall: tool client ready", "transport", string(cfg.Client.Transport()))

	if err := e.RefreshCatalog(ctx); err != nil {
		e.logger.Warn("toolcall: refresh tool catalog", "err", err)
	}
	return nil
}

// RefreshCatalog fetches the tool list from the server and replaces the
// cached catalog. On failure the cached catalog is left untouched.
func (e *Engine) RefreshCatalog(ctx context.Context) error {
	e.mu.RLock()
	client, gen := e.client, e.gen
	e.mu.RUnlock()
	if client == nil {
		return ErrNotInitialized
	}

	defs, err := client.Tools(ctx)
	if err != nil {
		return fmt.Errorf("toolcall: list tools: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if gen != e.gen {
		return ErrSuperseded
	}
	e.catalogMu.Lock()
	e.catalog = defs
	e.catalogMu.Unlock()
	e.logger.Debug("toolcall: tool catalog refreshed", "tools", len(defs))
	return nil
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Config returns the current configuration with defaults applied.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg := e.cfg
	cfg.Client = cfg.Client.Clone()
	return cfg
}

// Close disconnects from the tool server. The engine can be initialized
// again afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	old := e.invalidateLocked()
	e.mu.Unlock()
	if old == nil {
		return nil
	}
	if err := old.Close(); err != nil {
		return fmt.Errorf("toolcall: close: %w", err)
	}
	return nil
}

// ──── Catalog ─────────────────────────────────────────────────────────────

// Catalog returns a copy of the cached tool definitions.
func (e *Engine) Catalog() []types.ToolDefinition {
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()
	out := make([]types.ToolDefinition, len(e.catalog))
	copy(out, e.catalog)
	return out
}

// FormatCatalog renders the cached catalog, or "" when the engine is not
// ready.
func (e *Engine) FormatCatalog() string {
	if e.State() != StateReady {
		return ""
	}
	return FormatCatalog(e.Catalog())
}

// AugmentPrompt appends tool-calling instructions for the configured grammar
// and the cached catalog to systemPrompt. The prompt is returned unchanged
// when the engine is not ready or has no tools.
func (e *Engine) AugmentPrompt(systemPrompt string) string {
	e.mu.RLock()
	ready, g := e.state == StateReady, e.cfg.Grammar
	e.mu.RUnlock()
	if !ready {
		return systemPrompt
	}
	return AugmentPrompt(g, systemPrompt, e.Catalog())
}

// ──── Parsing ─────────────────────────────────────────────────────────────

func (e *Engine) grammar() Grammar {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Grammar
}

// ContainsToolCall reports whether text holds at least one tool call in the
// configured grammar.
func (e *Engine) ContainsToolCall(text string) bool {
	return e.grammar().Contains(text)
}

// ExtractToolCalls parses the tool calls in text with the configured
// grammar. The result is deterministic for a given text and grammar.
func (e *Engine) ExtractToolCalls(text string) []types.ToolCall {
	g := e.grammar()
	calls := g.Extract(text)
	e.metrics.RecordExtraction(context.Background(), string(g.For(text)), len(calls))
	return calls
}

// ──── Execution ───────────────────────────────────────────────────────────

func (e *Engine) snapshot() (mcp.Client, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client, e.cfg.MaxConcurrency
}

// ExecuteAll runs calls one after another and returns one result per call in
// the same order. Failures are reported per result; a failing call never
// stops the batch.
func (e *Engine) ExecuteAll(ctx context.Context, calls []types.ToolCall) []types.ToolResult {
	client, _ := e.snapshot()
	results := make([]types.ToolResult, len(calls))
	for i, c := range calls {
		results[i] = e.execute(ctx, client, c)
	}
	return results
}

// ExecuteAllAsync runs calls in parallel, bounded by Config.MaxConcurrency,
// and delivers the results on the returned channel once all calls finished.
// The results are ordered exactly as ExecuteAll would order them. The
// channel receives one value and is then closed.
func (e *Engine) ExecuteAllAsync(ctx context.Context, calls []types.ToolCall) <-chan []types.ToolResult {
	client, limit := e.snapshot()
	out := make(chan []types.ToolResult, 1)
	go func() {
		defer close(out)
		results := make([]types.ToolResult, len(calls))
		var g errgroup.Group
		g.SetLimit(limit)
		for i, c := range calls {
			g.Go(func() error {
				results[i] = e.execute(ctx, client, c)
				return nil
			})
		}
		_ = g.Wait()
		out <- results
	}()
	return out
}

func (e *Engine) execute(ctx context.Context, client mcp.Client, call types.ToolCall) types.ToolResult {
	res := types.ToolResult{Call: call.Clone()}
	if client == nil {
		res.ErrorMessage = notInitialized
		return res
	}

	ctx, span := observe.StartSpan(ctx, "toolcall.execute",
		trace.WithAttributes(attribute.String("tool", call.FunctionName)),
	)
	defer span.End()

	start := time.Now()
	out, err := client.CallTool(ctx, call.FunctionName, CoerceParams(call.Parameters))
	var failure error
	if err != nil {
		failure = err
		res.ErrorMessage = "tool call error: " + err.Error()
	} else if text, ok := out.FirstText(); !ok {
		failure = errInvalidResponse
		res.ErrorMessage = errInvalidResponse.Error()
	} else if out.IsError {
		failure = errToolReported
		res.ErrorMessage = text
	} else {
		res.Succeeded = true
		res.ResultText = text
	}
	elapsed := time.Since(start)

	e.stats.record(call.FunctionName, elapsed, failure != nil)
	e.metrics.RecordToolCall(ctx, call.FunctionName, elapsed, failure)
	if failure != nil {
		observe.Fail(span, failure)
		observe.Logger(ctx, e.logger).Warn("toolcall: tool call failed",
			"tool", call.FunctionName,
			"err", res.ErrorMessage,
			"duration", elapsed,
		)
	}
	return res
}

// Stats returns per-tool execution statistics, sorted by tool name.
func (e *Engine) Stats() []ToolStats {
	return e.stats.snapshot()
}
