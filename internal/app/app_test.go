package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/toolchat/internal/app"
	"github.com/MrWong99/toolchat/internal/chat"
	"github.com/MrWong99/toolchat/internal/config"
	"github.com/MrWong99/toolchat/internal/mcp"
	mcpmock "github.com/MrWong99/toolchat/internal/mcp/mock"
	"github.com/MrWong99/toolchat/internal/toolcall"
	"github.com/MrWong99/toolchat/pkg/memory"
	memmock "github.com/MrWong99/toolchat/pkg/memory/mock"
	"github.com/MrWong99/toolchat/pkg/provider/llm"
	llmmock "github.com/MrWong99/toolchat/pkg/provider/llm/mock"
	"github.com/MrWong99/toolchat/pkg/types"
)

// testConfig returns a minimal config with a stdio tool server.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		LLM: config.LLMConfig{
			ProviderEntry: config.ProviderEntry{Name: "stub", Model: "m1"},
			SystemPrompt:  "You are terse.",
		},
		Tools: config.ToolsConfig{
			Transport: mcp.TransportStdio,
			Command:   "tool-server --stdio",
		},
		Persistence: config.PersistenceConfig{Backend: "mem", Dir: "a"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithLogger(discard)}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func readyz(t *testing.T, a *app.App) (int, map[string]string) {
	t.Helper()
	mux := http.NewServeMux()
	a.Health().Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode /readyz: %v", err)
	}
	return rec.Code, body.Checks
}

// pingingBackend is a persistence mock that also reports connectivity.
type pingingBackend struct {
	memmock.Persistence
	err    error
	closed bool
}

func (p *pingingBackend) Ping(context.Context) error { return p.err }
func (p *pingingBackend) Close()                     { p.closed = true }

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_RequiresPersistence(t *testing.T) {
	t.Parallel()
	if _, err := app.New(context.Background(), testConfig(), &app.Providers{}); err == nil {
		t.Fatal("expected error without persistence")
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	backend := &memmock.Persistence{}
	client := &mcpmock.Client{ToolsResult: []types.ToolDefinition{{Name: "lookup"}}}
	dialer := &mcpmock.Dialer{Client: client}

	a := newApp(t, testConfig(), &app.Providers{LLM: &llmmock.Provider{}, Persistence: backend},
		app.WithToolDialer(dialer),
	)

	if got := dialer.CallCount("Dial"); got != 1 {
		t.Errorf("Dial call count = %d, want 1", got)
	}
	if a.Tools().State() != toolcall.StateReady {
		t.Errorf("tool engine state = %s", a.Tools().State())
	}
	if name, _ := a.Store().CurrentChatName(); name != chat.DefaultChatName {
		t.Errorf("current chat = %q", name)
	}
	s := a.Conversation().Settings()
	if s.ModelName != "m1" || s.SystemPrompt != "You are terse." || !s.AutoExecute {
		t.Errorf("settings = %+v", s)
	}
	if code, checks := readyz(t, a); code != http.StatusOK || checks["tools"] != "ok" {
		t.Errorf("/readyz = %d %v", code, checks)
	}
}

func TestNew_UnreachableToolServer(t *testing.T) {
	t.Parallel()
	dialer := &mcpmock.Dialer{DialErr: errors.New("no such binary")}
	a := newApp(t, testConfig(), &app.Providers{Persistence: &memmock.Persistence{}},
		app.WithToolDialer(dialer),
	)

	if a.Tools().State() != toolcall.StateUninitialized {
		t.Errorf("state = %s", a.Tools().State())
	}
	code, checks := readyz(t, a)
	if code != http.StatusServiceUnavailable || !strings.HasPrefix(checks["tools"], "fail") {
		t.Errorf("/readyz = %d %v", code, checks)
	}
}

func TestNew_PersistencePing(t *testing.T) {
	t.Parallel()
	backend := &pingingBackend{err: errors.New("connection refused")}
	cfg := testConfig()
	cfg.Tools = config.ToolsConfig{}
	a := newApp(t, cfg, &app.Providers{Persistence: backend})

	code, checks := readyz(t, a)
	if code != http.StatusServiceUnavailable || !strings.Contains(checks["persistence"], "connection refused") {
		t.Errorf("/readyz = %d %v", code, checks)
	}
}

func TestNew_BuiltinTools(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Tools = config.ToolsConfig{Transport: mcp.TransportBuiltin, WorkspaceDir: t.TempDir()}
	a := newApp(t, cfg, &app.Providers{Persistence: &memmock.Persistence{}})

	names := map[string]bool{}
	for _, d := range a.Tools().Catalog() {
		names[d.Name] = true
	}
	for _, want := range []string{"list_chats", "search_chats", "get_chat", "write_file"} {
		if !names[want] {
			t.Errorf("builtin catalog lacks %q: %v", want, names)
		}
	}

	res := a.Tools().ExecuteAll(context.Background(), []types.ToolCall{{FunctionName: "list_chats"}})
	if !res[0].Succeeded || !strings.Contains(res[0].ResultText, chat.DefaultChatName) {
		t.Errorf("list_chats = %+v", res[0])
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Server.OpsAddr = "127.0.0.1:0"
	client := &mcpmock.Client{}
	backend := &pingingBackend{}
	a, err := app.New(context.Background(), cfg,
		&app.Providers{LLM: &llmmock.Provider{}, Persistence: backend},
		app.WithToolDialer(&mcpmock.Dialer{Client: client}),
		app.WithLogger(discard),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	if got := client.CallCount("Close"); got != 1 {
		t.Errorf("tool client Close call count = %d, want 1", got)
	}
	if !backend.closed {
		t.Error("backend not closed")
	}
}

func TestApp_ShutdownSavesStoppedReply(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	provider := &llmmock.Provider{Gate: gate, StreamChunks: []llm.Chunk{{Text: "partial"}, {Text: " never"}}}
	backend := &memmock.Persistence{}
	cfg := testConfig()
	cfg.Tools = config.ToolsConfig{}
	a, err := app.New(context.Background(), cfg, &app.Providers{LLM: provider, Persistence: backend}, app.WithLogger(discard))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := a.Conversation().Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	gate <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	stored, ok := backend.Stored(chat.DefaultChatName)
	if !ok || len(stored.Messages) != 2 {
		t.Fatalf("stored chat = %+v", stored)
	}
	if c := stored.Messages[1].Content; c != "" && c != "partial" {
		t.Errorf("stored reply = %q", c)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

func TestReload_NoChanges(t *testing.T) {
	t.Parallel()
	dialer := &mcpmock.Dialer{}
	a := newApp(t, testConfig(), &app.Providers{Persistence: &memmock.Persistence{}}, app.WithToolDialer(dialer))
	if err := a.Reload(context.Background(), testConfig()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := dialer.CallCount("Dial"); got != 1 {
		t.Errorf("Dial call count = %d, want 1", got)
	}
}

func TestReload_LogLevel(t *testing.T) {
	t.Parallel()
	var level slog.LevelVar
	a := newApp(t, testConfig(), &app.Providers{Persistence: &memmock.Persistence{}},
		app.WithToolDialer(&mcpmock.Dialer{}), app.WithLevel(&level))

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	if err := a.Reload(context.Background(), next); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v", level.Level())
	}
}

func TestReload_SwapsLLM(t *testing.T) {
	t.Parallel()
	replacement := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "from m2"}}}
	reg := config.NewRegistry()
	reg.RegisterLLM("stub", func(config.ProviderEntry) (llm.Provider, error) { return replacement, nil })

	cfg := testConfig()
	cfg.Tools = config.ToolsConfig{}
	a := newApp(t, cfg, &app.Providers{LLM: &llmmock.Provider{}, Persistence: &memmock.Persistence{}},
		app.WithRegistry(reg))

	next := testConfig()
	next.Tools = config.ToolsConfig{}
	next.LLM.Model = "m2"
	next.LLM.Temperature = 0.3
	if err := a.Reload(context.Background(), next); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if s := a.Conversation().Settings(); s.ModelName != "m2" || s.Temperature != 0.3 {
		t.Errorf("settings = %+v", s)
	}

	if _, err := a.Conversation().Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Conversation().Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(replacement.Calls()); n != 1 {
		t.Errorf("replacement provider called %d times", n)
	}
}

func TestReload_WithoutRegistry(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), &app.Providers{Persistence: &memmock.Persistence{}}, app.WithToolDialer(&mcpmock.Dialer{}))
	next := testConfig()
	next.LLM.Model = "m2"
	next.LLM.SystemPrompt = "changed"
	if err := a.Reload(context.Background(), next); err == nil {
		t.Fatal("expected error without a registry")
	}
	if a.Conversation().Settings().SystemPrompt != "changed" {
		t.Error("remaining changes were not applied")
	}
}

func TestReload_SwapsPersistence(t *testing.T) {
	t.Parallel()
	old := &pingingBackend{}
	next := &memmock.Persistence{}
	next.Seed(types.ChatHistory{ID: 7, Name: "Imported", LastModified: 100})

	reg := config.NewRegistry()
	reg.RegisterPersistence("mem", func(_ context.Context, c config.PersistenceConfig) (memory.Persistence, error) {
		if c.Dir != "b" {
			t.Errorf("factory got %+v", c)
		}
		return next, nil
	})
	a := newApp(t, testConfig(), &app.Providers{Persistence: old},
		app.WithToolDialer(&mcpmock.Dialer{}), app.WithRegistry(reg))

	cfg := testConfig()
	cfg.Persistence.Dir = "b"
	if err := a.Reload(context.Background(), cfg); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if name, _ := a.Store().CurrentChatName(); name != "Imported" {
		t.Errorf("current chat after swap = %q", name)
	}
	if a.Store().Persistence() != next {
		t.Error("store still uses the old backend")
	}
	if !old.closed {
		t.Error("old backend not closed")
	}
}

func TestReload_Tools(t *testing.T) {
	t.Parallel()
	dialer := &mcpmock.Dialer{}
	a := newApp(t, testConfig(), &app.Providers{Persistence: &memmock.Persistence{}}, app.WithToolDialer(dialer))

	grammar := testConfig()
	grammar.Tools.Grammar = toolcall.GrammarBracket
	off := false
	grammar.Tools.AutoExecute = &off
	if err := a.Reload(context.Background(), grammar); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := dialer.CallCount("Dial"); got != 1 {
		t.Errorf("grammar change reconnected: %d dials", got)
	}
	if a.Conversation().Settings().AutoExecute {
		t.Error("auto execution still on")
	}

	moved := testConfig()
	moved.Tools.Command = "other-server"
	if err := a.Reload(context.Background(), moved); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := dialer.CallCount("Dial"); got != 2 {
		t.Errorf("Dial call count = %d, want 2", got)
	}

	disabled := testConfig()
	disabled.Tools = config.ToolsConfig{}
	disabled.ApplyDefaults()
	if err := a.Reload(context.Background(), disabled); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if a.Tools().State() != toolcall.StateUninitialized {
		t.Errorf("state after disabling = %s", a.Tools().State())
	}
	if code, _ := readyz(t, a); code != http.StatusOK {
		t.Errorf("/readyz with tools disabled = %d", code)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
