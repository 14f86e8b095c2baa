package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/toolchat/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
llm:
  name: ollama
  model: llama3
tools:
  transport: builtin
`

const watcherUpdatedYAML = `
server:
  log_level: debug
llm:
  name: ollama
  model: llama3
tools:
  transport: builtin
  grammar: bracket
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// reloads records what a running watcher hands to its apply callback.
type reloads struct {
	mu    sync.Mutex
	pairs [][2]*config.Config
	fail  error
	seen  chan struct{}
}

func (r *reloads) apply(prev, next *config.Config) error {
	r.mu.Lock()
	r.pairs = append(r.pairs, [2]*config.Config{prev, next})
	err := r.fail
	r.mu.Unlock()
	select {
	case r.seen <- struct{}{}:
	default:
	}
	return err
}

func (r *reloads) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

func (r *reloads) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
	}
}

// watch starts a watcher on a fresh file holding content and stops it when
// the test ends.
func watch(t *testing.T, content string, fail error) (*config.Watcher, *reloads, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	w, err := config.NewWatcher(path, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	r := &reloads{fail: fail, seen: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, r.apply) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	})
	return w, r, path
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	w, err := config.NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if cur := w.Current(); cur == nil || cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() = %+v", cur)
	}

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	writeFile(t, path, watcherInvalidYAML)
	if _, err := config.NewWatcher(path); err == nil {
		t.Error("invalid file accepted")
	}
}

func TestWatcher_AppliesChange(t *testing.T) {
	t.Parallel()
	w, r, path := watch(t, watcherValidYAML, nil)

	writeFile(t, path, watcherUpdatedYAML)
	r.wait(t)

	r.mu.Lock()
	prev, next := r.pairs[0][0], r.pairs[0][1]
	r.mu.Unlock()
	if prev.Server.LogLevel != config.LogInfo || next.Server.LogLevel != config.LogDebug {
		t.Errorf("levels = %q -> %q", prev.Server.LogLevel, next.Server.LogLevel)
	}
	if d := config.Diff(prev, next); !d.LogLevelChanged || !d.ToolsBehaviourChanged || d.ToolsConnectionChanged {
		t.Errorf("diff = %+v", d)
	}
	if w.Current() != next {
		t.Error("Current() is not the applied config")
	}
}

func TestWatcher_IgnoresInvalidChange(t *testing.T) {
	t.Parallel()
	w, r, path := watch(t, watcherValidYAML, nil)
	initial := w.Current()

	writeFile(t, path, watcherInvalidYAML)
	time.Sleep(150 * time.Millisecond)
	if n := r.count(); n != 0 {
		t.Errorf("apply called %d times for an invalid file", n)
	}
	if w.Current() != initial {
		t.Error("invalid file replaced the current config")
	}

	// Fixing the file is picked up.
	writeFile(t, path, watcherUpdatedYAML)
	r.wait(t)
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("log level after fix = %q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_RejectedChange(t *testing.T) {
	t.Parallel()
	w, r, path := watch(t, watcherValidYAML, errors.New("reload failed"))
	initial := w.Current()

	writeFile(t, path, watcherUpdatedYAML)
	r.wait(t)
	time.Sleep(150 * time.Millisecond)

	if n := r.count(); n != 1 {
		t.Errorf("apply called %d times, want 1 (no retry of the same content)", n)
	}
	if w.Current() != initial {
		t.Error("rejected config became current")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	_, r, path := watch(t, watcherValidYAML, nil)

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if n := r.count(); n != 0 {
		t.Errorf("apply called %d times after a touch", n)
	}
}
