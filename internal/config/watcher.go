package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// DefaultPollInterval is how often a [Watcher] stats its file.
const DefaultPollInterval = 5 * time.Second

// fileState identifies one version of the watched file.
type fileState struct {
	size    int64
	modTime time.Time
	sum     [sha256.Size]byte
}

// Watcher polls a config file and hands every new valid configuration to a
// callback. Polling works on bind mounts and network filesystems that never
// deliver change events.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger

	current atomic.Pointer[Config]
	seen    fileState // owned by the Run goroutine after construction
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher loads path once and returns a watcher for it. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultPollInterval, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	cfg, state, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(cfg)
	w.seen = state
	return w, nil
}

// Current returns the configuration most recently accepted.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Run polls until ctx is done, then returns ctx.Err(). For each content
// change that parses and validates, apply receives the current and the new
// configuration; the new one becomes current unless apply fails. A file
// version that failed is not retried until the file changes again.
func (w *Watcher) Run(ctx context.Context, apply func(prev, next *Config) error) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.poll(apply)
		}
	}
}

func (w *Watcher) poll(apply func(prev, next *Config) error) {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config: stat watched file", "path", w.path, "err", err)
		return
	}
	if info.Size() == w.seen.size && info.ModTime().Equal(w.seen.modTime) {
		return
	}

	next, state, err := w.read()
	if err != nil {
		w.logger.Warn("config: ignoring invalid change", "path", w.path, "err", err)
		w.seen.size, w.seen.modTime = info.Size(), info.ModTime()
		return
	}
	unchanged := state.sum == w.seen.sum
	w.seen = state
	if unchanged {
		return
	}

	prev := w.current.Load()
	if apply != nil {
		if err := apply(prev, next); err != nil {
			w.logger.Warn("config: change rejected", "path", w.path, "err", err)
			return
		}
	}
	w.current.Store(next)
	w.logger.Info("config: reloaded", "path", w.path)
}

// read loads and validates the file and fingerprints the bytes it parsed.
func (w *Watcher) read() (*Config, fileState, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fileState{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fileState{}, err
	}
	state := fileState{size: info.Size(), modTime: info.ModTime(), sum: sha256.Sum256(buf.Bytes())}
	cfg, err := LoadFromReader(&buf)
	if err != nil {
		return nil, state, err
	}
	return cfg, state, nil
}
