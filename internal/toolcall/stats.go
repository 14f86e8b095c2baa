package toolcall

import (
	"slices"
	"sync"
	"time"
)

// defaultWindowSize is the number of recent calls kept per tool.
const defaultWindowSize = 100

// ToolStats summarises the recent executions of one tool.
type ToolStats struct {
	Name string

	// Calls is the total number of executions since the engine was created.
	Calls int

	// P50 and P99 are latency percentiles over the recent window.
	P50 time.Duration
	P99 time.Duration

	// ErrorRate is the fraction of failed calls in the recent window (0.0–1.0).
	ErrorRate float64
}

// rollingWindow tracks the last N call latencies of a tool for percentile
// calculation. It uses a ring buffer so that only the most recent [size]
// measurements are kept. All methods are safe for concurrent use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	failed  []bool // parallel to samples
	pos     int    // next write position
	count   int    // total samples written (may exceed size)
	errors  int    // failures currently inside the window
	size    int
}

// newRollingWindow creates a window with the given capacity.
// A size of 0 or negative defaults to defaultWindowSize.
func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &rollingWindow{
		samples: make([]time.Duration, size),
		failed:  make([]bool, size),
		size:    size,
	}
}

// Record adds one measurement, overwriting the oldest once the window is full.
func (w *rollingWindow) Record(latency time.Duration, isError bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count >= w.size && w.failed[w.pos] {
		w.errors--
	}
	w.samples[w.pos] = latency
	w.failed[w.pos] = isError
	if isError {
		w.errors++
	}
	w.pos = (w.pos + 1) % w.size
	w.count++
}

// windowLen returns the number of meaningful samples in the buffer (≤ size).
func (w *rollingWindow) windowLen() int {
	return min(w.count, w.size)
}

// sortedCopy returns a sorted copy of the current window samples.
func (w *rollingWindow) sortedCopy() []time.Duration {
	n := w.windowLen()
	if n == 0 {
		return nil
	}
	cp := slices.Clone(w.samples[:n])
	slices.Sort(cp)
	return cp
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*q)]
}

// P50 returns the median latency, or 0 without measurements.
func (w *rollingWindow) P50() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	sorted := w.sortedCopy()
	if len(sorted) == 0 {
		return 0
	}
	return sorted[len(sorted)/2]
}

// P99 returns the 99th-percentile latency, or 0 without measurements.
func (w *rollingWindow) P99() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return percentile(w.sortedCopy(), 0.99)
}

// ErrorRate returns the fraction of failed calls in the window.
func (w *rollingWindow) ErrorRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.windowLen()
	if n == 0 {
		return 0
	}
	return float64(w.errors) / float64(n)
}

// Count returns the total number of recorded calls.
func (w *rollingWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// statsRegistry keeps one window per tool name.
type statsRegistry struct {
	mu      sync.Mutex
	windows map[string]*rollingWindow
}

func (r *statsRegistry) record(tool string, latency time.Duration, isError bool) {
	r.mu.Lock()
	if r.windows == nil {
		r.windows = make(map[string]*rollingWindow)
	}
	w, ok := r.windows[tool]
	if !ok {
		w = newRollingWindow(defaultWindowSize)
		r.windows[tool] = w
	}
	r.mu.Unlock()
	w.Record(latency, isError)
}

// snapshot returns stats for every tool seen so far, sorted by name.
func (r *statsRegistry) snapshot() []ToolStats {
	r.mu.Lock()
	names := make([]string, 0, len(r.windows))
	windows := make(map[string]*rollingWindow, len(r.windows))
	for name, w := range r.windows {
		names = append(names, name)
		windows[name] = w
	}
	r.mu.Unlock()

	slices.Sort(names)
	out := make([]ToolStats, 0, len(names))
	for _, name := range names {
		w := windows[name]
		out = append(out, ToolStats{
			Name:      name,
			Calls:     w.Count(),
			P50:       w.P50(),
			P99:       w.P99(),
			ErrorRate: w.ErrorRate(),
		})
	}
	return out
}
