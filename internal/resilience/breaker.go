// Package resilience keeps replies flowing while a language model backend
// misbehaves.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// stops calling a backend after repeated failures and probes it again after a
// cooldown. [Failover] puts one breaker in front of each configured LLM
// backend and starts every reply on the first backend whose breaker admits
// the call.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen admits a limited number of probe calls. One failed probe
	// reopens the breaker; enough successful probes close it.
	StateHalfOpen
)

// String returns the lower-case name of s.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 3.
	Threshold int

	// Cooldown is how long an open breaker rejects calls before probing.
	// Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close
	// the breaker again. Default: 1.
	Probes int

	// Clock replaces time.Now. Tests use it to skip the cooldown.
	Clock func() time.Time

	// Logger receives state transitions. Default: slog.Default().
	Logger *slog.Logger
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Breaker guards calls to one backend.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int // half-open probes not yet finished
	probesOK int
}

// NewBreaker returns a closed breaker labelled name in log output.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults()}
}

// Name returns the label passed to [NewBreaker].
func (b *Breaker) Name() string { return b.name }

// Do runs fn when the breaker admits the call and records its outcome.
// It returns [ErrOpen] without calling fn otherwise.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.cfg.Clock().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.inFlight, b.probesOK = 0, 0
		b.cfg.Logger.Info("circuit half-open", "backend", b.name)
	}
	if b.state == StateHalfOpen {
		if b.inFlight+b.probesOK >= b.cfg.Probes {
			return false, ErrOpen
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.inFlight--
		if b.state != StateHalfOpen {
			// Another probe already decided the outcome.
			return
		}
		if err != nil {
			b.openLocked()
			b.cfg.Logger.Warn("circuit reopened after failed probe", "backend", b.name, "err", err)
			return
		}
		b.probesOK++
		if b.probesOK >= b.cfg.Probes {
			b.state = StateClosed
			b.failures = 0
			b.cfg.Logger.Info("circuit closed", "backend", b.name)
		}
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.cfg.Threshold {
		b.openLocked()
		b.cfg.Logger.Warn("circuit opened", "backend", b.name, "failures", b.failures, "err", err)
	}
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.cfg.Clock()
	b.inFlight, b.probesOK = 0, 0
}

// State reports the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the
// next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Clock().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.inFlight, b.probesOK = 0, 0, 0
}
