package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/toolchat/pkg/provider/llm"
)

// ErrAllFailed is returned when no backend of a [Failover] could start a
// stream.
var ErrAllFailed = errors.New("resilience: all llm backends failed")

// BackendStatus is the breaker state of one [Failover] backend.
type BackendStatus struct {
	Name  string
	State State
}

type backend struct {
	provider llm.Provider
	breaker  *Breaker
}

// Failover is an [llm.Provider] that starts each stream on the first backend
// whose breaker admits the call. Only starting a stream fails over; an error
// chunk in an established stream is passed on unchanged.
type Failover struct {
	backends []backend
}

var _ llm.Provider = (*Failover)(nil)

// NewFailover returns a provider that prefers primary and tries fallbacks in
// order. Every backend gets its own [Breaker] configured by cfg.
func NewFailover(cfg BreakerConfig, primary llm.Provider, fallbacks ...llm.Provider) *Failover {
	f := &Failover{}
	for i, p := range append([]llm.Provider{primary}, fallbacks...) {
		name := fmt.Sprintf("%s#%d", p.Name(), i)
		f.backends = append(f.backends, backend{provider: p, breaker: NewBreaker(name, cfg)})
	}
	return f
}

// StreamCompletion implements [llm.Provider].
func (f *Failover) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	var errs []error
	for _, b := range f.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ch <-chan llm.Chunk
		err := b.breaker.Do(func() error {
			var err error
			ch, err = b.provider.StreamCompletion(ctx, req)
			return err
		})
		if err == nil {
			return ch, nil
		}
		if !errors.Is(err, ErrOpen) {
			b.breaker.cfg.Logger.Warn("llm backend failed, trying next", "backend", b.breaker.Name(), "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.breaker.Name(), err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// Capabilities returns the primary backend's capabilities.
func (f *Failover) Capabilities() llm.ModelCapabilities {
	return f.backends[0].provider.Capabilities()
}

// Name returns the primary backend's name.
func (f *Failover) Name() string {
	return f.backends[0].provider.Name()
}

// Status reports the breaker state of every backend in preference order.
func (f *Failover) Status() []BackendStatus {
	out := make([]BackendStatus, len(f.backends))
	for i, b := range f.backends {
		out[i] = BackendStatus{Name: b.breaker.Name(), State: b.breaker.State()}
	}
	return out
}
