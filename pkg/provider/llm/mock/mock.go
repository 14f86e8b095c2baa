// Package mock provides a scripted llm.Provider for tests.
//
//	p := &mock.Provider{
//	    StreamChunks: []llm.Chunk{{Text: "Hello"}, {Text: "!", FinishReason: llm.FinishStop}},
//	}
//
// Set the fields before the first call; later changes race with running
// streams unless the test synchronises itself.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/toolchat/pkg/provider/llm"
)

// StreamCall is one recorded StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider replays scripted chunks and records every request.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is streamed by every call unless Replies is set.
	StreamChunks []llm.Chunk

	// Replies scripts calls one by one: call n streams Replies[n], and the
	// last entry repeats.
	Replies [][]llm.Chunk

	// Gate paces streams: one receive is needed per chunk.
	Gate chan struct{}

	// StreamErr makes StreamCompletion fail before streaming.
	StreamErr error

	ModelCapabilities llm.ModelCapabilities

	// ProviderName is returned by Name; empty means "mock".
	ProviderName string

	// StreamCalls lists the calls so far. Prefer [Provider.Calls] while
	// streams may still run.
	StreamCalls []StreamCall
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	call := len(p.StreamCalls)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if err := p.StreamErr; err != nil {
		p.mu.Unlock()
		return nil, err
	}
	script := p.StreamChunks
	if n := len(p.Replies); n > 0 {
		script = p.Replies[min(call, n-1)]
	}
	script = slices.Clone(script)
	gate := p.Gate
	p.mu.Unlock()

	return llm.Relay(ctx, llm.Source{
		Next: func() (llm.Chunk, bool) {
			if len(script) == 0 {
				return llm.Chunk{}, false
			}
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return llm.Chunk{}, false
				}
			}
			c := script[0]
			script = script[1:]
			return c, true
		},
	}), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}

// Calls returns a snapshot of the recorded calls.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.StreamCalls)
}

// Reset forgets the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
}
