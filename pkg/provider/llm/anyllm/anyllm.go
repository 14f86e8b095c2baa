// Package anyllm provides an LLM provider for the hosted and local backends
// of github.com/mozilla-ai/any-llm-go.
//
//	p, err := anyllm.New("anthropic", "claude-sonnet-4-5", anyllmlib.WithAPIKey("sk-ant-..."))
//	p, err := anyllm.New("ollama", "qwen2.5:7b")
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/toolchat/pkg/provider/llm"
)

type factory func(...anyllmlib.Option) (anyllmlib.Provider, error)

// wrap adapts a typed constructor to [factory].
func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) factory {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return fn(opts...) }
}

var factories = map[string]factory{
	"openai":    wrap(anyllmoai.New),
	"anthropic": wrap(anthropic.New),
	"gemini":    wrap(gemini.New),
	"ollama":    wrap(ollama.New),
	"deepseek":  wrap(deepseek.New),
	"mistral":   wrap(mistral.New),
	"groq":      wrap(groq.New),
	"llamacpp":  wrap(llamacpp.New),
	"llamafile": wrap(llamafile.New),
}

// Backends lists the backend names accepted by [New], sorted.
var Backends = slices.Sorted(maps.Keys(factories))

var errNoMessages = errors.New("anyllm: request has no messages")

// Provider streams completions through one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New creates a provider for model on the named backend, one of [Backends]
// in any case. Without an API key option hosted backends read their usual
// environment variable, e.g. OPENAI_API_KEY.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backend == "" || model == "" {
		return nil, fmt.Errorf("anyllm: backend and model are required")
	}
	name := strings.ToLower(backend)
	mk, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q (supported: %s)", backend, strings.Join(Backends, ", "))
	}
	b, err := mk(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.name }

// Model returns the model the provider requests.
func (p *Provider) Model() string { return p.model }

// Capabilities implements llm.Provider from a table of known model families.
func (p *Provider) Capabilities() llm.ModelCapabilities { return limitsFor(p.model) }

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if len(req.Messages) == 0 {
		return nil, errNoMessages
	}
	chunks, errs := p.backend.CompletionStream(ctx, p.params(req))
	return llm.Relay(ctx, llm.Source{
		Next: func() (llm.Chunk, bool) {
			for c := range chunks {
				if len(c.Choices) > 0 {
					return llm.Chunk{Text: c.Choices[0].Delta.Content, FinishReason: c.Choices[0].FinishReason}, true
				}
			}
			return llm.Chunk{}, false
		},
		Err: func() error { return <-errs },
	}), nil
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}

// family holds the limits of models whose lowercase name contains match.
// The first matching row wins.
type family struct {
	match          string
	window, output int
}

var families = []family{
	{"gpt-4.1", 1_047_576, 32_768},
	{"gpt-4o", 128_000, 16_384},
	{"gpt-4-turbo", 128_000, 4_096},
	{"gpt-4", 8_192, 4_096},
	{"gpt-3.5", 16_385, 4_096},
	{"o1-mini", 128_000, 65_536},
	{"o1", 200_000, 100_000},
	{"o3", 200_000, 100_000},
	{"o4-mini", 200_000, 100_000},
	{"claude-3-opus", 200_000, 4_096},
	{"claude-3-5", 200_000, 8_192},
	{"claude", 200_000, 64_000},
	{"gemini-1.5-pro", 2_097_152, 8_192},
	{"gemini-2.5", 1_048_576, 65_536},
	{"gemini", 1_048_576, 8_192},
	{"deepseek", 64_000, 8_192},
	{"mistral-large", 128_000, 8_192},
	{"qwen2.5", 32_768, 8_192},
	{"llama3", 8_192, 4_096},
}

// fallbackLimits suit most current hosted chat models.
var fallbackLimits = llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

func limitsFor(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range families {
		if strings.Contains(lower, f.match) {
			return llm.ModelCapabilities{ContextWindow: f.window, MaxOutputTokens: f.output}
		}
	}
	return fallbackLimits
}
