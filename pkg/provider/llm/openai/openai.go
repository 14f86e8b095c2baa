// Package openai provides an LLM provider for any server that speaks the
// OpenAI chat completions API, such as OpenAI itself, a local llama.cpp or
// vLLM server, or LM Studio.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/toolchat/pkg/provider/llm"
)

// Name is reported by [Provider.Name].
const Name = "openai-compatible"

// defaultCaps applies when the server's model is unknown, which is the
// common case for self-hosted servers.
var defaultCaps = llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048}

var (
	errNoModel    = errors.New("openai: model must not be empty")
	errNoKey      = errors.New("openai: apiKey must not be empty without a base URL")
	errNoMessages = errors.New("openai: request has no messages")
)

// Provider streams chat completions from an OpenAI compatible endpoint.
type Provider struct {
	client oai.Client
	model  string
	caps   llm.ModelCapabilities
}

var _ llm.Provider = (*Provider)(nil)

// settings collects what the options change before the client is built.
type settings struct {
	key     string
	request []option.RequestOption
	caps    llm.ModelCapabilities
	local   bool
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at another server. Local servers usually
// expose the API below "/v1/" and then need no API key.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.local = url != ""
		s.request = append(s.request, option.WithBaseURL(url))
	}
}

// WithOrganization sends the OpenAI organization id with every request.
func WithOrganization(org string) Option {
	return func(s *settings) { s.request = append(s.request, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request, including the whole streamed body.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.request = append(s.request, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// WithMaxRetries sets how often a failed request is retried. Negative
// values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.request = append(s.request, option.WithMaxRetries(n))
		}
	}
}

// WithCapabilities declares the model limits, which cannot be discovered
// from arbitrary servers.
func WithCapabilities(caps llm.ModelCapabilities) Option {
	return func(s *settings) { s.caps = caps }
}

// New returns a provider for model. apiKey may only be empty together with
// [WithBaseURL].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errNoModel
	}
	s := settings{key: apiKey, caps: defaultCaps}
	for _, o := range opts {
		o(&s)
	}
	if s.key == "" && !s.local {
		return nil, errNoKey
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(s.key)}, s.request...)
	return &Provider{client: oai.NewClient(reqOpts...), model: model, caps: s.caps}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return Name }

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

// StreamCompletion implements llm.Provider. HTTP and authentication errors
// are returned directly; failures mid-stream arrive as a final error chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	return llm.Relay(ctx, llm.Source{
		Next: func() (llm.Chunk, bool) {
			for stream.Next() {
				if c := stream.Current(); len(c.Choices) > 0 {
					return llm.Chunk{Text: c.Choices[0].Delta.Content, FinishReason: c.Choices[0].FinishReason}, true
				}
			}
			return llm.Chunk{}, false
		},
		Err:   stream.Err,
		Close: func() { _ = stream.Close() },
	}), nil
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, errNoMessages
	}
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := toParam(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

// toParam maps a transcript message onto the SDK union by role.
func toParam(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "assistant":
		return oai.AssistantMessage(m.Content), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
