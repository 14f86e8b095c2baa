// Package llm defines the Provider interface for the language models that
// write chat replies.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// llama.cpp server, …) and streams the reply text. Tool calls are not sent
// through any native function-calling API: the model writes them into its
// reply in the grammar announced in the system prompt, and the caller
// extracts them from the text.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel that
	// emits Chunk values as they arrive. The channel is closed by the implementation
	// when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that occur
	// after the channel is opened are surfaced as a Chunk with FinishReason
	// [FinishError]; the initial error return is non-nil only for failures that
	// prevent the stream from starting (e.g., invalid credentials, malformed request).
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() ModelCapabilities

	// Name identifies the backend in logs and metrics, e.g. "openai".
	Name() string
}
