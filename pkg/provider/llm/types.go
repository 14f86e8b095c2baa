package llm

import "github.com/MrWong99/toolchat/pkg/types"

// Finish reasons reported on the last [Chunk] of a stream.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishError  = "error"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional instruction injected before the history. It
	// carries the tool catalog when tools are enabled.
	SystemPrompt string

	// Temperature controls output randomness. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the provider
	// default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. For a chunk with
	// FinishReason [FinishError] it holds the error message instead.
	Text string

	// FinishReason is set on the final chunk and indicates why generation stopped.
	FinishReason string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int
}

// FromTranscript converts chat messages into the provider message format.
// Tool messages become user turns since their calls were written as text
// rather than through a native tool-calling API.
func FromTranscript(msgs []types.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if m.Role == types.RoleTool {
			role = string(types.RoleUser)
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return out
}
