// Package types defines the data model shared across toolchat packages.
//
// These types form the lingua franca between the tool-call engine, the chat
// store, the persistence backends and the inference runner. Their JSON
// encoding is the on-disk transcript format and must round-trip exactly.
package types

// RawArgumentsKey is the parameter name under which an unparseable tool-call
// arguments string is preserved verbatim.
const RawArgumentsKey = "raw_arguments"

// ToolCall is one tool invocation requested by model output.
type ToolCall struct {
	// FunctionName is the tool to invoke. Never empty for extracted calls.
	FunctionName string `json:"func_name"`

	// Parameters holds the raw textual argument values in parse order.
	// Type coercion happens at execution time, not here.
	Parameters Params `json:"params"`

	// Start and End are the inclusive offsets of the markup this call was
	// parsed from. 0 ≤ Start ≤ End < len(text) at extraction time.
	Start int `json:"start_index"`
	End   int `json:"end_index"`

	// Output is the tool's result text, filled in after execution.
	Output string `json:"output"`
}

// Clone returns a deep copy of c.
func (c ToolCall) Clone() ToolCall {
	c.Parameters = c.Parameters.Clone()
	return c
}

// CloneToolCalls deep-copies a slice of tool calls. A nil slice stays nil.
func CloneToolCalls(calls []ToolCall) []ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		out[i] = c.Clone()
	}
	return out
}

// ToolResult is the outcome of executing a single [ToolCall].
type ToolResult struct {
	Call ToolCall

	// Succeeded reports whether ResultText is meaningful.
	Succeeded bool

	// ResultText is the tool's text output when Succeeded is true.
	ResultText string

	// ErrorMessage describes the failure when Succeeded is false.
	ErrorMessage string
}

// Text returns ResultText for successful results and ErrorMessage otherwise.
func (r ToolResult) Text() string {
	if r.Succeeded {
		return r.ResultText
	}
	return r.ErrorMessage
}

// ToolDefinition describes a tool advertised by the connected tool server.
type ToolDefinition struct {
	// Name uniquely identifies the tool.
	Name string `json:"name"`

	// Description is the human-readable summary shown to the model.
	Description string `json:"description"`

	// Parameters is the JSON Schema of the tool's input object.
	Parameters map[string]any `json:"parameters"`
}
