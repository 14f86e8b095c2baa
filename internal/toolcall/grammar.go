package toolcall

import (
	"strings"

	"github.com/MrWong99/toolchat/pkg/types"
)

// Grammar selects the tool-call markup the engine recognises in model output.
type Grammar string

const (
	// GrammarJSON recognises a JSON object holding a "tool_calls" array:
	//
	//	{"tool_calls": [{"name": "search", "arguments": {"query": "cats"}}]}
	//
	// The object may be wrapped in a fenced code block, in which case the
	// fence belongs to the call's span.
	GrammarJSON Grammar = "json"

	// GrammarBracket recognises Python-style calls inside square brackets:
	//
	//	[search(query="cats", limit=5), weather(city=Oslo)]
	//
	// All calls of one block share the block's span.
	GrammarBracket Grammar = "bracket"

	// GrammarAuto picks GrammarJSON when the text contains a "tool_calls"
	// key and GrammarBracket otherwise.
	GrammarAuto Grammar = "auto"
)

// IsValid reports whether g is a recognised grammar.
func (g Grammar) IsValid() bool {
	return g == GrammarJSON || g == GrammarBracket || g == GrammarAuto
}

// For returns the concrete grammar used for text. Only GrammarAuto depends
// on the text.
func (g Grammar) For(text string) Grammar {
	if g != GrammarAuto {
		return g
	}
	if strings.Contains(text, toolCallsKey) {
		return GrammarJSON
	}
	return GrammarBracket
}

// Contains reports whether text holds at least one well-formed tool call.
// It runs in time linear in len(text) and is cheap enough to call on every
// streamed chunk.
func (g Grammar) Contains(text string) bool {
	switch g.For(text) {
	case GrammarJSON:
		return containsJSON(text)
	case GrammarBracket:
		return containsBracket(text)
	}
	return false
}

// Extract parses every tool call in text, in left-to-right order. It never
// fails: malformed calls are skipped and unbalanced JSON envelopes yield an
// empty result.
func (g Grammar) Extract(text string) []types.ToolCall {
	switch g.For(text) {
	case GrammarJSON:
		return extractJSON(text)
	case GrammarBracket:
		return extractBracket(text)
	}
	return nil
}
