// Package tools defines the [Tool] type shared by the in-process tool sets.
// Each sub-package exports a constructor returning a slice of [Tool] values
// that the builtin transport serves to the tool-call engine.
package tools

import (
	"context"

	"github.com/MrWong99/toolchat/pkg/types"
)

// Tool pairs a model-facing definition with the Go function that runs it.
type Tool struct {
	// Definition carries the tool's name, description and JSON Schema.
	Definition types.ToolDefinition

	// Handler runs the tool. args is the JSON object sent by the caller
	// ("{}" when empty). A returned error is reported to the caller as an
	// application-level tool failure.
	// Handlers must be safe for concurrent use and respect ctx.
	Handler func(ctx context.Context, args string) (string, error)
}
