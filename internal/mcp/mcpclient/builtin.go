package mcpclient

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/toolchat/internal/mcp/tools"
)

// builtinServerName identifies the in-process server in handshakes and logs.
const builtinServerName = "toolchat-builtin"

// NewBuiltinServer returns an MCP server exposing set.
//
// Handler errors are reported as tool-level failures (IsError with the error
// text), never as protocol errors. Tool names must be unique and non-empty.
func NewBuiltinServer(set []tools.Tool) (*mcpsdk.Server, error) {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: builtinServerName, Version: "1.0.0"}, nil)

	seen := make(map[string]bool, len(set))
	for _, t := range set {
		name := t.Definition.Name
		if name == "" {
			return nil, fmt.Errorf("mcp client: builtin tool must have a non-empty name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("mcp client: builtin tool %q must have a non-nil handler", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("mcp client: duplicate builtin tool %q", name)
		}
		seen[name] = true

		schema := t.Definition.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		srv.AddTool(&mcpsdk.Tool{
			Name:        name,
			Description: t.Definition.Description,
			InputSchema: schema,
		}, builtinHandler(t.Handler))
	}
	return srv, nil
}

func builtinHandler(h func(context.Context, string) (string, error)) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := "{}"
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			args = string(req.Params.Arguments)
		}
		out, err := h(ctx, args)
		if err != nil {
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
			}, nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
		}, nil
	}
}
