// Package mcp defines the contract between toolchat and a Model Context
// Protocol (MCP) tool server.
//
// A [Dialer] turns a [ClientConfig] into a connected [Client]. Connecting
// performs the protocol handshake, so a returned Client is ready to list and
// call tools. The tool-call engine owns the Client's lifecycle and swaps it
// whenever the configuration changes.
//
// Implementations must be safe for concurrent use.
package mcp

import (
	"context"

	"github.com/MrWong99/toolchat/pkg/types"
)

// Implementation identifies this program to the tool server during the
// handshake.
type Implementation struct {
	Name    string
	Version string
}

// ContentBlock is one element of a tool response.
type ContentBlock struct {
	// Type is the protocol content type, e.g. "text" or "image".
	Type string

	// Text is the block's text. Only meaningful when HasText is true.
	Text string

	// HasText reports whether the block carried a text field.
	HasText bool
}

// CallResult is the structured response of a tool call.
type CallResult struct {
	Content []ContentBlock

	// IsError is set when the tool reported an application-level failure.
	IsError bool
}

// FirstText returns the text of the first block that has one.
func (r *CallResult) FirstText() (string, bool) {
	if r == nil {
		return "", false
	}
	for _, b := range r.Content {
		if b.HasText {
			return b.Text, true
		}
	}
	return "", false
}

// Client is a connected tool server session.
type Client interface {
	// Tools lists the tools advertised by the server.
	Tools(ctx context.Context) ([]types.ToolDefinition, error)

	// CallTool invokes the named tool with structured arguments. A Go error
	// is returned only for transport or protocol failures.
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)

	// Close terminates the session and releases its resources.
	Close() error
}

// Dialer establishes client sessions.
type Dialer interface {
	// Dial connects to the server described by cfg and completes the
	// handshake, announcing self as the client implementation.
	Dial(ctx context.Context, cfg ClientConfig, self Implementation) (Client, error)
}

// DialerFunc adapts a function to the [Dialer] interface.
type DialerFunc func(ctx context.Context, cfg ClientConfig, self Implementation) (Client, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, cfg ClientConfig, self Implementation) (Client, error) {
	return f(ctx, cfg, self)
}
