// Package mock provides in-memory test doubles for [mcp.Dialer] and
// [mcp.Client].
//
// Both types record every method call for assertion in tests and expose
// exported fields that control what they return. They are safe for concurrent
// use via an internal [sync.Mutex].
//
// Typical usage:
//
//	c := &mock.Client{ToolsResult: []types.ToolDefinition{{Name: "search"}}}
//	c.CallToolResults = map[string]*mcp.CallResult{
//	    "search": {Content: []mcp.ContentBlock{{Type: "text", Text: "3 hits", HasText: true}}},
//	}
//	d := &mock.Dialer{Client: c}
//
//	// inject d into the system under test …
//
//	if got := c.CallCount("CallTool"); got != 1 {
//	    t.Errorf("expected 1 CallTool call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/toolchat/internal/mcp"
	"github.com/MrWong99/toolchat/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(method string, args ...any) {
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Client is a configurable test double for [mcp.Client].
// All exported *Err fields default to nil (success).
type Client struct {
	recorder

	// ──── Tools ────────────────────────────────────────────────────────────

	// ToolsResult is returned by [Client.Tools]. When nil an empty non-nil
	// slice is returned.
	ToolsResult []types.ToolDefinition

	// ToolsErr is returned by [Client.Tools] when non-nil.
	ToolsErr error

	// ──── CallTool ─────────────────────────────────────────────────────────

	// CallToolResults maps tool names to their responses. Unknown names get
	// CallToolDefault, or an empty result when that is nil too.
	CallToolResults map[string]*mcp.CallResult

	// CallToolDefault is returned for tools missing from CallToolResults.
	CallToolDefault *mcp.CallResult

	// CallToolErrs maps tool names to transport errors.
	CallToolErrs map[string]error

	// CallToolHook, when set, runs before the response is chosen. It is
	// called without the mock's lock held, so it may block.
	CallToolHook func(ctx context.Context, name string, args map[string]any)

	// ──── Close ────────────────────────────────────────────────────────────

	// CloseErr is returned by [Client.Close] when non-nil.
	CloseErr error
}

// Tools implements [mcp.Client].
func (c *Client) Tools(_ context.Context) ([]types.ToolDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Tools")
	if c.ToolsErr != nil {
		return nil, c.ToolsErr
	}
	out := make([]types.ToolDefinition, len(c.ToolsResult))
	copy(out, c.ToolsResult)
	return out, nil
}

// CallTool implements [mcp.Client].
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {
	c.mu.Lock()
	c.record("CallTool", name, args)
	hook := c.CallToolHook
	c.mu.Unlock()

	if hook != nil {
		hook(ctx, name, args)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.CallToolErrs[name]; err != nil {
		return nil, err
	}
	res, ok := c.CallToolResults[name]
	if !ok {
		res = c.CallToolDefault
	}
	if res == nil {
		return &mcp.CallResult{}, nil
	}
	// Return a copy so the caller cannot mutate the configured result.
	cp := *res
	cp.Content = append([]mcp.ContentBlock(nil), res.Content...)
	return &cp, nil
}

// Close implements [mcp.Client].
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Close")
	return c.CloseErr
}

// Dialer is a configurable test double for [mcp.Dialer].
type Dialer struct {
	recorder

	// Client is returned by [Dialer.Dial] when DialErr is nil.
	// When nil, a fresh empty *Client is returned.
	Client mcp.Client

	// DialErr is returned by [Dialer.Dial] when non-nil.
	DialErr error
}

// Dial implements [mcp.Dialer].
func (d *Dialer) Dial(_ context.Context, cfg mcp.ClientConfig, self mcp.Implementation) (mcp.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Dial", cfg, self)
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Client == nil {
		return &Client{}, nil
	}
	return d.Client, nil
}

// Ensure the doubles satisfy the interfaces at compile time.
var (
	_ mcp.Client = (*Client)(nil)
	_ mcp.Dialer = (*Dialer)(nil)
)
