// Package mcpclient implements [mcp.Dialer] and [mcp.Client] on top of the
// official MCP Go SDK (github.com/modelcontextprotocol/go-sdk).
//
// Supported transports:
//
//   - stdio: the configured command is started as a child process and spoken
//     to over stdin/stdout.
//   - streamable-http and sse: the server is reached over HTTP. Every request
//     is bounded by the configured timeout.
//   - builtin: the in-process tool sets are served by an SDK server connected
//     through an in-memory pipe.
//
// Typical usage:
//
//	d := &mcpclient.Dialer{Builtin: workspace.NewTools(dir)}
//	c, err := d.Dial(ctx, mcp.ClientConfig{Builtin: true}, mcp.Implementation{Name: "toolchat", Version: "1.0.0"})
//	if err != nil { ... }
//	defer c.Close()
//	defs, err := c.Tools(ctx)
//	res, err := c.CallTool(ctx, "read_file", map[string]any{"path": "todo.md"})
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/toolchat/internal/mcp"
	"github.com/MrWong99/toolchat/internal/mcp/tools"
	"github.com/MrWong99/toolchat/pkg/types"
)

// Dialer connects to tool servers. The zero value dials every transport
// except builtin, which serves an empty tool set.
type Dialer struct {
	// HTTPClient is used by the remote transports. Nil selects the SDK default.
	HTTPClient *http.Client

	// Builtin is the tool set served for [mcp.TransportBuiltin].
	Builtin []tools.Tool
}

// Compile-time check: Dialer must implement mcp.Dialer.
var _ mcp.Dialer = (*Dialer)(nil)

// Dial implements [mcp.Dialer].
func (d *Dialer) Dial(ctx context.Context, cfg mcp.ClientConfig, self mcp.Implementation) (mcp.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mcp client: %w", err)
	}

	var (
		transport mcpsdk.Transport
		timeout   time.Duration
		onClose   func()
	)

	switch kind := cfg.Transport(); kind {
	case mcp.TransportStdio:
		executable, args := splitCommand(cfg.Subprocess.Command)
		// The child must outlive ctx, which only bounds the handshake.
		cmd := exec.Command(executable, args...)
		cmd.Env = buildEnv(os.Environ(), cfg.Subprocess.Env)
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case mcp.TransportStreamableHTTP:
		remote := cfg.Remote.WithDefaults()
		transport = &mcpsdk.StreamableClientTransport{Endpoint: remote.Endpoint(), HTTPClient: d.HTTPClient}
		timeout = remote.Timeout()

	case mcp.TransportSSE:
		remote := cfg.Remote.WithDefaults()
		transport = &mcpsdk.SSEClientTransport{Endpoint: remote.Endpoint(), HTTPClient: d.HTTPClient}
		timeout = remote.Timeout()

	case mcp.TransportBuiltin:
		srv, err := NewBuiltinServer(d.Builtin)
		if err != nil {
			return nil, err
		}
		clientSide, serverSide := mcpsdk.NewInMemoryTransports()
		ss, err := srv.Connect(ctx, serverSide, nil)
		if err != nil {
			return nil, fmt.Errorf("mcp client: start builtin server: %w", err)
		}
		transport = clientSide
		onClose = func() { _ = ss.Close() }

	default:
		return nil, fmt.Errorf("mcp client: unsupported transport %q", kind)
	}

	c, err := Connect(ctx, transport, self, timeout)
	if err != nil {
		if onClose != nil {
			onClose()
		}
		return nil, err
	}
	c.onClose = onClose
	return c, nil
}

// Client is a connected MCP session. It implements [mcp.Client].
type Client struct {
	session *mcpsdk.ClientSession

	// timeout bounds every request when positive.
	timeout time.Duration

	onClose   func()
	closeOnce sync.Once
	closeErr  error
}

// Compile-time check: Client must implement mcp.Client.
var _ mcp.Client = (*Client)(nil)

// Connect performs the MCP handshake over transport.
// A positive timeout bounds the handshake and every later request.
func Connect(ctx context.Context, transport mcpsdk.Transport, self mcp.Implementation, timeout time.Duration) (*Client, error) {
	c := &Client{timeout: timeout}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	sdk := mcpsdk.NewClient(&mcpsdk.Implementation{Name: self.Name, Version: self.Version}, nil)
	session, err := sdk.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp client: connect: %w", err)
	}
	c.session = session
	slog.Debug("mcp client: connected", "client", self.Name, "timeout", timeout)
	return c, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Tools implements [mcp.Client].
func (c *Client) Tools(ctx context.Context) ([]types.ToolDefinition, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	defs := []types.ToolDefinition{}
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcp client: list tools: %w", err)
		}
		defs = append(defs, types.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		})
	}
	return defs, nil
}

// CallTool implements [mcp.Client].
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("mcp client: call tool %q: %w", name, err)
	}

	out := &mcp.CallResult{IsError: res.IsError}
	for _, content := range res.Content {
		out.Content = append(out.Content, convertContent(content))
	}
	return out, nil
}

// Close implements [mcp.Client]. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if err := c.session.Close(); err != nil {
			c.closeErr = fmt.Errorf("mcp client: close: %w", err)
		}
		if c.onClose != nil {
			c.onClose()
		}
	})
	return c.closeErr
}

// convertContent maps an SDK content block to the transport-neutral form.
func convertContent(content mcpsdk.Content) mcp.ContentBlock {
	switch v := content.(type) {
	case *mcpsdk.TextContent:
		return mcp.ContentBlock{Type: "text", Text: v.Text, HasText: true}
	case *mcpsdk.ImageContent:
		return mcp.ContentBlock{Type: "image"}
	case *mcpsdk.AudioContent:
		return mcp.ContentBlock{Type: "audio"}
	case *mcpsdk.ResourceLink:
		return mcp.ContentBlock{Type: "resource_link"}
	case *mcpsdk.EmbeddedResource:
		if v.Resource != nil && v.Resource.Text != "" {
			return mcp.ContentBlock{Type: "resource", Text: v.Resource.Text, HasText: true}
		}
		return mcp.ContentBlock{Type: "resource"}
	}
	return mcp.ContentBlock{Type: "unknown"}
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// buildEnv appends extra as sorted KEY=VALUE pairs to base.
func buildEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	env := slices.Clone(base)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
