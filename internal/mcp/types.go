package mcp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Transport selects the connection mechanism for the tool server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"

	// TransportSSE communicates via the legacy HTTP+SSE protocol.
	TransportSSE Transport = "sse"

	// TransportBuiltin serves the in-process tool set over an in-memory pipe.
	TransportBuiltin Transport = "builtin"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	switch t {
	case TransportStdio, TransportStreamableHTTP, TransportSSE, TransportBuiltin:
		return true
	}
	return false
}

// IsRemote reports whether t connects over the network.
func (t Transport) IsRemote() bool {
	return t == TransportStreamableHTTP || t == TransportSSE
}

// Default values for a [RemoteStream] left partially empty.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 8888
	DefaultTimeoutSeconds = 10
)

// RemoteStream configures a network tool server.
type RemoteStream struct {
	// Transport is TransportSSE or TransportStreamableHTTP.
	// Empty means TransportSSE.
	Transport Transport

	Host string
	Port int

	// Path is the endpoint path. Empty selects "/sse" for SSE and "/mcp"
	// for streamable HTTP.
	Path string

	// TimeoutSeconds bounds each request. Zero or negative means
	// DefaultTimeoutSeconds.
	TimeoutSeconds int
}

// WithDefaults returns r with empty fields replaced by their defaults.
func (r RemoteStream) WithDefaults() RemoteStream {
	if r.Transport == "" {
		r.Transport = TransportSSE
	}
	if r.Host == "" {
		r.Host = DefaultHost
	}
	if r.Port == 0 {
		r.Port = DefaultPort
	}
	if r.Path == "" {
		if r.Transport == TransportStreamableHTTP {
			r.Path = "/mcp"
		} else {
			r.Path = "/sse"
		}
	}
	if r.TimeoutSeconds <= 0 {
		r.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return r
}

// Endpoint returns the HTTP URL of the server.
func (r RemoteStream) Endpoint() string {
	r = r.WithDefaults()
	path := r.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port)) + path
}

// Timeout returns the per-request timeout.
func (r RemoteStream) Timeout() time.Duration {
	return time.Duration(r.WithDefaults().TimeoutSeconds) * time.Second
}

// Subprocess configures a tool server launched as a child process.
type Subprocess struct {
	// Command is the executable and its arguments, split on whitespace.
	Command string

	// Env holds additional environment variables for the child process.
	Env map[string]string
}

// ClientConfig selects exactly one transport variant.
//
// Builtin selects the in-process tool set; it is mutually exclusive with
// Remote and Subprocess.
type ClientConfig struct {
	Remote     *RemoteStream
	Subprocess *Subprocess
	Builtin    bool
}

// Transport reports which transport the config selects.
// The result is empty when Validate would fail.
func (c ClientConfig) Transport() Transport {
	switch {
	case c.Remote != nil && c.Subprocess == nil && !c.Builtin:
		return c.Remote.WithDefaults().Transport
	case c.Subprocess != nil && c.Remote == nil && !c.Builtin:
		return TransportStdio
	case c.Builtin && c.Remote == nil && c.Subprocess == nil:
		return TransportBuiltin
	}
	return ""
}

// Validate checks that exactly one variant is set and that it is usable.
func (c ClientConfig) Validate() error {
	n := 0
	if c.Remote != nil {
		n++
	}
	if c.Subprocess != nil {
		n++
	}
	if c.Builtin {
		n++
	}
	if n != 1 {
		return fmt.Errorf("mcp: exactly one transport variant must be set, got %d", n)
	}
	switch {
	case c.Remote != nil:
		r := c.Remote.WithDefaults()
		if !r.Transport.IsRemote() {
			return fmt.Errorf("mcp: transport %q is not a remote transport", r.Transport)
		}
		if r.Port < 1 || r.Port > 65535 {
			return fmt.Errorf("mcp: port %d out of range", r.Port)
		}
	case c.Subprocess != nil:
		if strings.TrimSpace(c.Subprocess.Command) == "" {
			return fmt.Errorf("mcp: subprocess transport requires a non-empty command")
		}
	}
	return nil
}

// Equal reports whether c and o describe the same connection.
func (c ClientConfig) Equal(o ClientConfig) bool {
	if c.Builtin != o.Builtin {
		return false
	}
	if (c.Remote == nil) != (o.Remote == nil) || (c.Subprocess == nil) != (o.Subprocess == nil) {
		return false
	}
	if c.Remote != nil && c.Remote.WithDefaults() != o.Remote.WithDefaults() {
		return false
	}
	if c.Subprocess != nil {
		a, b := c.Subprocess, o.Subprocess
		if a.Command != b.Command || len(a.Env) != len(b.Env) {
			return false
		}
		for k, v := range a.Env {
			if bv, ok := b.Env[k]; !ok || bv != v {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy of c.
func (c ClientConfig) Clone() ClientConfig {
	out := ClientConfig{Builtin: c.Builtin}
	if c.Remote != nil {
		r := *c.Remote
		out.Remote = &r
	}
	if c.Subprocess != nil {
		s := Subprocess{Command: c.Subprocess.Command}
		if c.Subprocess.Env != nil {
			s.Env = make(map[string]string, len(c.Subprocess.Env))
			for k, v := range c.Subprocess.Env {
				s.Env[k] = v
			}
		}
		out.Subprocess = &s
	}
	return out
}
