package mcp_test

import (
	"testing"
	"time"

	"github.com/MrWong99/toolchat/internal/mcp"
)

func TestRemoteStreamDefaults(t *testing.T) {
	t.Parallel()

	r := mcp.RemoteStream{}
	if got, want := r.Endpoint(), "http://localhost:8888/sse"; got != want {
		t.Errorf("Endpoint = %q, want %q", got, want)
	}
	if got := r.Timeout(); got != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", got)
	}

	s := mcp.RemoteStream{Transport: mcp.TransportStreamableHTTP, Host: "::1", Port: 9000, Path: "rpc", TimeoutSeconds: 3}
	if got, want := s.Endpoint(), "http://[::1]:9000/rpc"; got != want {
		t.Errorf("Endpoint = %q, want %q", got, want)
	}
	if got := s.Timeout(); got != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", got)
	}
}

func TestClientConfigTransport(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  mcp.ClientConfig
		want mcp.Transport
	}{
		{"remote default", mcp.ClientConfig{Remote: &mcp.RemoteStream{}}, mcp.TransportSSE},
		{"remote http", mcp.ClientConfig{Remote: &mcp.RemoteStream{Transport: mcp.TransportStreamableHTTP}}, mcp.TransportStreamableHTTP},
		{"subprocess", mcp.ClientConfig{Subprocess: &mcp.Subprocess{Command: "srv"}}, mcp.TransportStdio},
		{"builtin", mcp.ClientConfig{Builtin: true}, mcp.TransportBuiltin},
		{"both", mcp.ClientConfig{Remote: &mcp.RemoteStream{}, Subprocess: &mcp.Subprocess{Command: "srv"}}, ""},
		{"none", mcp.ClientConfig{}, ""},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Transport(); got != tt.want {
				t.Errorf("Transport() = %q, want %q", got, tt.want)
			}
			if err := tt.cfg.Validate(); (err == nil) != (tt.want != "") {
				t.Errorf("Validate() = %v", err)
			}
		})
	}

	if err := (mcp.ClientConfig{Remote: &mcp.RemoteStream{Transport: mcp.TransportStdio}}).Validate(); err == nil {
		t.Error("remote variant with stdio transport accepted")
	}
}

func TestClientConfigEqualAndClone(t *testing.T) {
	t.Parallel()

	a := mcp.ClientConfig{Subprocess: &mcp.Subprocess{Command: "srv --x", Env: map[string]string{"K": "v"}}}
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatal("clone not equal to original")
	}
	b.Subprocess.Env["K"] = "w"
	if a.Equal(b) {
		t.Error("Equal ignored env change")
	}
	if a.Subprocess.Env["K"] != "v" {
		t.Error("Clone shares env map")
	}

	r1 := mcp.ClientConfig{Remote: &mcp.RemoteStream{}}
	r2 := mcp.ClientConfig{Remote: &mcp.RemoteStream{Host: "localhost", Port: 8888}}
	if !r1.Equal(r2) {
		t.Error("defaults should compare equal to explicit values")
	}
	if r1.Equal(mcp.ClientConfig{Builtin: true}) {
		t.Error("different variants compared equal")
	}
	if !mcp.TransportBuiltin.IsValid() || mcp.Transport("ws").IsValid() {
		t.Error("IsValid misclassifies transports")
	}
}
