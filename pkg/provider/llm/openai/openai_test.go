package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	oai "github.com/openai/openai-go"

	"github.com/MrWong99/toolchat/pkg/provider/llm"
)

func TestToParam(t *testing.T) {
	t.Parallel()
	tests := []struct {
		role string
		ok   func(oai.ChatCompletionMessageParamUnion) bool
	}{
		{"system", func(u oai.ChatCompletionMessageParamUnion) bool { return u.OfSystem != nil }},
		{"user", func(u oai.ChatCompletionMessageParamUnion) bool { return u.OfUser != nil }},
		{"assistant", func(u oai.ChatCompletionMessageParamUnion) bool { return u.OfAssistant != nil }},
	}
	for _, tt := range tests {
		got, err := toParam(llm.Message{Role: tt.role, Content: "x"})
		if err != nil || !tt.ok(got) {
			t.Errorf("toParam(%s) = %+v, %v", tt.role, got, err)
		}
	}
	if _, err := toParam(llm.Message{Role: "tool", Content: "x"}); err == nil {
		t.Error("tool role accepted")
	}
}

// TestNew_Validation checks constructor argument rules.
func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err != errNoKey {
		t.Errorf("keyless without base URL: %v", err)
	}
	if _, err := New("sk-test", ""); err != errNoModel {
		t.Errorf("empty model: %v", err)
	}
	if _, err := New("", "local", WithBaseURL("http://127.0.0.1:8080/v1/")); err != nil {
		t.Errorf("keyless local server rejected: %v", err)
	}
	p, err := New("sk-test", "gpt-4o",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
		WithCapabilities(llm.ModelCapabilities{ContextWindow: 1, MaxOutputTokens: 2}),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
	if p.Capabilities().MaxOutputTokens != 2 || p.Name() != Name {
		t.Errorf("provider = %+v / %q", p.Capabilities(), p.Name())
	}
}

// sseServer streams the given text deltas in the OpenAI chunk format and
// records the decoded request body.
func sseServer(t *testing.T, deltas []string, got *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for i, d := range deltas {
			finish := "null"
			if i == len(deltas)-1 {
				finish = `"stop"`
			}
			content, _ := json.Marshal(d)
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\","+
				"\"choices\":[{\"index\":0,\"delta\":{\"content\":%s},\"finish_reason\":%s}]}\n\n", content, finish)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

// TestStreamCompletion_EndToEnd checks streaming against a local server.
func TestStreamCompletion_EndToEnd(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []string{"Hel", "lo", ""}, &body)
	defer srv.Close()

	p, err := New("", "local-model", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		SystemPrompt: "tools here",
		Messages:     []llm.Message{{Role: "user", Content: "hi"}},
		MaxTokens:    64,
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var text strings.Builder
	var finish string
	for c := range ch {
		text.WriteString(c.Text)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	if text.String() != "Hello" || finish != llm.FinishStop {
		t.Errorf("text %q finish %q", text.String(), finish)
	}
	if body["model"] != "local-model" {
		t.Errorf("model = %v", body["model"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message = %v", first)
	}
}

// TestStreamCompletion_HTTPError checks that a rejected request fails
// before a channel is returned.
func TestStreamCompletion_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"bad model"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := New("", "nope", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	}); err == nil {
		t.Fatal("expected error")
	}
}

// TestStreamCompletion_EmptyRequest checks that a request without messages
// never reaches the network.
func TestStreamCompletion_EmptyRequest(t *testing.T) {
	p, _ := New("sk", "m", WithBaseURL("http://127.0.0.1:1/"))
	if _, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{}); err != errNoMessages {
		t.Fatalf("err = %v, want errNoMessages", err)
	}
}
