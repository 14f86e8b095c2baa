package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/toolchat/pkg/provider/llm"
	"github.com/MrWong99/toolchat/pkg/provider/llm/mock"
)

var errDown = errors.New("backend down")

func failoverConfig(clock *fakeClock) BreakerConfig {
	return BreakerConfig{Threshold: 1, Cooldown: time.Minute, Clock: clock.Now, Logger: quiet}
}

func collect(t *testing.T, ch <-chan llm.Chunk) string {
	t.Helper()
	var text string
	for c := range ch {
		text += c.Text
	}
	return text
}

func TestFailover_UsesPrimary(t *testing.T) {
	t.Parallel()
	primary := &mock.Provider{ProviderName: "a", StreamChunks: []llm.Chunk{{Text: "one"}}}
	fallback := &mock.Provider{ProviderName: "b", StreamChunks: []llm.Chunk{{Text: "two"}}}
	f := NewFailover(failoverConfig(newFakeClock()), primary, fallback)

	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got := collect(t, ch); got != "one" {
		t.Errorf("text = %q", got)
	}
	if len(fallback.Calls()) != 0 {
		t.Error("fallback called while primary is healthy")
	}
}

func TestFailover_FallsBack(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	primary := &mock.Provider{ProviderName: "a", StreamErr: errDown}
	fallback := &mock.Provider{ProviderName: "b", StreamChunks: []llm.Chunk{{Text: "two"}}}
	f := NewFailover(failoverConfig(clock), primary, fallback)

	for range 2 {
		ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
		if got := collect(t, ch); got != "two" {
			t.Errorf("text = %q", got)
		}
	}
	if n := len(primary.Calls()); n != 1 {
		t.Errorf("primary calls = %d, want 1 (open breaker skips it)", n)
	}

	status := f.Status()
	if len(status) != 2 || status[0].State != StateOpen || status[1].State != StateClosed {
		t.Errorf("status = %+v", status)
	}
	if status[0].Name != "a#0" || status[1].Name != "b#1" {
		t.Errorf("names = %+v", status)
	}

	// After the cooldown the primary is probed again.
	primary.StreamErr = nil
	primary.StreamChunks = []llm.Chunk{{Text: "back"}}
	clock.Advance(time.Minute)
	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got := collect(t, ch); got != "back" {
		t.Errorf("text after cooldown = %q", got)
	}
}

func TestFailover_AllFail(t *testing.T) {
	t.Parallel()
	f := NewFailover(failoverConfig(newFakeClock()),
		&mock.Provider{StreamErr: errDown},
		&mock.Provider{StreamErr: errDown},
	)
	_, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errDown) {
		t.Errorf("err = %v", err)
	}
	_, err = f.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("err with open breakers = %v, want ErrOpen", err)
	}
}

func TestFailover_CancelledContext(t *testing.T) {
	t.Parallel()
	primary := &mock.Provider{}
	f := NewFailover(failoverConfig(newFakeClock()), primary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.StreamCompletion(ctx, llm.CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(primary.Calls()) != 0 {
		t.Error("backend called with a cancelled context")
	}
}

func TestFailover_DelegatesMetadata(t *testing.T) {
	t.Parallel()
	primary := &mock.Provider{
		ProviderName:      "primary",
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8192},
	}
	f := NewFailover(BreakerConfig{}, primary, &mock.Provider{ProviderName: "other"})
	if f.Name() != "primary" {
		t.Errorf("Name() = %q", f.Name())
	}
	if f.Capabilities().ContextWindow != 8192 {
		t.Errorf("Capabilities() = %+v", f.Capabilities())
	}
}
