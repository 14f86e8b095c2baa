package llm

import (
	"testing"

	"github.com/MrWong99/toolchat/pkg/types"
)

func TestFromTranscript(t *testing.T) {
	t.Parallel()

	in := []types.Message{
		types.MustMessage(types.RoleUser, "find cats"),
		types.MustMessage(types.RoleAssistant, `[search(q="cats")]`),
		types.MustMessage(types.RoleTool, "search output: 3 cats"),
	}
	got := FromTranscript(in)
	want := []Message{
		{Role: "user", Content: "find cats"},
		{Role: "assistant", Content: `[search(q="cats")]`},
		{Role: "user", Content: "search output: 3 cats"},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if out := FromTranscript(nil); out == nil || len(out) != 0 {
		t.Errorf("FromTranscript(nil) = %#v", out)
	}
}
