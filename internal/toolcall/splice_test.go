package toolcall

import (
	"testing"

	"github.com/MrWong99/toolchat/pkg/types"
)

func TestReplaceCallsWithResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		calls []types.ToolCall
		want  string
	}{
		{
			name: "no calls",
			text: "unchanged [x(y=1)]",
			want: "unchanged [x(y=1)]",
		},
		{
			name:  "single span",
			text:  "Before [search(q=1)] after",
			calls: []types.ToolCall{{FunctionName: "search", Start: 7, End: 19, Output: "3 hits"}},
			want:  "Before search output: 3 hits after",
		},
		{
			name: "shared span rendered together",
			text: "[a(), b()]",
			calls: []types.ToolCall{
				{FunctionName: "a", Start: 0, End: 9, Output: "1"},
				{FunctionName: "b", Start: 0, End: 9, Output: "2"},
			},
			want: "a output: 1\nb output: 2",
		},
		{
			name: "offsets refer to original text",
			text: "x [a()] y [b()] z",
			calls: []types.ToolCall{
				{FunctionName: "a", Start: 2, End: 6, Output: "first output that is long"},
				{FunctionName: "b", Start: 10, End: 14, Output: "2"},
			},
			want: "x a output: first output that is long y b output: 2 z",
		},
		{
			name: "out of range skipped",
			text: "short [a()]",
			calls: []types.ToolCall{
				{FunctionName: "gone", Start: 50, End: 60, Output: "x"},
				{FunctionName: "a", Start: 6, End: 10, Output: "ok"},
			},
			want: "short a output: ok",
		},
		{
			name: "inverted and negative skipped",
			text: "abc",
			calls: []types.ToolCall{
				{FunctionName: "inv", Start: 2, End: 1},
				{FunctionName: "neg", Start: -1, End: 1},
			},
			want: "abc",
		},
		{
			name: "overlapping span skipped",
			text: "0123456789",
			calls: []types.ToolCall{
				{FunctionName: "outer", Start: 2, End: 8, Output: "O"},
				{FunctionName: "inner", Start: 1, End: 4, Output: "I"},
			},
			want: "01outer output: O9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ReplaceCallsWithResults(tt.text, tt.calls); got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestReplaceCallsWithResults_ExtractedJSON(t *testing.T) {
	t.Parallel()

	text := "Let me check.\n```json\n" + `{"tool_calls":[{"name":"lookup","arguments":{"id":42}}]}` + "\n```\nOne moment."
	calls := GrammarJSON.Extract(text)
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	calls[0].Output = "found"
	want := "Let me check.\nlookup output: found\nOne moment."
	if got := ReplaceCallsWithResults(text, calls); got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}

func TestApplyResults(t *testing.T) {
	t.Parallel()

	calls := []types.ToolCall{
		{FunctionName: "a", Parameters: types.NewParams("k", "v")},
		{FunctionName: "b"},
		{FunctionName: "c"},
	}
	results := []types.ToolResult{
		{Succeeded: true, ResultText: "ok"},
		{Succeeded: false, ErrorMessage: "boom"},
	}
	got := ApplyResults(calls, results)
	if got[0].Output != "ok" || got[1].Output != "boom" || got[2].Output != "" {
		t.Errorf("outputs = %q, %q, %q", got[0].Output, got[1].Output, got[2].Output)
	}
	if calls[0].Output != "" {
		t.Error("ApplyResults mutated its input")
	}
	got[0].Parameters.Set("k", "changed")
	if v, _ := calls[0].Parameters.Get("k"); v != "v" {
		t.Error("ApplyResults shares parameter storage with its input")
	}
}
