package toolcall

import (
	"cmp"
	"slices"
	"strings"

	"github.com/MrWong99/toolchat/pkg/types"
)

// span groups the calls sharing one source region.
type span struct {
	start, end int
	calls      []types.ToolCall
}

// ReplaceCallsWithResults substitutes each call's source span in text with
// "<name> output: <output>". Calls sharing a span are rendered together, one
// per line, in their original order.
//
// Offsets always refer to the original text. Spans are applied from the
// highest end offset downwards so earlier spans stay valid. A span that is
// out of range, inverted, or overlaps an already applied span is skipped.
func ReplaceCallsWithResults(text string, calls []types.ToolCall) string {
	if len(calls) == 0 {
		return text
	}

	var spans []*span
	byRange := make(map[[2]int]*span)
	for _, c := range calls {
		key := [2]int{c.Start, c.End}
		s, ok := byRange[key]
		if !ok {
			s = &span{start: c.Start, end: c.End}
			byRange[key] = s
			spans = append(spans, s)
		}
		s.calls = append(s.calls, c)
	}
	slices.SortStableFunc(spans, func(a, b *span) int {
		return cmp.Compare(b.end, a.end)
	})

	out := text
	limit := len(text)
	for _, s := range spans {
		if s.start < 0 || s.start > s.end || s.end >= len(out) || s.end >= limit {
			continue
		}
		out = out[:s.start] + renderSpan(s.calls) + out[s.end+1:]
		limit = s.start
	}
	return out
}

func renderSpan(calls []types.ToolCall) string {
	var b strings.Builder
	for i, c := range calls {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(c.FunctionName)
		b.WriteString(" output: ")
		b.WriteString(c.Output)
	}
	return b.String()
}

// ApplyResults returns copies of calls with Output set from the result at the
// same index. Failed results contribute their error message.
func ApplyResults(calls []types.ToolCall, results []types.ToolResult) []types.ToolCall {
	out := types.CloneToolCalls(calls)
	for i := range out {
		if i >= len(results) {
			break
		}
		out[i].Output = results[i].Text()
	}
	return out
}
