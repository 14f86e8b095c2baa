package toolcall

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/MrWong99/toolchat/pkg/types"
)

const toolCallsKey = `"tool_calls"`

const fence = "```"

func containsJSON(text string) bool {
	if !strings.Contains(text, toolCallsKey) ||
		!strings.Contains(text, `"name"`) ||
		!strings.Contains(text, `"arguments"`) {
		return false
	}
	return len(extractJSON(text)) > 0
}

// extractJSON parses every tool_calls envelope in text. An envelope whose
// braces never balance, or whose region is not valid JSON, aborts the whole
// parse.
func extractJSON(text string) []types.ToolCall {
	var calls []types.ToolCall
	braces := braceScanner{text: text}
	from := 0
	for {
		rel := strings.Index(text[from:], toolCallsKey)
		if rel < 0 {
			return calls
		}
		keyAt := from + rel

		open := braces.enclosing(keyAt)
		if open < 0 {
			from = keyAt + len(toolCallsKey)
			continue
		}
		end := matchingBrace(text, open)
		if end < 0 {
			return nil
		}
		region := text[open : end+1]
		if !gjson.Valid(region) {
			return nil
		}

		spanStart, spanEnd := fencedSpan(text, open, end)
		entries := gjson.Get(region, "tool_calls")
		if entries.IsArray() {
			entries.ForEach(func(_, entry gjson.Result) bool {
				if call, ok := callFromEntry(entry); ok {
					call.Start, call.End = spanStart, spanEnd
					calls = append(calls, call)
				}
				return true
			})
		}
		from = end + 1
	}
}

// braceScanner tracks the '{' still open while walking text forward.
// Braces inside string literals are skipped. Quotes only open strings inside
// an object; prose around the JSON is not tokenised. Successive calls to
// enclosing must use non-decreasing positions, so all keys of one text cost a
// single pass.
type braceScanner struct {
	text     string
	i        int
	open     []int
	inString bool
}

// enclosing returns the innermost '{' still open at pos, or -1 if there is
// none. When stray prose braces leave pos looking like it sits in a string,
// the nearest unclosed brace before pos is used instead.
func (s *braceScanner) enclosing(pos int) int {
	for ; s.i < pos; s.i++ {
		c := s.text[s.i]
		if s.inString {
			switch c {
			case '\\':
				s.i++
			case '"':
				s.inString = false
			}
			continue
		}
		switch c {
		case '"':
			s.inString = len(s.open) > 0
		case '{':
			s.open = append(s.open, s.i)
		case '}':
			if len(s.open) > 0 {
				s.open = s.open[:len(s.open)-1]
			}
		}
	}
	switch {
	case s.inString:
		return nearestOpenBrace(s.text, pos)
	case len(s.open) == 0:
		return -1
	}
	return s.open[len(s.open)-1]
}

// nearestOpenBrace scans backward from pos for the nearest '{' not closed
// before pos. String literals are not tracked.
func nearestOpenBrace(text string, pos int) int {
	depth := 0
	for i := pos - 1; i >= 0; i-- {
		switch text[i] {
		case '}':
			depth++
		case '{':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

// matchingBrace returns the index of the '}' closing the '{' at open.
// Braces inside string literals are ignored. It returns -1 when the braces
// never balance.
func matchingBrace(text string, open int) int {
	depth := 0
	inString := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// fencedSpan widens [start, end] to cover a code fence wrapping it, e.g.
//
//	```json
//	{...}
//	```
//
// Only whitespace and an optional language tag may separate the fences from
// the object.
func fencedSpan(text string, start, end int) (int, int) {
	i := start
	for i > 0 && isSpace(text[i-1]) {
		i--
	}
	j := i
	for j > 0 && isTagByte(text[j-1]) {
		j--
	}
	if j < len(fence) || text[j-len(fence):j] != fence {
		return start, end
	}
	open := j - len(fence)

	k := end + 1
	for k < len(text) && isSpace(text[k]) {
		k++
	}
	if !strings.HasPrefix(text[k:], fence) {
		return start, end
	}
	return open, k + len(fence) - 1
}

// callFromEntry builds a call from one tool_calls element. Elements without
// a string name or without arguments are rejected.
func callFromEntry(entry gjson.Result) (types.ToolCall, bool) {
	if !entry.IsObject() {
		return types.ToolCall{}, false
	}
	name := entry.Get("name")
	args := entry.Get("arguments")
	if !args.Exists() || name.Type != gjson.String || strings.TrimSpace(name.Str) == "" {
		return types.ToolCall{}, false
	}

	call := types.ToolCall{FunctionName: name.Str}
	switch {
	case args.IsObject():
		call.Parameters = paramsFromObject(args)
	case args.Type == gjson.String:
		if nested := gjson.Parse(args.Str); gjson.Valid(args.Str) && nested.IsObject() {
			call.Parameters = paramsFromObject(nested)
		} else {
			call.Parameters.Set(types.RawArgumentsKey, args.Str)
		}
	}
	return call, true
}

// paramsFromObject keeps string values verbatim and renders every other
// value as compact JSON.
func paramsFromObject(obj gjson.Result) types.Params {
	var p types.Params
	obj.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			p.Set(key.String(), value.Str)
		} else {
			p.Set(key.String(), string(pretty.Ugly([]byte(value.Raw))))
		}
		return true
	})
	return p
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isTagByte(c byte) bool {
	return c == '-' || c == '+' || isIdentByte(c)
}
