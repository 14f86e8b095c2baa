package toolcall

import (
	"strings"

	"github.com/MrWong99/toolchat/pkg/types"
)

func containsBracket(text string) bool {
	if !strings.Contains(text, "[") || !strings.Contains(text, "(") {
		return false
	}
	return len(extractBracket(text)) > 0
}

// extractBracket parses every [name(k=v, ...), ...] block in text.
// An unclosed '[' ends the scan; calls found before it are kept.
func extractBracket(text string) []types.ToolCall {
	var calls []types.ToolCall
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		end := matchingClose(text, i, '[', ']')
		if end < 0 {
			break
		}
		found := parseCallList(text[i+1 : end])
		if len(found) == 0 {
			continue
		}
		for _, c := range found {
			c.Start, c.End = i, end
			calls = append(calls, c)
		}
		i = end
	}
	return calls
}

// matchingClose returns the index of the closer matching the opener at
// text[at], tracking nesting and skipping double-quoted strings. It returns
// -1 if the opener is never closed.
func matchingClose(text string, at int, opener, closer byte) int {
	depth := 0
	inString := false
	for i := at; i < len(text); i++ {
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
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parseCallList finds each identifier(args) expression in block.
func parseCallList(block string) []types.ToolCall {
	var calls []types.ToolCall
	i := 0
	for i < len(block) {
		c := block[i]
		if c == '"' {
			end := skipString(block, i)
			if end < 0 {
				break
			}
			i = end + 1
			continue
		}
		if !isIdentStart(c) {
			i++
			continue
		}

		j := i
		for j < len(block) && isIdentByte(block[j]) {
			j++
		}
		name := block[i:j]
		k := j
		for k < len(block) && (block[k] == ' ' || block[k] == '\t') {
			k++
		}
		if k == len(block) || block[k] != '(' {
			i = j
			continue
		}
		end := matchingClose(block, k, '(', ')')
		if end < 0 {
			break
		}
		calls = append(calls, types.ToolCall{
			FunctionName: name,
			Parameters:   parseArgs(block[k+1 : end]),
		})
		i = end + 1
	}
	return calls
}

// parseArgs splits args on top-level commas into trimmed name=value pairs.
// Values are kept verbatim, quotes included. Pieces without '=' are dropped.
func parseArgs(args string) types.Params {
	var p types.Params
	for _, piece := range splitTopLevel(args) {
		eq := indexTopLevel(piece, '=')
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(piece[:eq])
		if name == "" {
			continue
		}
		p.Set(name, strings.TrimSpace(piece[eq+1:]))
	}
	return p
}

// splitTopLevel splits s on commas outside brackets and double quotes.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	inString := false
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
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
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

// indexTopLevel returns the index of the first c outside double quotes.
func indexTopLevel(s string, c byte) int {
	inString := false
	for i := 0; i < len(s); i++ {
		switch {
		case inString && s[i] == '\\':
			i++
		case s[i] == '"':
			inString = !inString
		case !inString && s[i] == c:
			return i
		}
	}
	return -1
}

// skipString returns the index of the quote closing the string opened at
// s[at], or -1.
func skipString(s string, at int) int {
	for i := at + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9')
}
