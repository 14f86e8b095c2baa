package toolcall

import (
	"math"
	"strconv"
	"strings"

	"github.com/MrWong99/toolchat/pkg/types"
)

// Coerce converts a raw parameter value into the JSON type it most likely
// denotes. The rules are applied in order:
//
//  1. surrounding whitespace is trimmed, then one pair of surrounding double
//     quotes is stripped;
//  2. "true" and "false" become bool, "null" becomes nil;
//  3. digits and signs only, with no decimal point, become int64;
//  4. anything strconv.ParseFloat accepts as a finite number becomes float64;
//  5. everything else stays a string.
//
// Coerce is deterministic: the same input always yields the same value.
func Coerce(raw string) any {
	v := strings.TrimSpace(raw)
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}

	switch v {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}

	if looksInteger(v) {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return v
}

// looksInteger reports whether s consists only of digits and signs and holds
// at least one digit.
func looksInteger(s string) bool {
	digits := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case '0' <= c && c <= '9':
			digits++
		case c == '+' || c == '-':
		default:
			return false
		}
	}
	return digits > 0
}

// CoerceParams applies [Coerce] to every value of p.
func CoerceParams(p types.Params) map[string]any {
	out := make(map[string]any, p.Len())
	for k, v := range p.All() {
		out[k] = Coerce(v)
	}
	return out
}
