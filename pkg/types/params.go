package types

import (
	"bytes"
	"iter"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Params is an insertion-ordered mapping from parameter name to its raw
// textual value, as parsed from model output.
//
// The zero value is an empty, ready-to-use Params. Copies of a Params share
// storage; use [Params.Clone] to obtain an independent copy.
type Params struct {
	m *orderedmap.OrderedMap[string, string]
}

// NewParams builds a Params from alternating key/value pairs.
// A trailing key without a value is ignored.
func NewParams(kv ...string) Params {
	var p Params
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i], kv[i+1])
	}
	return p
}

// Set stores value under key. Re-setting an existing key keeps its original
// position.
func (p *Params) Set(key, value string) {
	if p.m == nil {
		p.m = orderedmap.New[string, string]()
	}
	p.m.Set(key, value)
}

// Get returns the value stored under key.
func (p Params) Get(key string) (string, bool) {
	if p.m == nil {
		return "", false
	}
	return p.m.Get(key)
}

// Len returns the number of parameters.
func (p Params) Len() int {
	if p.m == nil {
		return 0
	}
	return p.m.Len()
}

// All iterates the parameters in insertion order.
func (p Params) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if p.m == nil {
			return
		}
		for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Keys returns the parameter names in insertion order.
func (p Params) Keys() []string {
	keys := make([]string, 0, p.Len())
	for k := range p.All() {
		keys = append(keys, k)
	}
	return keys
}

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	var out Params
	for k, v := range p.All() {
		out.Set(k, v)
	}
	return out
}

// Equal reports whether p and o hold the same pairs in the same order.
func (p Params) Equal(o Params) bool {
	if p.Len() != o.Len() {
		return false
	}
	if p.m == nil {
		return true
	}
	a, b := p.m.Oldest(), o.m.Oldest()
	for a != nil && b != nil {
		if a.Key != b.Key || a.Value != b.Value {
			return false
		}
		a, b = a.Next(), b.Next()
	}
	return a == nil && b == nil
}

// MarshalJSON encodes p as a JSON object with keys in insertion order.
func (p Params) MarshalJSON() ([]byte, error) {
	if p.m == nil {
		return []byte("{}"), nil
	}
	return p.m.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object, keeping the document's key order.
// A JSON null decodes to an empty Params.
func (p *Params) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		p.m = nil
		return nil
	}
	m := orderedmap.New[string, string]()
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}
	p.m = m
	return nil
}
