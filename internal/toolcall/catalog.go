package toolcall

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/MrWong99/toolchat/pkg/types"
)

type catalogFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type catalogEntry struct {
	Type     string          `json:"type"`
	Function catalogFunction `json:"function"`
}

// FormatCatalog renders defs as an indented JSON array of function
// descriptors, each with name, description and parameters in that order.
// It returns "" for an empty catalog.
func FormatCatalog(defs []types.ToolDefinition) string {
	if len(defs) == 0 {
		return ""
	}
	entries := make([]catalogEntry, len(defs))
	for i, d := range defs {
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object"}
		}
		entries[i] = catalogEntry{
			Type:     "function",
			Function: catalogFunction{Name: d.Name, Description: d.Description, Parameters: params},
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(entries); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

const bracketInstructions = `You can call functions to answer the question. Decide which of the functions below help, and call one or more of them. If none of them fit, say so. If the question lacks a parameter a function requires, say so as well.

To call functions, reply with nothing but a single bracketed list in this format:
[func_name1(param_name1=value1, param_name2=value2), func_name2(param=value)]

The available functions, in JSON format:

`

const jsonInstructions = `You can call functions to answer the question. Decide which of the functions below help, and call one or more of them. If none of them fit, answer normally.

To call functions, reply with a JSON object in this format:
{"tool_calls": [{"name": "func_name", "arguments": {"param_name": "value"}}]}

The available functions, in JSON format:

`

// AugmentPrompt appends grammar-specific calling instructions and the
// rendered catalog to systemPrompt. With an empty catalog systemPrompt is
// returned unchanged.
func AugmentPrompt(g Grammar, systemPrompt string, defs []types.ToolDefinition) string {
	catalog := FormatCatalog(defs)
	if catalog == "" {
		return systemPrompt
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	if systemPrompt != "" {
		if !strings.HasSuffix(systemPrompt, "\n") {
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	if g == GrammarBracket {
		b.WriteString(bracketInstructions)
	} else {
		b.WriteString(jsonInstructions)
	}
	b.WriteString(catalog)
	return b.String()
}
