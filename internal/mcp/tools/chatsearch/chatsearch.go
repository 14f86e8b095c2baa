// Package chatsearch provides built-in tools that expose the chat store's
// transcripts to the model, so a conversation can refer back to earlier ones.
//
// Three tools are exported via [NewTools]:
//   - "list_chats" lists chat names, most recent first.
//   - "search_chats" finds messages containing a text fragment.
//   - "get_chat" returns the tail of one transcript.
//
// All handlers are safe for concurrent use as long as the [Reader] is.
package chatsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/toolchat/internal/mcp/tools"
	"github.com/MrWong99/toolchat/pkg/types"
)

// Reader is the read side of the chat store used by the tools.
type Reader interface {
	// Chats returns copies of all chats, most recent first.
	Chats() []types.ChatHistory

	// Chat returns a copy of the named chat.
	Chat(name string) (types.ChatHistory, error)
}

const (
	defaultLimit = 10
	maxLimit     = 100
	snippetRunes = 160
)

type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type searchHit struct {
	Chat      string `json:"chat"`
	MessageID int    `json:"message_id"`
	Role      string `json:"role"`
	Snippet   string `json:"snippet"`
}

type chatSummary struct {
	Name         string `json:"name"`
	LastModified int64  `json:"last_modified"`
	Messages     int    `json:"messages"`
}

type getArgs struct {
	Name  string `json:"name"`
	LastN int    `json:"last_n,omitempty"`
}

type transcriptLine struct {
	ID      int    `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	}
	return n
}

// snippet returns up to snippetRunes runes of content centred on the match at
// byte offset at.
func snippet(content string, at int) string {
	if utf8.RuneCountInString(content) <= snippetRunes {
		return content
	}
	start := max(0, at-snippetRunes/2)
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	out := []rune(content[start:])
	if len(out) > snippetRunes {
		out = out[:snippetRunes]
	}
	s := string(out)
	if start > 0 {
		s = "…" + s
	}
	return s
}

func marshal(tool string, v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("chat search: %s: encode result: %w", tool, err)
	}
	return string(out), nil
}

func listChatsHandler(r Reader) func(context.Context, string) (string, error) {
	return func(_ context.Context, _ string) (string, error) {
		chats := r.Chats()
		out := make([]chatSummary, 0, len(chats))
		for _, c := range chats {
			out = append(out, chatSummary{Name: c.Name, LastModified: c.LastModified, Messages: len(c.Messages)})
		}
		return marshal("list_chats", out)
	}
}

func searchChatsHandler(r Reader) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a searchArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("chat search: search_chats: parse arguments: %w", err)
		}
		query := strings.ToLower(strings.TrimSpace(a.Query))
		if query == "" {
			return "", fmt.Errorf("chat search: search_chats: query must not be empty")
		}
		limit := clampLimit(a.Limit)

		hits := []searchHit{}
		for _, c := range r.Chats() {
			if err := ctx.Err(); err != nil {
				return "", fmt.Errorf("chat search: search_chats: %w", err)
			}
			for _, m := range c.Messages {
				at := strings.Index(strings.ToLower(m.Content), query)
				if at < 0 {
					continue
				}
				hits = append(hits, searchHit{
					Chat:      c.Name,
					MessageID: m.ID,
					Role:      string(m.Role),
					Snippet:   snippet(m.Content, at),
				})
				if len(hits) == limit {
					return marshal("search_chats", hits)
				}
			}
		}
		return marshal("search_chats", hits)
	}
}

func getChatHandler(r Reader) func(context.Context, string) (string, error) {
	return func(_ context.Context, args string) (string, error) {
		var a getArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("chat search: get_chat: parse arguments: %w", err)
		}
		if a.Name == "" {
			return "", fmt.Errorf("chat search: get_chat: name must not be empty")
		}
		c, err := r.Chat(a.Name)
		if err != nil {
			return "", fmt.Errorf("chat search: get_chat: %w", err)
		}
		msgs := c.Messages
		if n := clampLimit(a.LastN); len(msgs) > n {
			msgs = msgs[len(msgs)-n:]
		}
		lines := make([]transcriptLine, 0, len(msgs))
		for _, m := range msgs {
			lines = append(lines, transcriptLine{ID: m.ID, Role: string(m.Role), Content: m.Content})
		}
		return marshal("get_chat", lines)
	}
}

// NewTools returns the chat search tool set reading from r.
func NewTools(r Reader) []tools.Tool {
	return []tools.Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "list_chats",
				Description: "List all saved chats, most recently modified first, with their message counts.",
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			},
			Handler: listChatsHandler(r),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "search_chats",
				Description: "Find messages in saved chats that contain the query text (case-insensitive).",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string", "description": "Text to look for."},
						"limit": map[string]any{
							"type":        "integer",
							"description": "Maximum number of hits. Defaults to 10.",
							"minimum":     1,
							"maximum":     maxLimit,
						},
					},
					"required": []string{"query"},
				},
			},
			Handler: searchChatsHandler(r),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "get_chat",
				Description: "Return the most recent messages of a saved chat.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{"type": "string", "description": "Exact chat name."},
						"last_n": map[string]any{
							"type":        "integer",
							"description": "Number of trailing messages to return. Defaults to 10.",
							"minimum":     1,
							"maximum":     maxLimit,
						},
					},
					"required": []string{"name"},
				},
			},
			Handler: getChatHandler(r),
		},
	}
}
