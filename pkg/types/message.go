package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the local-time layout used for message timestamps in
// serialized transcripts.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrInvalidRole is returned when a message is constructed or decoded with a
// role other than user, assistant or tool.
var ErrInvalidRole = errors.New("types: invalid message role")

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// IsValid reports whether r is one of the recognised roles.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleTool
}

// ParseRole converts s into a Role, failing for unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Message is one turn of a chat transcript.
type Message struct {
	// ID is unique within the owning chat. The chat store assigns it.
	ID int

	IsLiked    bool
	IsDisliked bool

	Role    Role
	Content string

	// Timestamp is always whole seconds so that it survives the
	// second-resolution transcript format.
	Timestamp time.Time

	// TokensPerSecond is the generation throughput for assistant messages.
	TokensPerSecond float64

	// ModelName names the model that produced an assistant message.
	ModelName string

	ToolCalls []ToolCall
}

// NewMessage constructs a message stamped with the current time.
// It fails with [ErrInvalidRole] for an unrecognised role; an invalid role is
// a caller bug, so callers normally propagate the error unchanged.
func NewMessage(role Role, content string) (Message, error) {
	if !role.IsValid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: Now(),
	}, nil
}

// MustMessage is like [NewMessage] but panics on an invalid role.
// It is intended for literal roles known at compile time.
func MustMessage(role Role, content string) Message {
	m, err := NewMessage(role, content)
	if err != nil {
		panic(err)
	}
	return m
}

// Now returns the current local time truncated to whole seconds.
func Now() time.Time {
	return time.Now().Truncate(time.Second)
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	m.ToolCalls = CloneToolCalls(m.ToolCalls)
	return m
}

type messageJSON struct {
	ID         int        `json:"id"`
	IsLiked    bool       `json:"isLiked"`
	IsDisliked bool       `json:"isDisliked"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Timestamp  string     `json:"timestamp"`
	TPS        float64    `json:"tps"`
	ModelName  string     `json:"modelName"`
	ToolCalls  []ToolCall `json:"toolCalls"`
}

// MarshalJSON encodes m in the transcript format.
func (m Message) MarshalJSON() ([]byte, error) {
	calls := m.ToolCalls
	if calls == nil {
		calls = []ToolCall{}
	}
	return json.Marshal(messageJSON{
		ID:         m.ID,
		IsLiked:    m.IsLiked,
		IsDisliked: m.IsDisliked,
		Role:       string(m.Role),
		Content:    m.Content,
		Timestamp:  m.Timestamp.In(time.Local).Format(TimestampLayout),
		TPS:        m.TokensPerSecond,
		ModelName:  m.ModelName,
		ToolCalls:  calls,
	})
}

// UnmarshalJSON decodes the transcript format. Unknown roles are rejected.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	role, err := ParseRole(raw.Role)
	if err != nil {
		return err
	}
	ts, err := time.ParseInLocation(TimestampLayout, raw.Timestamp, time.Local)
	if err != nil {
		return fmt.Errorf("types: message %d: parse timestamp: %w", raw.ID, err)
	}
	*m = Message{
		ID:              raw.ID,
		IsLiked:         raw.IsLiked,
		IsDisliked:      raw.IsDisliked,
		Role:            role,
		Content:         raw.Content,
		Timestamp:       ts,
		TokensPerSecond: raw.TPS,
		ModelName:       raw.ModelName,
		ToolCalls:       raw.ToolCalls,
	}
	return nil
}

// ChatHistory is one named chat transcript.
type ChatHistory struct {
	ID int64 `json:"id"`

	// LastModified is the Unix time in seconds of the latest mutation.
	LastModified int64 `json:"lastModified"`

	// Name is unique across all chats of a store.
	Name string `json:"name"`

	Messages []Message `json:"messages"`
}

// Clone returns a deep copy of c. The copy's Messages is never nil.
func (c ChatHistory) Clone() ChatHistory {
	msgs := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = m.Clone()
	}
	c.Messages = msgs
	return c
}

// NextMessageID returns one more than the largest message id in c.
func (c ChatHistory) NextMessageID() int {
	next := 1
	for _, m := range c.Messages {
		if m.ID >= next {
			next = m.ID + 1
		}
	}
	return next
}

// MarshalJSON encodes c in the transcript format. A nil message list is
// written as an empty array.
func (c ChatHistory) MarshalJSON() ([]byte, error) {
	type plain ChatHistory
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return json.Marshal(plain(c))
}
