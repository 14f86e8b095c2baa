// Package mock provides an in-memory test double for [memory.Persistence].
//
// The mock records every method call for assertion in tests, keeps saved
// chats in a map so that load-after-save behaves like a real backend, and
// exposes exported fields that inject failures. It is safe for concurrent use
// via an internal [sync.Mutex].
//
// Typical usage:
//
//	p := &mock.Persistence{}
//	p.SaveChatErr = errors.New("disk full")
//
//	// inject p into the system under test …
//
//	if got := p.CallCount("SaveChat"); got != 1 {
//	    t.Errorf("expected 1 SaveChat call, got %d", got)
//	}
package mock

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/MrWong99/toolchat/pkg/memory"
	"github.com/MrWong99/toolchat/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Persistence is a configurable test double for [memory.Persistence].
// All exported *Err fields default to nil (success).
type Persistence struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	chats map[string]types.ChatHistory
	kv    map[string]bool

	// SaveChatErr is returned by [Persistence.SaveChat] when non-nil. The
	// chat is not stored.
	SaveChatErr error

	// DeleteChatErr is returned by [Persistence.DeleteChat] when non-nil.
	DeleteChatErr error

	// RenameKVChatErr is returned by [Persistence.RenameKVChat] when non-nil.
	RenameKVChatErr error

	// DeleteKVChatErr is returned by [Persistence.DeleteKVChat] when non-nil.
	DeleteKVChatErr error

	// LoadAllChatsErr is returned by [Persistence.LoadAllChats] when non-nil.
	LoadAllChatsErr error

	// SaveHook, when set, runs at the start of SaveChat without the lock
	// held. Tests use it to block or slow down background writes.
	SaveHook func(ctx context.Context, chat types.ChatHistory)
}

// Compile-time interface check.
var _ memory.Persistence = (*Persistence)(nil)

// Seed stores chats as if they had been saved earlier. Seeding is not
// recorded as a call.
func (m *Persistence) Seed(chats ...types.ChatHistory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chats == nil {
		m.chats = make(map[string]types.ChatHistory)
	}
	for _, c := range chats {
		m.chats[c.Name] = c.Clone()
	}
}

// Stored returns a copy of the chat saved under name.
func (m *Persistence) Stored(name string) (types.ChatHistory, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[name]
	if !ok {
		return types.ChatHistory{}, false
	}
	return c.Clone(), true
}

// StoredNames returns the names of all stored chats, sorted.
func (m *Persistence) StoredNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.chats))
	for n := range m.chats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasKV reports whether a key-value cache exists for the chat name.
func (m *Persistence) HasKV(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kv[name]
}

// SetKV marks a key-value cache as present for the chat name.
func (m *Persistence) SetKV(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kv == nil {
		m.kv = make(map[string]bool)
	}
	m.kv[name] = true
}

// Calls returns a copy of all recorded method invocations.
func (m *Persistence) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Persistence) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering stored data or error
// configuration.
func (m *Persistence) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// LoadAllChats implements [memory.Persistence]. Chats are returned sorted
// by name.
func (m *Persistence) LoadAllChats(_ context.Context) ([]types.ChatHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "LoadAllChats"})
	if m.LoadAllChatsErr != nil {
		return nil, m.LoadAllChatsErr
	}
	out := make([]types.ChatHistory, 0, len(m.chats))
	for _, c := range m.chats {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveChat implements [memory.Persistence].
func (m *Persistence) SaveChat(ctx context.Context, chat types.ChatHistory) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "SaveChat", Args: []any{chat.Clone()}})
	hook := m.SaveHook
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, chat)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveChatErr != nil {
		return m.SaveChatErr
	}
	if m.chats == nil {
		m.chats = make(map[string]types.ChatHistory)
	}
	m.chats[chat.Name] = chat.Clone()
	return nil
}

// DeleteChat implements [memory.Persistence].
func (m *Persistence) DeleteChat(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "DeleteChat", Args: []any{name}})
	if m.DeleteChatErr != nil {
		return m.DeleteChatErr
	}
	delete(m.chats, name)
	return nil
}

// RenameKVChat implements [memory.Persistence].
func (m *Persistence) RenameKVChat(_ context.Context, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "RenameKVChat", Args: []any{oldName, newName}})
	if m.RenameKVChatErr != nil {
		return m.RenameKVChatErr
	}
	if m.kv[oldName] {
		delete(m.kv, oldName)
		m.kv[newName] = true
	}
	return nil
}

// DeleteKVChat implements [memory.Persistence].
func (m *Persistence) DeleteKVChat(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "DeleteKVChat", Args: []any{name}})
	if m.DeleteKVChatErr != nil {
		return m.DeleteKVChatErr
	}
	delete(m.kv, name)
	return nil
}

// ChatPath implements [memory.Persistence].
func (m *Persistence) ChatPath(name string) string {
	return path.Join("mock", name+".chat")
}

// KVChatPath implements [memory.Persistence].
func (m *Persistence) KVChatPath(key memory.KVKey) string {
	return path.Join("mock", key.Chat+".kv", key.Model+"@"+key.Variant+".bin")
}
