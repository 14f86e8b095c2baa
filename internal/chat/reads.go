package chat

import (
	"fmt"

	"github.com/MrWong99/toolchat/pkg/memory"
	"github.com/MrWong99/toolchat/pkg/types"
)

// Positions accepted and returned by the read methods count in recency
// order, so position 0 is always the most recently modified chat.

// Chats returns copies of all chats, newest first with ties ordered by name.
func (s *Store) Chats() []types.ChatHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ChatHistory, 0, len(s.chats))
	for _, pos := range s.orderedLocked() {
		out = append(out, s.chats[pos].Clone())
	}
	return out
}

// Chat returns a copy of the named chat.
func (s *Store) Chat(name string) (types.ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.byName[name]
	if !ok {
		return types.ChatHistory{}, fmt.Errorf("%w: %q", ErrChatNotFound, name)
	}
	return s.chats[pos].Clone(), nil
}

// ChatAt returns a copy of the chat at position i of [Store.Chats].
func (s *Store) ChatAt(i int) (types.ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order := s.orderedLocked()
	if i < 0 || i >= len(order) {
		return types.ChatHistory{}, fmt.Errorf("%w: position %d", ErrChatNotFound, i)
	}
	return s.chats[order[i]].Clone(), nil
}

// CurrentChat returns a copy of the current chat.
func (s *Store) CurrentChat() (types.ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current < 0 {
		return types.ChatHistory{}, ErrNoCurrentChat
	}
	return s.chats[s.current].Clone(), nil
}

// CurrentChatName returns the name of the current chat.
func (s *Store) CurrentChatName() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current < 0 {
		return "", ErrNoCurrentChat
	}
	return s.chats[s.current].Name, nil
}

// CurrentChatIndex returns the position of the current chat in
// [Store.Chats], or -1 if none is selected.
func (s *Store) CurrentChatIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current < 0 {
		return -1
	}
	return s.sortedIndexLocked(s.current)
}

// SortedIndex returns the position of the named chat in [Store.Chats].
func (s *Store) SortedIndex(name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.byName[name]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrChatNotFound, name)
	}
	return s.sortedIndexLocked(pos), nil
}

func (s *Store) sortedIndexLocked(pos int) int {
	idx, i := -1, 0
	s.recency.Ascend(func(k recencyKey) bool {
		if k.pos == pos {
			idx = i
			return false
		}
		i++
		return true
	})
	return idx
}

// ChatByTimestamp returns the most recent chat whose modification time is
// ts. When several chats share ts the first by name wins.
func (s *Store) ChatByTimestamp(ts int64) (types.ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found types.ChatHistory
		ok    bool
	)
	s.recency.AscendGreaterOrEqual(recencyKey{lastModified: ts}, func(k recencyKey) bool {
		if k.lastModified == ts {
			found, ok = s.chats[k.pos].Clone(), true
		}
		return false
	})
	if !ok {
		return types.ChatHistory{}, fmt.Errorf("%w: modified at %d", ErrChatNotFound, ts)
	}
	return found, nil
}

// Len returns the number of chats.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats)
}

// CurrentChatPath returns where the backend stores the current chat.
func (s *Store) CurrentChatPath() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current < 0 {
		return "", ErrNoCurrentChat
	}
	return s.persist.ChatPath(s.chats[s.current].Name), nil
}

// CurrentKVChatPath returns where the key-value cache of the current chat
// for the given model and variant lives.
func (s *Store) CurrentKVChatPath(model, variant string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current < 0 {
		return "", ErrNoCurrentChat
	}
	return s.persist.KVChatPath(memory.KVKey{
		Chat:    s.chats[s.current].Name,
		Model:   model,
		Variant: variant,
	}), nil
}
