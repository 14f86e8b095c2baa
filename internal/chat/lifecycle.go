package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/toolchat/pkg/types"
)

// CreateChat adds an empty chat and makes it current. If name is taken the
// first free " (n)" suffix is appended; the resolved name is returned. The
// chat is saved before CreateChat returns. A save error is returned
// together with the resolved name since the chat exists in memory either
// way.
func (s *Store) CreateChat(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	resolved := s.uniqueNameLocked(name)
	if err := ValidateName(resolved); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.counter++
	now := s.now().Unix()
	s.chats = append(s.chats, types.ChatHistory{
		ID:           s.counter + now,
		LastModified: now,
		Name:         resolved,
		Messages:     []types.Message{},
	})
	pos := len(s.chats) - 1
	s.byName[resolved] = pos
	s.recency.ReplaceOrInsert(keyOf(s, pos))
	s.current = pos
	task := s.saveTaskLocked(pos)
	n := len(s.chats)
	s.mu.Unlock()

	s.metrics.Chats.Record(ctx, int64(n))
	if err := s.submit("save", task).Wait(ctx); err != nil {
		return resolved, fmt.Errorf("chat: create %q: %w", resolved, err)
	}
	return resolved, nil
}

// RenameChat renames the current chat, suffixing newName like
// [Store.CreateChat] when it is taken, and returns the resolved name. The
// backend then saves the chat under the new name, deletes the old record and
// moves the key-value caches, stopping at the first failure.
func (s *Store) RenameChat(ctx context.Context, newName string) (string, error) {
	s.mu.Lock()
	if s.current < 0 {
		s.mu.Unlock()
		return "", ErrNoCurrentChat
	}
	pos := s.current
	oldName := s.chats[pos].Name
	if newName == oldName {
		s.mu.Unlock()
		return oldName, nil
	}
	resolved := s.uniqueNameLocked(newName)
	if err := ValidateName(resolved); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.renameLocked(pos, resolved)
	s.touchLocked(pos)
	save := s.saveTaskLocked(pos)
	p := s.persist
	s.mu.Unlock()

	pending := s.submit("rename", func(ctx context.Context) error {
		if err := save(ctx); err != nil {
			return err
		}
		if err := p.DeleteChat(ctx, oldName); err != nil {
			return err
		}
		return p.RenameKVChat(ctx, oldName, resolved)
	})
	if err := pending.Wait(ctx); err != nil {
		return resolved, fmt.Errorf("chat: rename %q to %q: %w", oldName, resolved, err)
	}
	return resolved, nil
}

// DeleteChat removes the named chat and its key-value caches. Deleting the
// last chat leaves the default chat in its place; deleting the current chat
// selects the most recent remaining one. The in-memory removal stands even
// if the backend fails to delete the record or the caches.
func (s *Store) DeleteChat(ctx context.Context, name string) error {
	s.mu.Lock()
	pos, ok := s.byName[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrChatNotFound, name)
	}
	p := s.persist
	s.chats = slices.Delete(s.chats, pos, pos+1)

	jobs := make(map[int]int, len(s.jobs))
	for i, j := range s.jobs {
		switch {
		case i < pos:
			jobs[i] = j
		case i > pos:
			jobs[i-1] = j
		}
	}
	s.jobs = jobs

	var def *types.ChatHistory
	if len(s.chats) == 0 {
		d := s.defaultChat()
		s.chats = append(s.chats, d)
		def = &d
	}
	s.rebuildLocked()
	switch {
	case def != nil:
		s.current = 0
	case s.current == pos:
		s.current = s.mostRecentLocked()
	case s.current > pos:
		s.current--
	}
	n := len(s.chats)
	s.mu.Unlock()

	s.metrics.Chats.Record(ctx, int64(n))
	pending := s.submit("delete", func(ctx context.Context) error {
		err := errors.Join(p.DeleteChat(ctx, name), p.DeleteKVChat(ctx, name))
		if def != nil {
			// The default chat may reuse the deleted name, so it is saved
			// only after the delete went through.
			err = errors.Join(err, p.SaveChat(ctx, def.Clone()))
		}
		return err
	})
	if err := pending.Wait(ctx); err != nil {
		return fmt.Errorf("chat: delete %q: %w", name, err)
	}
	return nil
}

// SwitchToChat makes the named chat current. Nothing is persisted.
func (s *Store) SwitchToChat(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrChatNotFound, name)
	}
	s.current = pos
	return nil
}

// ClearCurrentChat removes every message of the current chat.
func (s *Store) ClearCurrentChat() (*Pending, error) {
	s.mu.Lock()
	if s.current < 0 {
		s.mu.Unlock()
		return nil, ErrNoCurrentChat
	}
	s.chats[s.current].Messages = []types.Message{}
	s.touchLocked(s.current)
	task := s.saveTaskLocked(s.current)
	s.mu.Unlock()
	return s.submit("save", task), nil
}

// UpdateChat replaces the contents of the named chat in memory. The name
// and id of the stored chat are kept. Nothing is persisted; call
// [Store.SaveChat] when done.
func (s *Store) UpdateChat(name string, chat types.ChatHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrChatNotFound, name)
	}
	s.replaceLocked(pos, chat)
	return nil
}

// UpdateCurrentChat is [Store.UpdateChat] for the current chat.
func (s *Store) UpdateCurrentChat(chat types.ChatHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < 0 {
		return ErrNoCurrentChat
	}
	s.replaceLocked(s.current, chat)
	return nil
}

func (s *Store) replaceLocked(pos int, chat types.ChatHistory) {
	c := chat.Clone()
	c.Name = s.chats[pos].Name
	c.ID = s.chats[pos].ID
	c.LastModified = s.chats[pos].LastModified
	s.chats[pos] = c
	s.touchLocked(pos)
}

// SaveChat writes the named chat to the backend and waits for the result.
func (s *Store) SaveChat(ctx context.Context, name string) error {
	s.mu.RLock()
	pos, ok := s.byName[name]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %q", ErrChatNotFound, name)
	}
	task := s.saveTaskLocked(pos)
	s.mu.RUnlock()
	if err := s.submit("save", task).Wait(ctx); err != nil {
		return fmt.Errorf("chat: save %q: %w", name, err)
	}
	return nil
}
