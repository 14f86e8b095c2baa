package chat

import (
	"fmt"

	"github.com/MrWong99/toolchat/pkg/types"
)

// AddMessageToCurrentChat appends msg to the current chat. See
// [Store.AddMessage].
func (s *Store) AddMessageToCurrentChat(msg types.Message) (int, *Pending, error) {
	s.mu.Lock()
	if s.current < 0 {
		s.mu.Unlock()
		return 0, nil, ErrNoCurrentChat
	}
	return s.appendAndUnlock(s.current, msg)
}

// AddMessage appends msg to the named chat, saves it in the background and
// returns the id the store assigned to it. A zero timestamp is set to now.
func (s *Store) AddMessage(chatName string, msg types.Message) (int, *Pending, error) {
	s.mu.Lock()
	pos, ok := s.byName[chatName]
	if !ok {
		s.mu.Unlock()
		return 0, nil, fmt.Errorf("%w: %q", ErrChatNotFound, chatName)
	}
	return s.appendAndUnlock(pos, msg)
}

func (s *Store) appendAndUnlock(pos int, msg types.Message) (int, *Pending, error) {
	if !msg.Role.IsValid() {
		s.mu.Unlock()
		return 0, nil, fmt.Errorf("chat: add message: %w: %q", types.ErrInvalidRole, msg.Role)
	}
	m := msg.Clone()
	m.ID = s.chats[pos].NextMessageID()
	if m.Timestamp.IsZero() {
		m.Timestamp = types.Now()
	}
	s.chats[pos].Messages = append(s.chats[pos].Messages, m)
	s.touchLocked(pos)
	task := s.saveTaskLocked(pos)
	s.mu.Unlock()
	return m.ID, s.submit("save", task), nil
}

// DeleteMessage removes the message at index from the named chat.
func (s *Store) DeleteMessage(chatName string, index int) (*Pending, error) {
	return s.mutateMessage(chatName, func(c *types.ChatHistory) error {
		if index < 0 || index >= len(c.Messages) {
			return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, len(c.Messages))
		}
		c.Messages = append(c.Messages[:index:index], c.Messages[index+1:]...)
		return nil
	})
}

// DeleteMessageByID removes the message with the given id from the named
// chat.
func (s *Store) DeleteMessageByID(chatName string, id int) (*Pending, error) {
	return s.mutateMessage(chatName, func(c *types.ChatHistory) error {
		for i, m := range c.Messages {
			if m.ID == id {
				c.Messages = append(c.Messages[:i:i], c.Messages[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: id %d", ErrMessageNotFound, id)
	})
}

// SetMessageModelName records which model produced the message at index.
// An index of -1 addresses the last message.
func (s *Store) SetMessageModelName(chatName string, index int, model string) (*Pending, error) {
	return s.mutateMessage(chatName, func(c *types.ChatHistory) error {
		i, err := resolveIndex(c, index)
		if err != nil {
			return err
		}
		c.Messages[i].ModelName = model
		return nil
	})
}

// SetMessageFeedback stores the user's rating of the message at index. An
// index of -1 addresses the last message.
func (s *Store) SetMessageFeedback(chatName string, index int, liked, disliked bool) (*Pending, error) {
	return s.mutateMessage(chatName, func(c *types.ChatHistory) error {
		i, err := resolveIndex(c, index)
		if err != nil {
			return err
		}
		c.Messages[i].IsLiked = liked
		c.Messages[i].IsDisliked = disliked
		return nil
	})
}

// UpdateMessage applies fn to the message at index in memory only. It is
// meant for streaming output into a message; call [Store.SaveChat] once the
// message is complete. An index of -1 addresses the last message. fn cannot
// change the message id.
func (s *Store) UpdateMessage(chatName string, index int, fn func(*types.Message)) error {
	return s.updateInMemory(chatName, fn, func(c *types.ChatHistory) (int, error) {
		return resolveIndex(c, index)
	})
}

// UpdateMessageByID is like [Store.UpdateMessage] but addresses the message
// by id, so it keeps working while other messages are added or removed.
func (s *Store) UpdateMessageByID(chatName string, id int, fn func(*types.Message)) error {
	return s.updateInMemory(chatName, fn, func(c *types.ChatHistory) (int, error) {
		for i, m := range c.Messages {
			if m.ID == id {
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: id %d", ErrMessageNotFound, id)
	})
}

func (s *Store) updateInMemory(chatName string, fn func(*types.Message), find func(*types.ChatHistory) (int, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byName[chatName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrChatNotFound, chatName)
	}
	c := &s.chats[pos]
	i, err := find(c)
	if err != nil {
		return err
	}
	id := c.Messages[i].ID
	fn(&c.Messages[i])
	c.Messages[i].ID = id
	s.touchLocked(pos)
	return nil
}

// mutateMessage applies fn to the named chat and saves the result in the
// background. Nothing is changed or saved when fn fails.
func (s *Store) mutateMessage(chatName string, fn func(*types.ChatHistory) error) (*Pending, error) {
	s.mu.Lock()
	pos, ok := s.byName[chatName]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrChatNotFound, chatName)
	}
	if err := fn(&s.chats[pos]); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.touchLocked(pos)
	task := s.saveTaskLocked(pos)
	s.mu.Unlock()
	return s.submit("save", task), nil
}

func resolveIndex(c *types.ChatHistory, index int) (int, error) {
	if index == -1 {
		index = len(c.Messages) - 1
	}
	if index < 0 || index >= len(c.Messages) {
		return 0, fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, len(c.Messages))
	}
	return index, nil
}
