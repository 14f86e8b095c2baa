package chat

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxNameLength is the longest accepted chat name in runes.
const MaxNameLength = 256

// ErrInvalidName is returned for a chat name that fails [ValidateName].
var ErrInvalidName = errors.New("chat: invalid chat name")

// ValidateName reports whether name can be used as a chat name. Any
// non-empty name up to MaxNameLength runes is accepted; backends that store
// chats as files map names through memory.FileName.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case utf8.RuneCountInString(name) > MaxNameLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	return nil
}

// uniqueNameLocked returns name, or name with the first free " (n)" suffix
// if name is taken.
func (s *Store) uniqueNameLocked(name string) string {
	if _, taken := s.byName[name]; !taken {
		return name
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", name, n)
		if _, taken := s.byName[candidate]; !taken {
			return candidate
		}
	}
}
