// Package memory defines how chat transcripts are persisted.
//
// A [Persistence] backend stores one transcript per chat, keyed by chat name,
// plus an opaque key-value inference cache file per chat and model pairing.
// Backends are plain blocking implementations; the chat store decides whether
// a write is awaited or runs in the background.
//
// Available backends:
//
//   - file: one encrypted file per chat in a directory (package file)
//   - postgres: one row per chat in PostgreSQL (package postgres)
//   - mock: an in-memory test double (package mock)
//
// All interfaces are public so that external packages can supply alternative
// storage backends without depending on toolchat internals.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"

	"github.com/MrWong99/toolchat/pkg/types"
)

// ErrCorrupt reports a stored transcript that could not be decoded.
var ErrCorrupt = errors.New("memory: corrupt chat record")

// KVKey identifies one key-value inference cache: the cache a model builds
// while processing a chat. A chat has one cache per model and variant.
type KVKey struct {
	Chat    string
	Model   string
	Variant string
}

// Persistence stores chat transcripts.
//
// Deleting or renaming something that does not exist is not an error.
type Persistence interface {
	// LoadAllChats returns every stored chat in unspecified order. Records
	// that cannot be decoded are skipped and logged.
	LoadAllChats(ctx context.Context) ([]types.ChatHistory, error)

	// SaveChat stores chat under chat.Name, replacing any previous version.
	SaveChat(ctx context.Context, chat types.ChatHistory) error

	// DeleteChat removes the transcript stored under name.
	DeleteChat(ctx context.Context, name string) error

	// RenameKVChat moves every key-value cache of the chat oldName to newName.
	RenameKVChat(ctx context.Context, oldName, newName string) error

	// DeleteKVChat removes every key-value cache of the chat name.
	DeleteKVChat(ctx context.Context, name string) error

	// ChatPath returns where the transcript of name is stored. The value is
	// meant for display and diagnostics.
	ChatPath(name string) string

	// KVChatPath returns the file an inference engine should use as the
	// key-value cache for key.
	KVChatPath(key KVKey) string
}
