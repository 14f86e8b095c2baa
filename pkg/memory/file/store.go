// Package file provides a directory-backed implementation of
// [memory.Persistence].
//
// Every chat is stored as "<name>.chat" in the configured directory, with
// the name mapped through [memory.FileName]. When a key or passphrase is
// configured, records are sealed with XChaCha20-Poly1305; otherwise they are
// written as plain JSON. Writes go to
// a temporary file that is renamed into place, so a crash never leaves a
// half-written transcript behind.
//
// Usage:
//
//	store, err := file.New(file.Options{Dir: "chats", Passphrase: os.Getenv("TOOLCHAT_CHAT_KEY")})
//	if err != nil { … }
//	chats, err := store.LoadAllChats(ctx)
package file

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/MrWong99/toolchat/pkg/memory"
	"github.com/MrWong99/toolchat/pkg/types"
)

const (
	chatExt  = ".chat"
	saltFile = ".salt"
	saltSize = 32

	// DefaultKDFIterations is the PBKDF2-SHA-256 work factor used to derive a
	// key from a passphrase.
	DefaultKDFIterations = 600_000
)

// sealedMagic prefixes every encrypted record.
var sealedMagic = []byte("TCHAT1")

// ErrLocked is returned when an encrypted record is found but no key is
// configured, or the configured key does not open it.
var ErrLocked = errors.New("file store: record is encrypted with a different or missing key")

// Options configures a [Store].
type Options struct {
	// Dir holds the chat files. It is created if missing.
	Dir string

	// Key is a raw 32-byte encryption key. Takes precedence over Passphrase.
	Key []byte

	// Passphrase derives the encryption key with PBKDF2. The salt is kept in
	// Dir/.salt and created on first use.
	Passphrase string

	// KDFIterations overrides DefaultKDFIterations.
	KDFIterations int

	// Logger receives warnings about skipped records. Defaults to slog.Default.
	Logger *slog.Logger
}

// Store is a directory of chat files. All methods are safe for concurrent
// use: loads share the I/O lock, writes take it exclusively.
type Store struct {
	dir    string
	aead   cipher.AEAD // nil stores plain JSON
	kv     memory.KVFiles
	logger *slog.Logger

	ioMu sync.RWMutex
}

// Compile-time interface check.
var _ memory.Persistence = (*Store)(nil)

// New opens (and if necessary creates) the chat directory.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("file store: directory must not be empty")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("file store: resolve %q: %w", opts.Dir, err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file store: create %q: %w", dir, err)
	}

	s := &Store{
		dir:    dir,
		kv:     memory.KVFiles{Dir: dir},
		logger: opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	key := opts.Key
	if key == nil && opts.Passphrase != "" {
		salt, err := loadOrCreateSalt(filepath.Join(dir, saltFile))
		if err != nil {
			return nil, err
		}
		iter := opts.KDFIterations
		if iter <= 0 {
			iter = DefaultKDFIterations
		}
		key = pbkdf2.Key([]byte(opts.Passphrase), salt, iter, chacha20poly1305.KeySize, sha256.New)
	}
	if key != nil {
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("file store: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
		}
		s.aead, err = chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("file store: init cipher: %w", err)
		}
	}
	return s, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltSize {
			return nil, fmt.Errorf("file store: salt file %q has %d bytes, want %d", path, len(salt), saltSize)
		}
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file store: read salt: %w", err)
	}
	salt = make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("file store: generate salt: %w", err)
	}
	if err := writeAtomic(filepath.Dir(path), path, salt); err != nil {
		return nil, fmt.Errorf("file store: write salt: %w", err)
	}
	return salt, nil
}

// Encrypted reports whether records are sealed.
func (s *Store) Encrypted() bool { return s.aead != nil }

// Dir returns the absolute chat directory.
func (s *Store) Dir() string { return s.dir }

// ChatPath implements [memory.Persistence].
func (s *Store) ChatPath(name string) string {
	return filepath.Join(s.dir, memory.FileName(name)+chatExt)
}

// KVChatPath implements [memory.Persistence].
func (s *Store) KVChatPath(key memory.KVKey) string {
	return s.kv.Path(key)
}

// SaveChat implements [memory.Persistence].
func (s *Store) SaveChat(_ context.Context, chat types.ChatHistory) error {
	plain, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("file store: encode %q: %w", chat.Name, err)
	}
	data, err := s.seal(plain)
	if err != nil {
		return fmt.Errorf("file store: seal %q: %w", chat.Name, err)
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	if err := writeAtomic(s.dir, s.ChatPath(chat.Name), data); err != nil {
		return fmt.Errorf("file store: save %q: %w", chat.Name, err)
	}
	return nil
}

// DeleteChat implements [memory.Persistence].
func (s *Store) DeleteChat(_ context.Context, name string) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	if err := os.Remove(s.ChatPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file store: delete %q: %w", name, err)
	}
	return nil
}

// RenameKVChat implements [memory.Persistence].
func (s *Store) RenameKVChat(_ context.Context, oldName, newName string) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return s.kv.Rename(oldName, newName)
}

// DeleteKVChat implements [memory.Persistence].
func (s *Store) DeleteKVChat(_ context.Context, name string) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return s.kv.Delete(name)
}

// LoadAllChats implements [memory.Persistence]. Unreadable records are
// skipped with a warning.
func (s *Store) LoadAllChats(ctx context.Context) ([]types.ChatHistory, error) {
	s.ioMu.RLock()
	defer s.ioMu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("file store: list %q: %w", s.dir, err)
	}

	chats := []types.ChatHistory{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), chatExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.dir, e.Name())
		chat, err := s.readChat(path)
		if err != nil {
			s.logger.Warn("file store: skipping unreadable chat", "path", path, "err", err)
			continue
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

func (s *Store) readChat(path string) (types.ChatHistory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ChatHistory{}, err
	}
	plain, err := s.open(data)
	if err != nil {
		return types.ChatHistory{}, err
	}
	var chat types.ChatHistory
	if err := json.Unmarshal(plain, &chat); err != nil {
		return types.ChatHistory{}, fmt.Errorf("%w: %v", memory.ErrCorrupt, err)
	}
	return chat, nil
}

// seal encrypts plain when a key is configured: magic || nonce || ciphertext.
func (s *Store) seal(plain []byte) ([]byte, error) {
	if s.aead == nil {
		return plain, nil
	}
	out := make([]byte, len(sealedMagic), len(sealedMagic)+s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	copy(out, sealedMagic)
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plain, nil), nil
}

// open reverses seal. Plain JSON records are accepted with or without a key
// so that encryption can be enabled on an existing directory.
func (s *Store) open(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, sealedMagic) {
		return data, nil
	}
	if s.aead == nil {
		return nil, ErrLocked
	}
	data = data[len(sealedMagic):]
	n := s.aead.NonceSize()
	if len(data) < n+s.aead.Overhead() {
		return nil, memory.ErrCorrupt
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, ErrLocked
	}
	return plain, nil
}

// writeAtomic writes data to a temporary file in dir and renames it to path.
func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(name, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
