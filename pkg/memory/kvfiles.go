package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// kvSuffix marks the per-chat directory holding its key-value caches.
const kvSuffix = ".kv"

// maxFileNameBytes leaves room for a hash suffix and an extension below the
// usual 255 byte limit on file names.
const maxFileNameBytes = 240

// KVFiles manages key-value cache files below a directory. Every chat owns a
// subdirectory "<chat>.kv" with one "<model>@<variant>.bin" file per model.
//
// KVFiles performs no locking; concurrent operations on the same chat race
// at the file system level only.
type KVFiles struct {
	Dir string
}

// Path returns the cache file for key.
func (k KVFiles) Path(key KVKey) string {
	name := SafeName(key.Model)
	if key.Variant != "" {
		name += "@" + SafeName(key.Variant)
	}
	return filepath.Join(k.chatDir(key.Chat), name+".bin")
}

func (k KVFiles) chatDir(chat string) string {
	return filepath.Join(k.Dir, FileName(chat)+kvSuffix)
}

// Rename moves the caches of oldName to newName. Caches already present
// under newName are replaced.
func (k KVFiles) Rename(oldName, newName string) error {
	from, to := k.chatDir(oldName), k.chatDir(newName)
	if from == to {
		return nil
	}
	if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.RemoveAll(to); err != nil {
		return fmt.Errorf("memory: rename kv cache: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("memory: rename kv cache: %w", err)
	}
	return nil
}

// Delete removes every cache of the chat name.
func (k KVFiles) Delete(name string) error {
	if err := os.RemoveAll(k.chatDir(name)); err != nil {
		return fmt.Errorf("memory: delete kv cache: %w", err)
	}
	return nil
}

// SafeName makes s safe as a single path element by replacing separators
// and characters reserved on common file systems with '_'.
func SafeName(s string) string {
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, s)
}

// FileName maps a chat name to a single path element. Distinct names map to
// distinct elements: a name that SafeName alters, or that is too long, gets
// a short hash of the original appended.
//
//	FileName("Notes")    // "Notes"
//	FileName("Q3: plan") // "Q3_ plan-" and eight hex digits
func FileName(name string) string {
	safe := SafeName(name)
	if safe == name && len(name) <= maxFileNameBytes {
		return name
	}
	if len(safe) > maxFileNameBytes {
		cut := maxFileNameBytes
		for cut > 0 && !utf8.RuneStart(safe[cut]) {
			cut--
		}
		safe = safe[:cut]
	}
	sum := sha256.Sum256([]byte(name))
	return safe + "-" + hex.EncodeToString(sum[:4])
}
