package file_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/toolchat/pkg/memory"
	"github.com/MrWong99/toolchat/pkg/memory/file"
	"github.com/MrWong99/toolchat/pkg/types"
)

func testChat(name string) types.ChatHistory {
	ts := time.Date(2025, 3, 14, 15, 9, 26, 0, time.Local)
	return types.ChatHistory{
		ID:           7,
		LastModified: ts.Unix(),
		Name:         name,
		Messages: []types.Message{
			{ID: 1, Role: types.RoleUser, Content: "what is in todo.md?", Timestamp: ts},
			{
				ID: 2, Role: types.RoleAssistant, Content: `[read_file(path="todo.md")]`, Timestamp: ts,
				TokensPerSecond: 31.5, ModelName: "qwen",
				ToolCalls: []types.ToolCall{{
					FunctionName: "read_file",
					Parameters:   types.NewParams("path", `"todo.md"`),
					Start:        0, End: 26, Output: "buy milk",
				}},
			},
		},
	}
}

func newStore(t *testing.T, opts file.Options) *file.Store {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	s, err := file.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	for name, opts := range map[string]file.Options{
		"plain":      {},
		"raw key":    {Key: bytes.Repeat([]byte{7}, 32)},
		"passphrase": {Passphrase: "hunter2", KDFIterations: 1000},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := newStore(t, opts)
			ctx := context.Background()

			want := []types.ChatHistory{testChat("Report"), testChat("Groceries")}
			for _, c := range want {
				if err := s.SaveChat(ctx, c); err != nil {
					t.Fatalf("SaveChat: %v", err)
				}
			}
			got, err := s.LoadAllChats(ctx)
			if err != nil {
				t.Fatalf("LoadAllChats: %v", err)
			}
			sort.Slice(got, func(i, j int) bool { return got[i].Name > got[j].Name })
			if len(got) != 2 {
				t.Fatalf("loaded %d chats, want 2", len(got))
			}
			for i := range want {
				if g, w := mustJSON(t, got[i]), mustJSON(t, want[i]); g != w {
					t.Errorf("chat %d:\n got %s\nwant %s", i, g, w)
				}
			}
		})
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestStore_EncryptedOnDisk(t *testing.T) {
	t.Parallel()

	s := newStore(t, file.Options{Key: bytes.Repeat([]byte{1}, 32)})
	if !s.Encrypted() {
		t.Fatal("Encrypted = false")
	}
	if err := s.SaveChat(context.Background(), testChat("Secret")); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	data, err := os.ReadFile(s.ChatPath("Secret"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if bytes.Contains(data, []byte("todo.md")) {
		t.Error("plaintext visible in encrypted record")
	}
}

func TestStore_WrongKeySkipsRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writer := newStore(t, file.Options{Dir: dir, Key: bytes.Repeat([]byte{1}, 32)})
	if err := writer.SaveChat(context.Background(), testChat("Secret")); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}

	for name, opts := range map[string]file.Options{
		"other key": {Dir: dir, Key: bytes.Repeat([]byte{2}, 32)},
		"no key":    {Dir: dir},
	} {
		reader := newStore(t, opts)
		chats, err := reader.LoadAllChats(context.Background())
		if err != nil {
			t.Fatalf("%s: LoadAllChats: %v", name, err)
		}
		if len(chats) != 0 {
			t.Errorf("%s: loaded %d chats, want 0", name, len(chats))
		}
	}
}

func TestStore_PassphraseReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	opts := file.Options{Dir: dir, Passphrase: "correct horse", KDFIterations: 1000}
	first := newStore(t, opts)
	if err := first.SaveChat(context.Background(), testChat("Diary")); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}

	second := newStore(t, opts)
	chats, err := second.LoadAllChats(context.Background())
	if err != nil || len(chats) != 1 || chats[0].Name != "Diary" {
		t.Fatalf("reopen: chats=%v err=%v", chats, err)
	}
}

func TestStore_PlainRecordsReadableAfterEnablingKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plain := newStore(t, file.Options{Dir: dir})
	if err := plain.SaveChat(context.Background(), testChat("Old")); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	keyed := newStore(t, file.Options{Dir: dir, Key: bytes.Repeat([]byte{3}, 32)})
	chats, err := keyed.LoadAllChats(context.Background())
	if err != nil || len(chats) != 1 {
		t.Fatalf("chats=%d err=%v", len(chats), err)
	}
}

func TestStore_CorruptRecordSkipped(t *testing.T) {
	t.Parallel()

	s := newStore(t, file.Options{})
	ctx := context.Background()
	if err := s.SaveChat(ctx, testChat("Good")); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "Bad.chat"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatal(err)
	}

	chats, err := s.LoadAllChats(ctx)
	if err != nil {
		t.Fatalf("LoadAllChats: %v", err)
	}
	if len(chats) != 1 || chats[0].Name != "Good" {
		t.Errorf("chats = %v", chats)
	}
}

func TestStore_DeleteChat(t *testing.T) {
	t.Parallel()

	s := newStore(t, file.Options{})
	ctx := context.Background()
	if err := s.SaveChat(ctx, testChat("Gone")); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	if err := s.DeleteChat(ctx, "Gone"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, err := os.Stat(s.ChatPath("Gone")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file still present: %v", err)
	}
	if err := s.DeleteChat(ctx, "Gone"); err != nil {
		t.Errorf("deleting a missing chat: %v", err)
	}
}

func TestStore_KVCaches(t *testing.T) {
	t.Parallel()

	s := newStore(t, file.Options{})
	ctx := context.Background()

	key := memory.KVKey{Chat: "Report", Model: "qwen/2.5", Variant: "q4"}
	path := s.KVChatPath(key)
	if filepath.Dir(filepath.Dir(path)) != s.Dir() {
		t.Fatalf("kv path %q escapes %q", path, s.Dir())
	}
	if filepath.Base(path) != "qwen_2.5@q4.bin" {
		t.Errorf("kv file = %q", filepath.Base(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("cache"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := s.RenameKVChat(ctx, "Report", "Final"); err != nil {
		t.Fatalf("RenameKVChat: %v", err)
	}
	moved := s.KVChatPath(memory.KVKey{Chat: "Final", Model: "qwen/2.5", Variant: "q4"})
	if data, err := os.ReadFile(moved); err != nil || string(data) != "cache" {
		t.Fatalf("renamed cache: %q, %v", data, err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("old cache still present")
	}

	if err := s.RenameKVChat(ctx, "Missing", "Other"); err != nil {
		t.Errorf("renaming missing caches: %v", err)
	}
	if err := s.DeleteKVChat(ctx, "Final"); err != nil {
		t.Fatalf("DeleteKVChat: %v", err)
	}
	if _, err := os.Stat(moved); !errors.Is(err, os.ErrNotExist) {
		t.Error("cache not deleted")
	}
	if err := s.DeleteKVChat(ctx, "Final"); err != nil {
		t.Errorf("deleting missing caches: %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := file.New(file.Options{}); err == nil {
		t.Error("empty dir accepted")
	}
	if _, err := file.New(file.Options{Dir: t.TempDir(), Key: []byte("short")}); err == nil {
		t.Error("short key accepted")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".salt"), []byte("bad"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := file.New(file.Options{Dir: dir, Passphrase: "x", KDFIterations: 10}); err == nil {
		t.Error("malformed salt accepted")
	}
}

func TestStore_ChatPathSanitized(t *testing.T) {
	t.Parallel()

	s := newStore(t, file.Options{})
	if got := filepath.Base(s.ChatPath("..")); !strings.HasPrefix(got, "_-") || !strings.HasSuffix(got, ".chat") {
		t.Errorf("ChatPath(..) = %q", got)
	}
	if got := filepath.Dir(s.ChatPath("a/b")); got != s.Dir() {
		t.Errorf("ChatPath(a/b) escapes dir: %q", got)
	}
}

func TestStore_NamesThatSanitizeAlikeKeepSeparateFiles(t *testing.T) {
	t.Parallel()

	s := newStore(t, file.Options{})
	ctx := context.Background()
	names := []string{"Q3: plan", "Q3_ plan", "Q3/ plan"}
	for _, n := range names {
		if err := s.SaveChat(ctx, types.ChatHistory{ID: 1, Name: n}); err != nil {
			t.Fatalf("SaveChat(%q): %v", n, err)
		}
	}
	chats, err := s.LoadAllChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, c := range chats {
		got[c.Name] = true
	}
	for _, n := range names {
		if !got[n] {
			t.Errorf("chat %q lost; loaded %v", n, got)
		}
	}

	if err := s.DeleteChat(ctx, "Q3: plan"); err != nil {
		t.Fatal(err)
	}
	if chats, _ := s.LoadAllChats(ctx); len(chats) != 2 {
		t.Errorf("delete removed %d chats", 3-len(chats))
	}
}
