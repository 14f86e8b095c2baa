package workspace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	valid := []struct {
		rel  string
		want string
	}{
		{"todo.md", filepath.Join(root, "todo.md")},
		{"notes/day1.md", filepath.Join(root, "notes", "day1.md")},
		{"a/./b/../c.txt", filepath.Join(root, "a", "c.txt")},
	}
	for _, tt := range valid {
		t.Run(tt.rel, func(t *testing.T) {
			got, err := resolve(root, tt.rel, false)
			if err != nil {
				t.Fatalf("resolve(%q) error: %v", tt.rel, err)
			}
			if got != tt.want {
				t.Errorf("resolve(%q) = %q, want %q", tt.rel, got, tt.want)
			}
		})
	}

	for _, rel := range []string{"", "../out", "x/../../out", "/etc/passwd", "."} {
		t.Run("reject "+rel, func(t *testing.T) {
			_, err := resolve(root, rel, false)
			if err == nil {
				t.Fatalf("resolve(%q) succeeded, want error", rel)
			}
			if !strings.HasPrefix(err.Error(), "workspace:") {
				t.Errorf("error %q lacks package prefix", err)
			}
		})
	}

	if got, err := resolve(root, "", true); err != nil || got != filepath.Clean(root) {
		t.Errorf("resolve root = %q, %v", got, err)
	}
}

func TestWriteThenRead(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	ctx := context.Background()

	content := "- buy milk\n- call Ana"
	args, _ := json.Marshal(writeArgs{Path: "lists/todo.md", Content: content})
	out, err := writeFile(root)(ctx, string(args))
	if err != nil {
		t.Fatalf("write_file: %v", err)
	}
	var wr writeResult
	if err := json.Unmarshal([]byte(out), &wr); err != nil {
		t.Fatalf("decode write result %q: %v", out, err)
	}
	if wr.BytesWritten != len(content) {
		t.Errorf("BytesWritten = %d, want %d", wr.BytesWritten, len(content))
	}

	out, err = readFile(root)(ctx, `{"path":"lists/todo.md"}`)
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	var rr readResult
	if err := json.Unmarshal([]byte(out), &rr); err != nil {
		t.Fatalf("decode read result %q: %v", out, err)
	}
	if rr.Content != content {
		t.Errorf("Content = %q, want %q", rr.Content, content)
	}
}

func TestReadFileErrors(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "big.bin"), make([]byte, maxReadBytes+1), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	for _, args := range []string{
		`{"path":"missing.txt"}`,
		`{"path":"big.bin"}`,
		`{"path":"sub"}`,
		`{"path":"../x"}`,
		`not json`,
	} {
		if _, err := readFile(root)(context.Background(), args); err == nil {
			t.Errorf("read_file(%s) succeeded, want error", args)
		}
	}
}

func TestWriteFileCancelled(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := writeFile(root)(ctx, `{"path":"a.txt","content":"x"}`); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(err) {
		t.Errorf("file was written despite cancellation: %v", err)
	}
}

func TestListFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	for _, p := range []string{"b.txt", "a/one.md", "a/two.md"} {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(p), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := listFiles(root)(context.Background(), "")
	if err != nil {
		t.Fatalf("list_files: %v", err)
	}
	var lr listResult
	if err := json.Unmarshal([]byte(out), &lr); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if want := []string{"a/one.md", "a/two.md", "b.txt"}; !slices.Equal(lr.Files, want) {
		t.Errorf("Files = %v, want %v", lr.Files, want)
	}

	out, err = listFiles(root)(context.Background(), `{"dir":"a"}`)
	if err != nil {
		t.Fatalf("list_files dir=a: %v", err)
	}
	lr = listResult{}
	_ = json.Unmarshal([]byte(out), &lr)
	if len(lr.Files) != 2 {
		t.Errorf("Files = %v, want 2 entries", lr.Files)
	}
}

func TestNewTools(t *testing.T) {
	t.Parallel()
	got := NewTools(t.TempDir())
	var names []string
	for _, tool := range got {
		if tool.Handler == nil {
			t.Errorf("tool %q has nil handler", tool.Definition.Name)
		}
		if tool.Definition.Parameters["type"] != "object" {
			t.Errorf("tool %q schema type = %v", tool.Definition.Name, tool.Definition.Parameters["type"])
		}
		names = append(names, tool.Definition.Name)
	}
	if want := []string{"write_file", "read_file", "list_files"}; !slices.Equal(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}
