// Package workspace provides built-in tools that let the model read and write
// text files inside a single sandbox directory. Every path is resolved
// relative to that directory and anything escaping it is rejected.
//
// Three tools are exported via [NewTools]:
//   - "write_file" writes text content, creating parent directories.
//   - "read_file" returns the text content of a file.
//   - "list_files" lists the regular files below a directory.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MrWong99/toolchat/internal/mcp/tools"
	"github.com/MrWong99/toolchat/pkg/types"
)

// maxReadBytes caps the size of files returned by read_file.
const maxReadBytes = 1 << 20

// maxListEntries caps the number of paths returned by list_files.
const maxListEntries = 500

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type writeResult struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
}

type readArgs struct {
	Path string `json:"path"`
}

type readResult struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type listArgs struct {
	// Dir is relative to the sandbox root. Empty lists the root.
	Dir string `json:"dir,omitempty"`
}

type listResult struct {
	Files     []string `json:"files"`
	Truncated bool     `json:"truncated,omitempty"`
}

// resolve joins rel onto root and rejects results outside root.
func resolve(root, rel string, allowRoot bool) (string, error) {
	if rel == "" && !allowRoot {
		return "", fmt.Errorf("workspace: path must not be empty")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("workspace: path %q must be relative", rel)
	}
	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(cleanRoot, rel)
	if joined == cleanRoot {
		if allowRoot {
			return joined, nil
		}
		return "", fmt.Errorf("workspace: path %q does not name a file", rel)
	}
	if !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace: path %q escapes the sandbox", rel)
	}
	return joined, nil
}

func decode(tool, args string, v any) error {
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return fmt.Errorf("workspace: %s: parse arguments: %w", tool, err)
	}
	return nil
}

func encode(tool string, v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("workspace: %s: encode result: %w", tool, err)
	}
	return string(out), nil
}

func writeFile(root string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a writeArgs
		if err := decode("write_file", args, &a); err != nil {
			return "", err
		}
		path, err := resolve(root, a.Path, false)
		if err != nil {
			return "", err
		}
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("workspace: write_file: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("workspace: write_file: create directories: %w", err)
		}
		if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
			return "", fmt.Errorf("workspace: write_file: %w", err)
		}
		return encode("write_file", writeResult{Path: a.Path, BytesWritten: len(a.Content)})
	}
}

func readFile(root string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a readArgs
		if err := decode("read_file", args, &a); err != nil {
			return "", err
		}
		path, err := resolve(root, a.Path, false)
		if err != nil {
			return "", err
		}
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("workspace: read_file: %w", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("workspace: read_file: %w", err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("workspace: read_file: %q is a directory", a.Path)
		}
		if info.Size() > maxReadBytes {
			return "", fmt.Errorf("workspace: read_file: %q is %d bytes, limit is %d", a.Path, info.Size(), maxReadBytes)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("workspace: read_file: %w", err)
		}
		return encode("read_file", readResult{Path: a.Path, Content: string(data)})
	}
}

func listFiles(root string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a listArgs
		if err := decode("list_files", args, &a); err != nil {
			return "", err
		}
		dir, err := resolve(root, a.Dir, true)
		if err != nil {
			return "", err
		}
		res := listResult{Files: []string{}}
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if len(res.Files) == maxListEntries {
				res.Truncated = true
				return fs.SkipAll
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			res.Files = append(res.Files, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("workspace: list_files: %w", err)
		}
		slices.Sort(res.Files)
		return encode("list_files", res)
	}
}

func pathProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "File path relative to the workspace root, e.g. notes/todo.md. Must not contain '..' components.",
	}
}

// NewTools returns the workspace tool set confined to root.
// root should be an absolute path to an existing directory.
func NewTools(root string) []tools.Tool {
	return []tools.Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "write_file",
				Description: "Write text content to a file in the workspace, creating missing parent directories.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path":    pathProperty(),
						"content": map[string]any{"type": "string", "description": "Text to write."},
					},
					"required": []string{"path", "content"},
				},
			},
			Handler: writeFile(root),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "read_file",
				Description: "Read the text content of a workspace file. Files larger than 1 MiB are rejected.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"path": pathProperty()},
					"required":   []string{"path"},
				},
			},
			Handler: readFile(root),
		},
		{
			Definition: types.ToolDefinition{
				Name:        "list_files",
				Description: "List the files below a workspace directory, sorted by path.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"dir": map[string]any{
							"type":        "string",
							"description": "Directory relative to the workspace root. Omit to list everything.",
						},
					},
				},
			},
			Handler: listFiles(root),
		},
	}
}
