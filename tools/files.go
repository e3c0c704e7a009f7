package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lexcodex/agentcore/framework"
)

// fileTool carries the sandbox every file tool resolves paths against.
type fileTool struct {
	Sandbox *framework.Sandbox
}

func (fileTool) Category() string { return "file" }

// resolve maps a path argument into the sandbox. Escapes are returned as
// errors so they never reach the filesystem.
func (t fileTool) resolve(args map[string]interface{}, key string) (string, error) {
	if t.Sandbox == nil {
		return "", fmt.Errorf("%w: sandbox not configured", framework.ErrInvalidArgument)
	}
	raw, _ := args[key].(string)
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: %s must not be empty", framework.ErrInvalidArgument, key)
	}
	return t.Sandbox.Resolve(raw)
}

func pathParam(desc string) framework.ToolParameter {
	return framework.ToolParameter{Name: "path", Type: "string", Required: true, Description: desc}
}

// writeFile creates parent directories and writes content.
func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// CreateFileTool creates a new file, refusing to clobber an existing one
// unless AllowOverwrite is set.
type CreateFileTool struct {
	fileTool
	AllowOverwrite bool
}

// NewCreateFileTool builds file_create.
func NewCreateFileTool(sb *framework.Sandbox, allowOverwrite bool) *CreateFileTool {
	return &CreateFileTool{fileTool: fileTool{Sandbox: sb}, AllowOverwrite: allowOverwrite}
}

func (t *CreateFileTool) Name() string { return "file_create" }
func (t *CreateFileTool) Description() string {
	return "Creates a new file inside the workspace with the given content."
}
func (t *CreateFileTool) Effect() framework.Effect { return framework.EffectMutating }
func (t *CreateFileTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{
		pathParam("File path relative to the workspace."),
		{Name: "content", Type: "string", Required: false, Default: "", Description: "File content."},
	}
}
func (t *CreateFileTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	path, err := t.resolve(args, "path")
	if err != nil {
		return nil, err
	}
	content, _ := args["content"].(string)
	rel := t.Sandbox.Rel(path)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() || !t.AllowOverwrite {
			return framework.FailureResult(fmt.Errorf("%w: %s", framework.ErrAlreadyExists, rel), map[string]interface{}{"path": rel}), nil
		}
	}
	if err := writeFile(path, content); err != nil {
		return nil, err
	}
	return framework.NewToolResult(content, map[string]interface{}{
		"path":  rel,
		"bytes": len(content),
	}), nil
}

// ReadFileTool reads a file from the workspace.
type ReadFileTool struct {
	fileTool
}

// NewReadFileTool builds file_read.
func NewReadFileTool(sb *framework.Sandbox) *ReadFileTool {
	return &ReadFileTool{fileTool: fileTool{Sandbox: sb}}
}

func (t *ReadFileTool) Name() string             { return "file_read" }
func (t *ReadFileTool) Description() string      { return "Reads a file from the workspace." }
func (t *ReadFileTool) Effect() framework.Effect { return framework.EffectReadOnly }
func (t *ReadFileTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{pathParam("File path relative to the workspace.")}
}
func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	path, err := t.resolve(args, "path")
	if err != nil {
		return nil, err
	}
	rel := t.Sandbox.Rel(path)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return framework.FailureResult(fmt.Errorf("%w: %s", framework.ErrNotFound, rel), map[string]interface{}{"path": rel}), nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", framework.ErrInvalidArgument, rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return framework.NewToolResult(string(data), map[string]interface{}{
		"path": rel,
		"size": info.Size(),
	}), nil
}

// WriteFileTool writes content to a file, replacing any previous content.
type WriteFileTool struct {
	fileTool
}

// NewWriteFileTool builds file_write.
func NewWriteFileTool(sb *framework.Sandbox) *WriteFileTool {
	return &WriteFileTool{fileTool: fileTool{Sandbox: sb}}
}

func (t *WriteFileTool) Name() string { return "file_write" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, creating or overwriting it."
}
func (t *WriteFileTool) Effect() framework.Effect { return framework.EffectMutating }
func (t *WriteFileTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{
		pathParam("File path relative to the workspace."),
		{Name: "content", Type: "string", Required: true, Description: "File content."},
	}
}
func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	path, err := t.resolve(args, "path")
	if err != nil {
		return nil, err
	}
	content, _ := args["content"].(string)
	rel := t.Sandbox.Rel(path)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return framework.FailureResult(fmt.Errorf("%w: %s is a directory", framework.ErrAlreadyExists, rel), map[string]interface{}{"path": rel}), nil
	}
	if err := writeFile(path, content); err != nil {
		return nil, err
	}
	return framework.NewToolResult(content, map[string]interface{}{
		"path":  rel,
		"bytes": len(content),
	}), nil
}

// ListFilesTool lists directory entries.
type ListFilesTool struct {
	fileTool
}

// NewListFilesTool builds file_list.
func NewListFilesTool(sb *framework.Sandbox) *ListFilesTool {
	return &ListFilesTool{fileTool: fileTool{Sandbox: sb}}
}

func (t *ListFilesTool) Name() string { return "file_list" }
func (t *ListFilesTool) Description() string {
	return "Lists entries of a workspace directory. Directories end with '/'."
}
func (t *ListFilesTool) Effect() framework.Effect { return framework.EffectReadOnly }
func (t *ListFilesTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{
		{Name: "path", Type: "string", Required: false, Default: ".", Description: "Directory relative to the workspace."},
		{Name: "recursive", Type: "boolean", Required: false, Default: false, Description: "Walk subdirectories."},
	}
}
func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	if _, ok := args["path"]; !ok {
		args = withDefault(args, "path", ".")
	}
	dir, err := t.resolve(args, "path")
	if err != nil {
		return nil, err
	}
	recursive, _ := args["recursive"].(bool)
	rel := t.Sandbox.Rel(dir)
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return framework.FailureResult(fmt.Errorf("%w: %s", framework.ErrNotFound, rel), map[string]interface{}{"path": rel}), nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", framework.ErrInvalidArgument, rel)
	}
	var entries []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		name, _ := filepath.Rel(dir, path)
		name = filepath.ToSlash(name)
		if d.IsDir() {
			entries = append(entries, name+"/")
			if !recursive {
				return fs.SkipDir
			}
			return nil
		}
		entries = append(entries, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	return framework.NewToolResult(strings.Join(entries, "\n"), map[string]interface{}{
		"path":    rel,
		"entries": entries,
	}), nil
}

// MkdirTool creates a directory and any missing parents.
type MkdirTool struct {
	fileTool
}

// NewMkdirTool builds file_mkdir.
func NewMkdirTool(sb *framework.Sandbox) *MkdirTool {
	return &MkdirTool{fileTool: fileTool{Sandbox: sb}}
}

func (t *MkdirTool) Name() string { return "file_mkdir" }
func (t *MkdirTool) Description() string {
	return "Creates a directory (and parents) inside the workspace. Existing directories are fine."
}
func (t *MkdirTool) Effect() framework.Effect { return framework.EffectMutating }
func (t *MkdirTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{pathParam("Directory path relative to the workspace.")}
}
func (t *MkdirTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	path, err := t.resolve(args, "path")
	if err != nil {
		return nil, err
	}
	rel := t.Sandbox.Rel(path)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return framework.FailureResult(fmt.Errorf("%w: %s is a file", framework.ErrAlreadyExists, rel), map[string]interface{}{"path": rel}), nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return framework.NewToolResult(rel, map[string]interface{}{"path": rel}), nil
}

func withDefault(args map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out[key] = value
	return out
}
