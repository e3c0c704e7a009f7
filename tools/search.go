package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lexcodex/agentcore/framework"
)

// maxSearchMatches caps file_search output so one call cannot flood the
// model's context.
const maxSearchMatches = 200

// SearchMatch is one matching line.
type SearchMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// SearchTool implements case-insensitive substring search over workspace files.
type SearchTool struct {
	fileTool
}

// NewSearchTool builds file_search.
func NewSearchTool(sb *framework.Sandbox) *SearchTool {
	return &SearchTool{fileTool: fileTool{Sandbox: sb}}
}

func (t *SearchTool) Name() string { return "file_search" }
func (t *SearchTool) Description() string {
	return "Searches workspace files for lines containing a substring (case-insensitive)."
}
func (t *SearchTool) Effect() framework.Effect { return framework.EffectReadOnly }
func (t *SearchTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{
		{Name: "pattern", Type: "string", Required: true, Description: "Text to look for."},
		{Name: "path", Type: "string", Required: false, Default: ".", Description: "Directory relative to the workspace."},
	}
}
func (t *SearchTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return nil, fmt.Errorf("%w: pattern must not be empty", framework.ErrInvalidArgument)
	}
	if _, ok := args["path"]; !ok {
		args = withDefault(args, "path", ".")
	}
	root, err := t.resolve(args, "path")
	if err != nil {
		return nil, err
	}
	rel := t.Sandbox.Rel(root)
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return framework.FailureResult(fmt.Errorf("%w: %s", framework.ErrNotFound, rel), map[string]interface{}{"path": rel}), nil
	}
	needle := strings.ToLower(pattern)
	var matches []SearchMatch
	truncated := false
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		found, err := searchFile(path, needle)
		if err != nil {
			return err
		}
		for _, m := range found {
			if len(matches) == maxSearchMatches {
				truncated = true
				return filepath.SkipAll
			}
			m.File = t.Sandbox.Rel(path)
			matches = append(matches, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		lines = append(lines, fmt.Sprintf("%s:%d: %s", m.File, m.Line, strings.TrimSpace(m.Content)))
	}
	return framework.NewToolResult(strings.Join(lines, "\n"), map[string]interface{}{
		"path":      rel,
		"matches":   matches,
		"truncated": truncated,
	}), nil
}

func searchFile(path, needle string) ([]SearchMatch, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var out []SearchMatch
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 1
	for scanner.Scan() {
		text := scanner.Text()
		if strings.Contains(strings.ToLower(text), needle) {
			out = append(out, SearchMatch{Line: line, Content: text})
		}
		line++
	}
	if errors.Is(scanner.Err(), bufio.ErrTooLong) {
		// minified or binary content; skip the rest of the file
		return out, nil
	}
	return out, scanner.Err()
}
