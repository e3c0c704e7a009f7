package framework

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox confines file and shell operations beneath a fixed root directory.
// Each concurrent run should own a distinct Sandbox root.
type Sandbox struct {
	root     string
	realRoot string
}

// NewSandbox prepares root (creating it when missing) and records its
// symlink-free location so later checks compare like with like.
func NewSandbox(root string) (*Sandbox, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("sandbox root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	return &Sandbox{root: filepath.Clean(abs), realRoot: filepath.Clean(real)}, nil
}

// Root returns the sandbox directory with symlinks resolved.
func (s *Sandbox) Root() string {
	return s.realRoot
}

// Resolve maps a tool-supplied path onto the host filesystem. Relative paths
// are taken from the root; absolute paths are accepted only when they already
// point inside it. Resolution normalizes ".." segments and follows symlinks of
// every existing path component, so a link pointing outside the root is
// rejected even when the lexical path looks contained.
func (s *Sandbox) Resolve(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrInvalidArgument, path)
	}
	candidate := path
	if candidate == "" {
		candidate = "."
	}
	if filepath.IsAbs(candidate) {
		candidate = filepath.Clean(candidate)
		// Allow absolute paths spelled against either the configured or the
		// resolved root.
		if within(s.root, candidate) && !within(s.realRoot, candidate) {
			rel, _ := filepath.Rel(s.root, candidate)
			candidate = filepath.Join(s.realRoot, rel)
		}
	} else {
		candidate = filepath.Join(s.realRoot, candidate)
	}
	if !within(s.realRoot, candidate) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	resolved, err := evalExisting(candidate)
	if err != nil {
		return "", err
	}
	if !within(s.realRoot, resolved) {
		return "", fmt.Errorf("%w: %s (via symlink)", ErrPathEscape, path)
	}
	return resolved, nil
}

// Rel renders a host path relative to the root for payloads and logs.
func (s *Sandbox) Rel(hostPath string) string {
	rel, err := filepath.Rel(s.realRoot, hostPath)
	if err != nil {
		return hostPath
	}
	return filepath.ToSlash(rel)
}

// evalExisting resolves symlinks on the longest existing prefix of path and
// re-appends the components that do not exist yet.
func evalExisting(path string) (string, error) {
	var missing []string
	current := path
	for {
		if _, err := os.Lstat(current); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
	real, err := filepath.EvalSymlinks(current)
	if err != nil {
		return "", err
	}
	for i := len(missing) - 1; i >= 0; i-- {
		real = filepath.Join(real, missing[i])
	}
	return real, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
