package framework

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxResolveStaysInsideRoot(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	inside, err := sb.Resolve("src/main.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.Root(), "src", "main.py"), inside)
	assert.Equal(t, "src/main.py", sb.Rel(inside))

	normalized, err := sb.Resolve("src/../README.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.Root(), "README.md"), normalized)

	abs, err := sb.Resolve(filepath.Join(sb.Root(), "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.Root(), "a.txt"), abs)

	root, err := sb.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, sb.Root(), root)
}

func TestSandboxRejectsEscapes(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	for _, path := range []string{"../x", "a/../../x", "/etc/passwd", "..", "a\x00b"} {
		_, err := sb.Resolve(path)
		require.Error(t, err, path)
		if path == "a\x00b" {
			assert.ErrorIs(t, err, ErrInvalidArgument)
			continue
		}
		assert.ErrorIs(t, err, ErrPathEscape, path)
		assert.Equal(t, CategorySandbox, CategoryOf(err))
	}
}

func TestSandboxRejectsSymlinkOut(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	outside := t.TempDir()
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.Symlink(outside, filepath.Join(sb.Root(), "link")))

	_, err = sb.Resolve("link/secret.txt")
	assert.ErrorIs(t, err, ErrPathEscape)

	require.NoError(t, os.Mkdir(filepath.Join(sb.Root(), "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(sb.Root(), "real"), filepath.Join(sb.Root(), "alias")))
	resolved, err := sb.Resolve("alias/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sb.Root(), "real", "file.txt"), resolved)
}

func TestNewSandboxCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "ws")
	sb, err := NewSandbox(root)
	require.NoError(t, err)
	info, err := os.Stat(sb.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = NewSandbox("  ")
	assert.Error(t, err)
}
