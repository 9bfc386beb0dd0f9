package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := ResolvePath("")
		assert.Error(t, err)
	})

	t.Run("relative becomes absolute", func(t *testing.T) {
		got, err := ResolvePath("some/rel/path")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(got))
	})

	t.Run("cleans dot segments", func(t *testing.T) {
		got, err := ResolvePath("/a/b/../c/./d")
		require.NoError(t, err)
		assert.Equal(t, "/a/c/d", got)
	})
}

func TestNormPath(t *testing.T) {
	assert.Equal(t, "a/b/c", NormPath("a/b/c"))
	assert.Equal(t, "a/b", NormPath("/a/b"))
	assert.Equal(t, "a/b", NormPath("a//b/"))
	assert.Equal(t, "a/b", NormPath(`a\b`))
}

func TestPathDepth(t *testing.T) {
	assert.Equal(t, 0, PathDepth(""))
	assert.Equal(t, 0, PathDepth("."))
	assert.Equal(t, 1, PathDepth("a"))
	assert.Equal(t, 3, PathDepth("a/b/c"))
}

func TestPathsOverlap(t *testing.T) {
	assert.True(t, PathsOverlap("/a/b", "/a/b"))
	assert.True(t, PathsOverlap("/a/b", "/a/b/c"))
	assert.True(t, PathsOverlap("/a/b/c", "/a/b"))
	assert.False(t, PathsOverlap("/a/b", "/a/bc"))
	assert.False(t, PathsOverlap("/a/b", "/a/c"))
}

func TestEnsureDirAndExists(t *testing.T) {
	root := t.TempDir()

	dir := filepath.Join(root, "x", "y")
	require.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))
	assert.False(t, FileExists(dir))

	// idempotent
	require.NoError(t, EnsureDir(dir))

	file := filepath.Join(dir, "z", "f.txt")
	require.NoError(t, EnsureParent(file))
	assert.True(t, DirExists(filepath.Join(dir, "z")))
	assert.False(t, FileExists(file))
}
