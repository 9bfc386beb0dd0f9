package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeFile creates rel under root with content, creating parents. When a
// mtime is given the file's timestamp is pinned for deterministic diffs.
func writeFile(t *testing.T, root, rel, content string, mtime ...time.Time) string {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	if len(mtime) > 0 {
		require.NoError(t, os.Chtimes(abs, mtime[0], mtime[0]))
	}
	return abs
}

func symlinkAt(root, rel, target string) error {
	return os.Symlink(target, filepath.Join(root, filepath.FromSlash(rel)))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func scanTree(t *testing.T, root string, policy SymlinkPolicy) *Snapshot {
	t.Helper()
	snap, err := NewScanner(root, NewExcludeList(nil), policy).Scan(context.Background())
	require.NoError(t, err)
	return snap
}

// validConfig returns a validated config over two fresh temp roots.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := NewConfig(t.TempDir(), t.TempDir())
	require.NoError(t, cfg.Validate())
	return cfg
}

func changeKinds(cs *ChangeSet) []ChangeKind {
	kinds := make([]ChangeKind, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}

func changePaths(cs *ChangeSet) []string {
	paths := make([]string, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		paths = append(paths, c.Path)
	}
	return paths
}
