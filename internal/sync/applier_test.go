package sync

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/biswanathroul/filesync-guardian/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// applyTrees diffs the configured roots and applies the result.
func applyTrees(t *testing.T, cfg *Config) (*applyOutcome, *liveCounts) {
	t.Helper()
	src := scanTree(t, cfg.SourcePath, cfg.SymlinkPolicy)
	dst := scanTree(t, cfg.TargetPath, SymlinkCopy)
	cs := diff(t, cfg, src, dst, nil)

	counts := &liveCounts{}
	var stop atomic.Bool
	outcome := NewApplier(cfg, nil, counts, &stop).Apply(context.Background(), cs)
	return outcome, counts
}

func TestCopyFileAtomic(t *testing.T) {
	root := t.TempDir()
	mtime := time.Now().Add(-time.Hour)
	srcAbs := writeFile(t, root, "src.txt", "hello world", mtime)
	require.NoError(t, os.Chmod(srcAbs, 0o640))
	dstAbs := filepath.Join(root, "out", "dst.txt")

	meta := &Entry{Path: "dst.txt", Kind: KindFile, Size: 11, Mode: 0o640, ModTime: mtime}
	hash, err := copyFileAtomic(srcAbs, dstAbs, meta)
	require.NoError(t, err)
	assert.Equal(t, helloHash, hash)

	data, err := os.ReadFile(dstAbs)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	info, err := os.Stat(dstAbs)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.WithinDuration(t, mtime, info.ModTime(), time.Second)

	// no temp siblings left behind
	leftovers, err := filepath.Glob(filepath.Join(root, "out", "*"+tmpFileMarker+"*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestCopyFileAtomicMissingSource(t *testing.T) {
	root := t.TempDir()
	_, err := copyFileAtomic(filepath.Join(root, "missing"), filepath.Join(root, "dst"), &Entry{Kind: KindFile})
	require.Error(t, err)

	leftovers, err := filepath.Glob(filepath.Join(root, "*"+tmpFileMarker+"*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestApplyInitialTree(t *testing.T) {
	cfg := validConfig(t)
	writeFile(t, cfg.SourcePath, "a.txt", "alpha")
	writeFile(t, cfg.SourcePath, "sub/nested/c.txt", "gamma")

	outcome, counts := applyTrees(t, cfg)

	assert.Empty(t, outcome.failures)
	assert.False(t, outcome.stopped)
	assert.Len(t, outcome.appliedFiles, 2)
	assert.Len(t, outcome.appliedDirs, 2)
	assert.Equal(t, int64(2), counts.added.Load())

	assert.Equal(t, "alpha", readFile(t, cfg.TargetPath, "a.txt"))
	assert.Equal(t, "gamma", readFile(t, cfg.TargetPath, "sub/nested/c.txt"))
}

func TestApplyRemovesOrphans(t *testing.T) {
	cfg := validConfig(t)
	writeFile(t, cfg.SourcePath, "keep.txt", "x")
	writeFile(t, cfg.TargetPath, "keep.txt", "x")
	writeFile(t, cfg.TargetPath, "old/deep/gone.txt", "x")

	outcome, counts := applyTrees(t, cfg)

	assert.Empty(t, outcome.failures)
	assert.Equal(t, int64(1), counts.removed.Load())
	assert.NoDirExists(t, filepath.Join(cfg.TargetPath, "old"))
	assert.FileExists(t, filepath.Join(cfg.TargetPath, "keep.txt"))
}

func TestApplyTypeChanges(t *testing.T) {
	t.Run("dir becomes file", func(t *testing.T) {
		cfg := validConfig(t)
		writeFile(t, cfg.SourcePath, "x", "now a file")
		writeFile(t, cfg.TargetPath, "x/inner.txt", "x")

		outcome, _ := applyTrees(t, cfg)

		assert.Empty(t, outcome.failures)
		assert.Equal(t, "now a file", readFile(t, cfg.TargetPath, "x"))
	})

	t.Run("file becomes dir", func(t *testing.T) {
		cfg := validConfig(t)
		writeFile(t, cfg.SourcePath, "x/inner.txt", "inside")
		writeFile(t, cfg.TargetPath, "x", "was a file")

		outcome, _ := applyTrees(t, cfg)

		assert.Empty(t, outcome.failures)
		assert.Equal(t, "inside", readFile(t, cfg.TargetPath, "x/inner.txt"))
	})
}

func TestApplyRenameCopiesLocally(t *testing.T) {
	cfg := validConfig(t)
	mtime := time.Now().Add(-time.Hour)
	writeFile(t, cfg.TargetPath, "original.txt", "stable content", mtime)

	counts := &liveCounts{}
	var stop atomic.Bool
	cs := &ChangeSet{Changes: []*Change{
		{
			Kind:        ChangeAdd,
			Path:        "renamed.txt",
			Source:      &Entry{Path: "renamed.txt", Kind: KindFile, Size: 14, Mode: 0o644, ModTime: mtime},
			RenamedFrom: "original.txt",
		},
		{
			Kind:   ChangeRemove,
			Path:   "original.txt",
			Target: &Entry{Path: "original.txt", Kind: KindFile},
		},
	}}

	outcome := NewApplier(cfg, nil, counts, &stop).Apply(context.Background(), cs)

	assert.Empty(t, outcome.failures)
	assert.Equal(t, "stable content", readFile(t, cfg.TargetPath, "renamed.txt"))
	assert.NoFileExists(t, filepath.Join(cfg.TargetPath, "original.txt"))
}

func TestApplySymlinks(t *testing.T) {
	cfg := validConfig(t)
	cfg.SymlinkPolicy = SymlinkCopy
	writeFile(t, cfg.SourcePath, "real.txt", "x")
	require.NoError(t, symlinkAt(cfg.SourcePath, "link", "real.txt"))

	outcome, _ := applyTrees(t, cfg)

	assert.Empty(t, outcome.failures)
	target, err := os.Readlink(filepath.Join(cfg.TargetPath, "link"))
	require.NoError(t, err)
	assert.Equal(t, "real.txt", target)
}

func TestApplyFailureIsIsolated(t *testing.T) {
	cfg := validConfig(t)

	counts := &liveCounts{}
	var stop atomic.Bool
	cs := &ChangeSet{Changes: []*Change{
		{
			Kind:   ChangeAdd,
			Path:   "ghost.txt",
			Source: &Entry{Path: "ghost.txt", Kind: KindFile, Mode: 0o644, ModTime: time.Now()},
		},
		{
			Kind:   ChangeAdd,
			Path:   "ok.txt",
			Source: &Entry{Path: "ok.txt", Kind: KindFile, Size: 2, Mode: 0o644, ModTime: time.Now()},
		},
	}}
	writeFile(t, cfg.SourcePath, "ok.txt", "ok")

	outcome := NewApplier(cfg, nil, counts, &stop).Apply(context.Background(), cs)

	require.Len(t, outcome.failures, 1)
	assert.Equal(t, "ghost.txt", outcome.failures[0].Path)
	assert.Equal(t, ErrKindPathNotFound, outcome.failures[0].Kind)
	assert.Equal(t, int64(1), counts.failed.Load())
	assert.Equal(t, "ok", readFile(t, cfg.TargetPath, "ok.txt"))
}

func TestApplyCheckpointsProgress(t *testing.T) {
	cfg := validConfig(t)
	writeFile(t, cfg.SourcePath, "a.txt", "hello world")

	store := manifest.NewStore(cfg.TargetPath)
	require.NoError(t, store.Open())
	defer store.Close()
	require.NoError(t, store.Begin("run-x"))

	src := scanTree(t, cfg.SourcePath, SymlinkSkip)
	dst := scanTree(t, cfg.TargetPath, SymlinkCopy)
	cs := diff(t, cfg, src, dst, nil)

	counts := &liveCounts{}
	var stop atomic.Bool
	outcome := NewApplier(cfg, store, counts, &stop).Apply(context.Background(), cs)
	require.Empty(t, outcome.failures)

	// applied writes are durable before any commit
	m, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.False(t, m.Completed)
	require.Contains(t, m.Entries, "a.txt")
	assert.Equal(t, helloHash, m.Entries["a.txt"].Hash)
}

func TestApplyStopBeforeDispatch(t *testing.T) {
	cfg := validConfig(t)
	writeFile(t, cfg.SourcePath, "a.txt", "x")

	src := scanTree(t, cfg.SourcePath, SymlinkSkip)
	dst := scanTree(t, cfg.TargetPath, SymlinkCopy)
	cs := diff(t, cfg, src, dst, nil)

	counts := &liveCounts{}
	var stop atomic.Bool
	stop.Store(true)
	outcome := NewApplier(cfg, nil, counts, &stop).Apply(context.Background(), cs)

	assert.True(t, outcome.stopped)
	assert.Empty(t, outcome.appliedFiles)
	assert.NoFileExists(t, filepath.Join(cfg.TargetPath, "a.txt"))
}
