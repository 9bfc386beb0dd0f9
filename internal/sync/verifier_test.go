package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyMatches(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "good.txt", "hello world")

	applied := []*appliedChange{{
		change: &Change{Kind: ChangeAdd, Path: "good.txt", Source: &Entry{Path: "good.txt", Kind: KindFile}},
		hash:   helloHash,
	}}

	failures := NewVerifier(root, 1.0).Verify(context.Background(), applied)
	assert.Empty(t, failures)
}

func TestVerifyDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bad.txt", "corrupted after copy")

	applied := []*appliedChange{{
		change: &Change{Kind: ChangeAdd, Path: "bad.txt", Source: &Entry{Path: "bad.txt", Kind: KindFile, Hash: helloHash}},
	}}

	failures := NewVerifier(root, 1.0).Verify(context.Background(), applied)
	require.Len(t, failures, 1)
	assert.Equal(t, "bad.txt", failures[0].Path)
	assert.Equal(t, ErrKindChecksumMismatch, failures[0].Kind)
}

func TestVerifyMissingFile(t *testing.T) {
	root := t.TempDir()

	applied := []*appliedChange{{
		change: &Change{Kind: ChangeAdd, Path: "gone.txt", Source: &Entry{Path: "gone.txt", Kind: KindFile}},
		hash:   helloHash,
	}}

	failures := NewVerifier(root, 1.0).Verify(context.Background(), applied)
	require.Len(t, failures, 1)
	assert.Equal(t, ErrKindPathNotFound, failures[0].Kind)
}

func TestVerifySkipsUnhashed(t *testing.T) {
	applied := []*appliedChange{{
		change: &Change{Kind: ChangeAdd, Path: "link", Source: &Entry{Path: "link", Kind: KindSymlink, LinkTarget: "x"}},
	}}

	failures := NewVerifier(t.TempDir(), 1.0).Verify(context.Background(), applied)
	assert.Empty(t, failures)
}
