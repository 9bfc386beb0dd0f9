package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotGetNormalizesPath(t *testing.T) {
	snap := NewSnapshot(t.TempDir())
	snap.Entries["docs/a.txt"] = &Entry{Path: "docs/a.txt", Kind: KindFile}

	for _, key := range []string{"docs/a.txt", "./docs/a.txt", "docs//a.txt", `docs\a.txt`} {
		e, ok := snap.Get(key)
		require.True(t, ok, "lookup %q", key)
		assert.Equal(t, "docs/a.txt", e.Path)
	}

	_, ok := snap.Get("docs/missing.txt")
	assert.False(t, ok)
}
