package sync

import (
	"testing"

	"github.com/biswanathroul/filesync-guardian/internal/manifest"
	"github.com/stretchr/testify/assert"
)

func TestExcludeDefaults(t *testing.T) {
	x := NewExcludeList(nil)

	assert.True(t, x.Match(manifest.DirName, true))
	assert.True(t, x.Match(IgnoreFileName, false))
	assert.True(t, x.Match("docs/report.pdf"+tmpFileMarker+"1234", false))
	assert.True(t, x.Match(".DS_Store", false))
	assert.True(t, x.Match("photos/.DS_Store", false))
	assert.False(t, x.Match("docs/report.pdf", false))
	// the sidecar rule is directory-only
	assert.False(t, x.Match(manifest.DirName, false))
}

func TestExcludePatterns(t *testing.T) {
	x := NewExcludeList([]string{"*.log", "build/**"})

	assert.True(t, x.Match("app.log", false))
	assert.True(t, x.Match("build/out/a.o", false))
	assert.False(t, x.Match("src/app.go", false))
	assert.False(t, x.Match("logs/app.txt", false))
}

func TestExcludeIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, IgnoreFileName, "secrets/\n*.bak\n")

	x := NewExcludeList(nil)
	x.LoadIgnoreFile(root)

	assert.True(t, x.Match("secrets", true))
	assert.True(t, x.Match("old.bak", false))
	assert.True(t, x.Match("deep/old.bak", false))
	// defaults survive the merge
	assert.True(t, x.Match(manifest.DirName, true))
	assert.False(t, x.Match("kept.txt", false))
}

func TestExcludeMissingIgnoreFile(t *testing.T) {
	x := NewExcludeList(nil)
	x.LoadIgnoreFile(t.TempDir())
	assert.False(t, x.Match("anything.txt", false))
}
