package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/biswanathroul/filesync-guardian/internal/manifest"
	"github.com/biswanathroul/filesync-guardian/internal/utils"
	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is an optional gitignore-style file at the source root.
const IgnoreFileName = ".fsgignore"

var defaultIgnoreLines = []string{
	// own state
	manifest.DirName + "/",
	IgnoreFileName,
	// partials left behind by a crashed copy
	"*" + tmpFileMarker + "*",
	// OS noise
	".DS_Store",
	"Thumbs.db",
}

// ExcludeList combines the configured glob patterns with gitignore-style
// rules (built-in defaults plus an optional ignore file at the tree root).
type ExcludeList struct {
	patterns []string
	ignore   *gitignore.GitIgnore
}

func NewExcludeList(patterns []string) *ExcludeList {
	return &ExcludeList{
		patterns: patterns,
		ignore:   gitignore.CompileIgnoreLines(defaultIgnoreLines...),
	}
}

// LoadIgnoreFile merges the rules of baseDir/.fsgignore, if present, into
// the list. Unreadable files are logged and skipped.
func (x *ExcludeList) LoadIgnoreFile(baseDir string) {
	ignorePath := filepath.Join(baseDir, IgnoreFileName)
	if !utils.FileExists(ignorePath) {
		return
	}

	file, err := os.Open(ignorePath)
	if err != nil {
		slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		return
	}
	defer file.Close()

	lines := append([]string{}, defaultIgnoreLines...)
	rules := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
			rules++
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
		return
	}

	x.ignore = gitignore.CompileIgnoreLines(lines...)
	slog.Info("loaded ignore file", "path", ignorePath, "rules", rules)
}

// Match reports whether the normalized relative path is excluded.
// Directory-only ignore rules ("name/") require isDir.
func (x *ExcludeList) Match(relPath string, isDir bool) bool {
	ignorePath := relPath
	if isDir {
		ignorePath += "/"
	}
	if x.ignore.MatchesPath(ignorePath) {
		return true
	}
	for _, pattern := range x.patterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}
