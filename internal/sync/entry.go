package sync

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/biswanathroul/filesync-guardian/internal/utils"
)

type EntryKind string

const (
	KindFile    EntryKind = "file"
	KindDir     EntryKind = "dir"
	KindSymlink EntryKind = "symlink"
)

// Entry describes one filesystem object relative to its tree root.
// Hash is filled lazily by the diff engine; entries the scanner could not
// read carry a non-empty ScanErr and no metadata beyond Path and Kind.
type Entry struct {
	Path       string // slash-normalized, relative to the tree root
	Kind       EntryKind
	Size       int64
	Mode       fs.FileMode
	ModTime    time.Time
	Hash       string // hex sha256, empty until computed
	LinkTarget string // symlink entries only
	ScanErr    string
}

func (e *Entry) IsFile() bool {
	return e.Kind == KindFile
}

func (e *Entry) IsDir() bool {
	return e.Kind == KindDir
}

func (e *Entry) Depth() int {
	return utils.PathDepth(e.Path)
}

// sameFastPath reports whether two entries are presumed content-equal
// without hashing: same kind, size and modification time.
func sameFastPath(a, b *Entry) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Kind == b.Kind &&
		a.Size == b.Size &&
		a.ModTime.Equal(b.ModTime)
}

// Snapshot is an immutable view of one tree at one point in time.
// Partial is set when any subtree was unreadable; a partial source
// snapshot must never imply deletions.
type Snapshot struct {
	Root    string
	TakenAt time.Time
	Entries map[string]*Entry
	Partial bool
}

func NewSnapshot(root string) *Snapshot {
	return &Snapshot{
		Root:    root,
		TakenAt: time.Now(),
		Entries: make(map[string]*Entry),
	}
}

// Get looks up an entry by relative path. Keys are slash-separated, so
// OS-flavored or unclean caller paths are normalized first.
func (s *Snapshot) Get(path string) (*Entry, bool) {
	e, ok := s.Entries[utils.NormPath(path)]
	return e, ok
}

func (s *Snapshot) Len() int {
	return len(s.Entries)
}

// absJoin resolves a normalized relative path against a tree root.
func absJoin(root, relPath string) string {
	return filepath.Join(root, filepath.FromSlash(relPath))
}
