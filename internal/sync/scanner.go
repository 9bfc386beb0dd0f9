package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
)

// Scanner walks a tree root and produces a Snapshot. Unreadable paths are
// recorded as failed entries and flip Snapshot.Partial instead of aborting
// the scan; only an unreadable root is fatal.
type Scanner struct {
	root    string
	exclude *ExcludeList
	policy  SymlinkPolicy
}

func NewScanner(root string, exclude *ExcludeList, policy SymlinkPolicy) *Scanner {
	return &Scanner{
		root:    root,
		exclude: exclude,
		policy:  policy,
	}
}

// Scan walks the root and returns its snapshot. Content hashes are not
// computed here; the diff engine requests them lazily.
func (s *Scanner) Scan(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot(s.root)

	// visited real paths guard against symlink loops when following links
	visited := make(map[string]struct{})
	if real, err := filepath.EvalSymlinks(s.root); err == nil {
		visited[real] = struct{}{}
	}

	if err := s.walk(ctx, s.root, "", snap, visited); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Scanner) walk(ctx context.Context, absDir, relDir string, snap *Snapshot, visited map[string]struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dirents, err := os.ReadDir(absDir)
	if err != nil {
		if relDir == "" {
			return fmt.Errorf("read root %q: %w", absDir, err)
		}
		slog.Warn("scan: unreadable directory", "path", absDir, "error", err)
		snap.Entries[relDir] = failedEntry(relDir, KindDir, err)
		snap.Partial = true
		return nil
	}

	for _, d := range dirents {
		rel := d.Name()
		if relDir != "" {
			rel = path.Join(relDir, d.Name())
		}
		if s.exclude.Match(rel, d.IsDir()) {
			continue
		}

		abs := filepath.Join(absDir, d.Name())
		info, err := d.Info()
		if err != nil {
			slog.Warn("scan: stat failed", "path", abs, "error", err)
			snap.Entries[rel] = failedEntry(rel, KindFile, err)
			snap.Partial = true
			continue
		}

		mode := info.Mode()
		switch {
		case mode&fs.ModeSymlink != 0:
			s.scanSymlink(ctx, abs, rel, info, snap, visited)

		case d.IsDir():
			snap.Entries[rel] = &Entry{
				Path:    rel,
				Kind:    KindDir,
				Mode:    mode.Perm(),
				ModTime: info.ModTime(),
			}
			if err := s.walk(ctx, abs, rel, snap, visited); err != nil {
				return err
			}

		case mode.IsRegular():
			snap.Entries[rel] = &Entry{
				Path:    rel,
				Kind:    KindFile,
				Size:    info.Size(),
				Mode:    mode.Perm(),
				ModTime: info.ModTime(),
			}

		default:
			// sockets, devices, fifos
			slog.Debug("scan: skipping special file", "path", abs, "mode", mode)
		}
	}

	return nil
}

func (s *Scanner) scanSymlink(ctx context.Context, abs, rel string, info fs.FileInfo, snap *Snapshot, visited map[string]struct{}) {
	switch s.policy {
	case SymlinkSkip:
		slog.Warn("scan: skipping symlink", "path", abs)

	case SymlinkCopy:
		target, err := os.Readlink(abs)
		if err != nil {
			snap.Entries[rel] = failedEntry(rel, KindSymlink, err)
			snap.Partial = true
			return
		}
		snap.Entries[rel] = &Entry{
			Path:       rel,
			Kind:       KindSymlink,
			Mode:       info.Mode().Perm(),
			ModTime:    info.ModTime(),
			LinkTarget: target,
		}

	case SymlinkFollow:
		ti, err := os.Stat(abs)
		if err != nil {
			snap.Entries[rel] = failedEntry(rel, KindSymlink, err)
			snap.Partial = true
			return
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			snap.Entries[rel] = failedEntry(rel, KindSymlink, err)
			snap.Partial = true
			return
		}
		if _, seen := visited[real]; seen {
			slog.Warn("scan: symlink cycle", "path", abs, "resolves", real)
			snap.Entries[rel] = failedEntry(rel, KindSymlink, fmt.Errorf("symlink cycle via %q", real))
			return
		}
		visited[real] = struct{}{}

		if ti.IsDir() {
			snap.Entries[rel] = &Entry{
				Path:    rel,
				Kind:    KindDir,
				Mode:    ti.Mode().Perm(),
				ModTime: ti.ModTime(),
			}
			if err := s.walk(ctx, abs, rel, snap, visited); err != nil {
				slog.Warn("scan: follow symlink dir", "path", abs, "error", err)
				snap.Partial = true
			}
			return
		}
		snap.Entries[rel] = &Entry{
			Path:    rel,
			Kind:    KindFile,
			Size:    ti.Size(),
			Mode:    ti.Mode().Perm(),
			ModTime: ti.ModTime(),
		}
	}
}

func failedEntry(rel string, kind EntryKind, err error) *Entry {
	return &Entry{Path: rel, Kind: kind, ScanErr: err.Error()}
}
